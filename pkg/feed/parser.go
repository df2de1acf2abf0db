// Package feed delivers RPL control messages captured by border-router
// sniffers, either live over websocket or replayed from pcap files.
package feed

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
)

// Frame is one decoded capture.
type Frame struct {
	Timestamp time.Time
	Sniffer   string
	Envelope  *rpl.Envelope
}

// SnifferMessage is the top-level message of a sniffer bridge.
type SnifferMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// SnifferPacket is the payload of an rpl_packet message.
type SnifferPacket struct {
	Timestamp float64 `json:"timestamp"`
	Iface     *int    `json:"iface"`
	Packet    string  `json:"packet"` // hex encoded IPv6 packet
}

const packetMessageType = "rpl_packet"

// ParseMessage parses a sniffer websocket message into a Frame.
// Returns nil if the message carries no packet (e.g., hello, stats).
func ParseMessage(data []byte, sniffer string) (*Frame, error) {
	var msg SnifferMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	if msg.Type != packetMessageType {
		return nil, nil
	}

	var pkt SnifferPacket
	if err := json.Unmarshal(msg.Data, &pkt); err != nil {
		return nil, fmt.Errorf("unmarshal packet data: %w", err)
	}

	raw, err := hex.DecodeString(pkt.Packet)
	if err != nil {
		return nil, fmt.Errorf("decode packet hex: %w", err)
	}

	iface := rpl.IfaceUndef
	if pkt.Iface != nil {
		iface = *pkt.Iface
	}

	env, err := DecodeIPv6(raw, iface)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Timestamp: floatTime(pkt.Timestamp),
		Sniffer:   sniffer,
		Envelope:  env,
	}, nil
}

func floatTime(ts float64) time.Time {
	if ts <= 0 {
		return time.Now()
	}
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9))
}
