package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/sirupsen/logrus"
)

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets int
	Frames  int
	Skipped int
	Invalid int
}

// ReplayFile replays the pcap file at path. See Replay.
func ReplayFile(ctx context.Context, path string, fn func(Frame) error) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("open capture: %w", err)
	}
	defer f.Close()
	return Replay(ctx, f, path, fn)
}

// Replay decodes every RPL control message of a pcap stream and hands it
// to fn in capture order. Ethernet and raw IP link types are supported.
func Replay(ctx context.Context, r io.Reader, name string, fn func(Frame) error) (ReplayStats, error) {
	var stats ReplayStats

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("read pcap header: %w", err)
	}

	linkType := reader.LinkType()
	switch linkType {
	case layers.LinkTypeEthernet, layers.LinkTypeRaw, layers.LinkTypeLinuxSLL:
	default:
		return stats, fmt.Errorf("unsupported link type %s", linkType)
	}

	log := logrus.WithFields(logrus.Fields{"component": "replay", "capture": name})
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		data, ci, err := reader.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("read packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		iface := rpl.IfaceUndef
		if ci.InterfaceIndex > 0 {
			iface = ci.InterfaceIndex
		}
		env, err := DecodeFrame(data, linkType, iface)
		if err != nil {
			if errors.Is(err, ErrNotRPL) {
				stats.Skipped++
				continue
			}
			stats.Invalid++
			log.WithError(err).WithField("packet", stats.Packets).Debug("Undecodable packet")
			continue
		}

		stats.Frames++
		if err := fn(Frame{Timestamp: ci.Timestamp, Sniffer: name, Envelope: env}); err != nil {
			return stats, err
		}
	}

	log.WithFields(logrus.Fields{
		"packets": stats.Packets,
		"frames":  stats.Frames,
		"skipped": stats.Skipped,
		"invalid": stats.Invalid,
	}).Info("Replay finished")
	return stats, nil
}
