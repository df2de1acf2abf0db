package feed

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/gorilla/websocket"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sender  = netip.MustParseAddr("fe80::2")
	dodagID = netip.MustParseAddr("2001:db8::1")
)

func testDIO() *rpl.DIO {
	return &rpl.DIO{InstanceID: 1, Version: 240, Rank: 256, DTSN: 2, DODAGID: dodagID}
}

func dioPacket(t *testing.T) []byte {
	t.Helper()
	pkt, err := EncodeIPv6(sender, rpl.AllRPLNodes, rpl.CodeDIO, rpl.EncodeDIO(testDIO()))
	require.NoError(t, err)
	return pkt
}

func echoPacket(t *testing.T) []byte {
	t.Helper()
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   64,
		SrcIP:      sender.AsSlice(),
		DstIP:      dodagID.AsSlice(),
	}
	icmp := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip6))
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ip6, icmp, gopacket.Payload([]byte{0, 1, 0, 1})))
	return buf.Bytes()
}

func TestDecodeIPv6(t *testing.T) {
	body := rpl.EncodeDIO(testDIO())
	pkt, err := EncodeIPv6(sender, rpl.AllRPLNodes, rpl.CodeDIO, body)
	require.NoError(t, err)

	env, err := DecodeIPv6(pkt, 4)
	require.NoError(t, err)
	assert.Equal(t, sender, env.Source)
	assert.Equal(t, rpl.AllRPLNodes, env.Destination)
	assert.Equal(t, 4, env.Interface)
	assert.Equal(t, uint16(rpl.ICMPv6HeaderLen+len(body)), env.Length)
	assert.Equal(t, testDIO(), env.Message)
	assert.True(t, rpl.DefaultValidator{}.Validate(env))
}

func TestDecodeIPv6_NotRPL(t *testing.T) {
	_, err := DecodeIPv6(echoPacket(t), 0)
	assert.ErrorIs(t, err, ErrNotRPL)

	_, err = DecodeIPv6([]byte{0x60, 0, 0}, 0)
	assert.Error(t, err)
}

func TestDecodeIPv6_ShortBody(t *testing.T) {
	pkt, err := EncodeIPv6(sender, rpl.AllRPLNodes, rpl.CodeDIO, []byte{1, 2, 3})
	require.NoError(t, err)

	_, err = DecodeIPv6(pkt, 0)
	assert.ErrorIs(t, err, rpl.ErrShortMessage)
}

func TestParseMessage_Packet(t *testing.T) {
	msg := []byte(fmt.Sprintf(`{
		"type": "rpl_packet",
		"data": {
			"timestamp": 1705320000.5,
			"iface": 2,
			"packet": %q
		}
	}`, hex.EncodeToString(dioPacket(t))))

	frame, err := ParseMessage(msg, "br-1")
	require.NoError(t, err)
	require.NotNil(t, frame)

	assert.Equal(t, "br-1", frame.Sniffer)
	assert.Equal(t, int64(1705320000), frame.Timestamp.Unix())
	assert.Equal(t, 2, frame.Envelope.Interface)
	assert.Equal(t, testDIO(), frame.Envelope.Message)
}

func TestParseMessage_NoInterface(t *testing.T) {
	msg := []byte(fmt.Sprintf(`{"type":"rpl_packet","data":{"packet":%q}}`, hex.EncodeToString(dioPacket(t))))

	frame, err := ParseMessage(msg, "br-1")
	require.NoError(t, err)
	assert.Equal(t, rpl.IfaceUndef, frame.Envelope.Interface)
	assert.False(t, frame.Timestamp.IsZero())
}

func TestParseMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"invalid json", `{"type":`},
		{"invalid data", `{"type":"rpl_packet","data":"nope"}`},
		{"invalid hex", `{"type":"rpl_packet","data":{"packet":"zz"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseMessage([]byte(tt.msg), "br-1")
			assert.Error(t, err)
			assert.Nil(t, frame)
		})
	}

	frame, err := ParseMessage([]byte(`{"type":"hello","data":{"version":1}}`), "br-1")
	assert.NoError(t, err)
	assert.Nil(t, frame, "non-packet messages are ignored")
}

func writeCapture(t *testing.T, packets ...[]byte) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeEthernet))

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
		DstMAC:       net.HardwareAddr{0x33, 0x33, 0, 0, 0, 0x1a},
		EthernetType: layers.EthernetTypeIPv6,
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, pkt := range packets {
		frame := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(frame, gopacket.SerializeOptions{}, eth, gopacket.Payload(pkt)))
		data := frame.Bytes()
		ci := gopacket.CaptureInfo{
			Timestamp:     start.Add(time.Duration(i) * time.Second),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return &buf
}

func TestReplay(t *testing.T) {
	disBody := rpl.EncodeDIS(&rpl.DIS{})
	dis, err := EncodeIPv6(sender, netip.MustParseAddr("fe80::1"), rpl.CodeDIS, disBody)
	require.NoError(t, err)
	broken, err := EncodeIPv6(sender, rpl.AllRPLNodes, rpl.CodeDIO, []byte{1})
	require.NoError(t, err)

	capture := writeCapture(t, dioPacket(t), echoPacket(t), dis, broken)

	var frames []Frame
	stats, err := Replay(context.Background(), capture, "test.pcap", func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, ReplayStats{Packets: 4, Frames: 2, Skipped: 1, Invalid: 1}, stats)
	require.Len(t, frames, 2)
	assert.Equal(t, rpl.CodeDIO, frames[0].Envelope.Message.Code())
	assert.Equal(t, rpl.CodeDIS, frames[1].Envelope.Message.Code())
	assert.Equal(t, "test.pcap", frames[1].Sniffer)
	assert.True(t, frames[1].Timestamp.After(frames[0].Timestamp))
}

func TestReplay_StopsOnCallbackError(t *testing.T) {
	capture := writeCapture(t, dioPacket(t), dioPacket(t))

	calls := 0
	_, err := Replay(context.Background(), capture, "test.pcap", func(Frame) error {
		calls++
		return context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestReplay_BadInput(t *testing.T) {
	_, err := Replay(context.Background(), strings.NewReader("not a pcap"), "junk", func(Frame) error { return nil })
	assert.Error(t, err)

	_, err = ReplayFile(context.Background(), "/nonexistent/capture.pcap", func(Frame) error { return nil })
	assert.Error(t, err)
}

func TestClient_StreamsFrames(t *testing.T) {
	packet := hex.EncodeToString(dioPacket(t))
	subscribed := make(chan map[string]interface{}, 1)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]interface{}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello","data":{}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"rpl_packet","data":{"packet":"00"}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"type":"rpl_packet","data":{"iface":1,"packet":%q}}`, packet)))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	frames := make(chan Frame, 4)
	c := NewClient(Sniffer{Name: "br-1", URL: "ws" + strings.TrimPrefix(srv.URL, "http"), Iface: "wpan0"}, frames)
	c.Start()
	defer c.Stop()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub["type"])
	case <-time.After(2 * time.Second):
		t.Fatal("Expected subscription, got none")
	}

	select {
	case f := <-frames:
		assert.Equal(t, "br-1", f.Sniffer)
		assert.Equal(t, testDIO(), f.Envelope.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("Expected frame, got none")
	}

	stats := c.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, uint64(1), stats.FramesDecoded)
	assert.Equal(t, uint64(3), stats.MessagesReceived)
}

func TestMultiClient_Stats(t *testing.T) {
	mc := NewMultiClient([]Sniffer{{Name: "a"}, {Name: "b"}}, 8)
	stats := mc.Stats()
	assert.False(t, stats.Running)
	assert.Len(t, stats.Sniffers, 2)
	assert.Equal(t, 8, stats.ChannelCap)
}
