package feed

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
)

// ErrNotRPL is returned for frames that carry no RPL control message.
var ErrNotRPL = errors.New("feed: not an RPL control message")

var decodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

// DecodeIPv6 decodes a raw IPv6 packet into an envelope.
func DecodeIPv6(data []byte, iface int) (*rpl.Envelope, error) {
	return DecodeFrame(data, layers.LayerTypeIPv6, iface)
}

// DecodeFrame decodes a captured frame whose first layer is given by first
// (a link type or layer type) into an envelope.
func DecodeFrame(data []byte, first gopacket.Decoder, iface int) (*rpl.Envelope, error) {
	packet := gopacket.NewPacket(data, first, decodeOptions)

	ipLayer := packet.Layer(layers.LayerTypeIPv6)
	if ipLayer == nil {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			return nil, fmt.Errorf("decode frame: %w", errLayer.Error())
		}
		return nil, fmt.Errorf("%w: no IPv6 layer", ErrNotRPL)
	}
	ip6 := ipLayer.(*layers.IPv6)

	icmpLayer := packet.Layer(layers.LayerTypeICMPv6)
	if icmpLayer == nil {
		return nil, fmt.Errorf("%w: next header %s", ErrNotRPL, ip6.NextHeader)
	}
	icmp := icmpLayer.(*layers.ICMPv6)
	if icmp.TypeCode.Type() != rpl.ICMPv6Type {
		return nil, fmt.Errorf("%w: ICMPv6 type %d", ErrNotRPL, icmp.TypeCode.Type())
	}

	code := rpl.Code(icmp.TypeCode.Code())
	msg, err := rpl.Decode(code, icmp.LayerPayload())
	if err != nil {
		return nil, err
	}

	src, _ := netip.AddrFromSlice(ip6.SrcIP)
	dst, _ := netip.AddrFromSlice(ip6.DstIP)
	return &rpl.Envelope{
		Source:      src,
		Destination: dst,
		Interface:   iface,
		Length:      uint16(len(icmp.LayerContents()) + len(icmp.LayerPayload())),
		Message:     msg,
	}, nil
}

// EncodeIPv6 builds a raw IPv6 packet carrying an RPL control message body.
func EncodeIPv6(src, dst netip.Addr, code rpl.Code, body []byte) ([]byte, error) {
	ip6 := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      src.AsSlice(),
		DstIP:      dst.AsSlice(),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(rpl.ICMPv6Type, uint8(code)),
	}
	if err := icmp.SetNetworkLayerForChecksum(ip6); err != nil {
		return nil, fmt.Errorf("set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ip6, icmp, gopacket.Payload(body)); err != nil {
		return nil, fmt.Errorf("serialize packet: %w", err)
	}
	return buf.Bytes(), nil
}
