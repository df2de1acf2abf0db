// Package rpl defines the RPL control-plane surface the watchdog observes:
// parsed control messages, the delivery envelope, read-only routing state,
// structural validation and the ICMPv6 wire codec.
package rpl

import (
	"net/netip"
)

// ICMPv6Type is the ICMPv6 type assigned to RPL control messages (RFC 6550).
const ICMPv6Type = 155

// Code is the ICMPv6 code of an RPL control message.
type Code uint8

// RPL control message codes.
const (
	CodeDIS    Code = 0x00
	CodeDIO    Code = 0x01
	CodeDAO    Code = 0x02
	CodeDAOAck Code = 0x03
	// P2P-RPL (RFC 6997)
	CodeDRO    Code = 0x04
	CodeDROAck Code = 0x05
)

func (c Code) String() string {
	switch c {
	case CodeDIS:
		return "DIS"
	case CodeDIO:
		return "DIO"
	case CodeDAO:
		return "DAO"
	case CodeDAOAck:
		return "DAO-ACK"
	case CodeDRO:
		return "DRO"
	case CodeDROAck:
		return "DRO-ACK"
	default:
		return "UNKNOWN"
	}
}

// IfaceUndef marks an unknown incoming interface.
const IfaceUndef = -1

// AllRPLNodes is the link-local all-RPL-nodes multicast group.
var AllRPLNodes = netip.MustParseAddr("ff02::1a")

// Message is a parsed RPL control message body.
type Message interface {
	Code() Code
}

// DIS is a DODAG Information Solicitation.
type DIS struct {
	Flags     uint8
	Solicited *SolicitedInfo // optional
}

// SolicitedInfo is the Solicited Information option carried by a DIS.
type SolicitedInfo struct {
	InstanceID uint8
	Version    uint8
	DODAGID    netip.Addr
	// V, I and D predicate flags: which fields must match.
	MatchVersion  bool
	MatchInstance bool
	MatchDODAG    bool
}

// DIO is a DODAG Information Object.
type DIO struct {
	InstanceID uint8
	Version    uint8
	Rank       uint16
	Grounded   bool
	MOP        uint8
	Prf        uint8
	DTSN       uint8
	Flags      uint8
	DODAGID    netip.Addr
	Config     *DODAGConfig // optional
}

// DODAGConfig is the DODAG Configuration option carried by a DIO.
type DODAGConfig struct {
	IntervalDoublings  uint8
	IntervalMin        uint8
	Redundancy         uint8
	MaxRankIncrease    uint16
	MinHopRankIncrease uint16
	OCP                uint16
	DefaultLifetime    uint8
	LifetimeUnit       uint16
}

// DAO is a Destination Advertisement Object.
type DAO struct {
	InstanceID uint8
	KFlag      bool
	DFlag      bool
	Sequence   uint8
	DODAGID    netip.Addr // valid if DFlag
	Targets    []netip.Prefix
}

// DAOAck acknowledges a DAO.
type DAOAck struct {
	InstanceID uint8
	DFlag      bool
	Sequence   uint8
	Status     uint8
	DODAGID    netip.Addr // valid if DFlag
}

// DRO is a P2P-RPL Discovery Reply Object.
type DRO struct {
	InstanceID uint8
	Version    uint8
	Flags      uint16
	Sequence   uint8
	DODAGID    netip.Addr
}

func (*DIS) Code() Code    { return CodeDIS }
func (*DIO) Code() Code    { return CodeDIO }
func (*DAO) Code() Code    { return CodeDAO }
func (*DAOAck) Code() Code { return CodeDAOAck }
func (*DRO) Code() Code    { return CodeDRO }

// Envelope carries one parsed control message together with the IPv6
// header fields the RPL engine saw it with.
type Envelope struct {
	Source      netip.Addr
	Destination netip.Addr
	Interface   int
	// Length is the IPv6 payload length (ICMPv6 header included).
	Length  uint16
	Message Message
}
