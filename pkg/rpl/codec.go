package rpl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// Control message option types.
const (
	OptPad1          byte = 0x00
	OptPadN          byte = 0x01
	OptDODAGConfig   byte = 0x04
	OptTarget        byte = 0x05
	OptTransit       byte = 0x06
	OptSolicitedInfo byte = 0x07
)

// Flag bits.
const (
	dioGroundedBit   byte = 0x80
	daoKBit          byte = 0x80
	daoDBit          byte = 0x40
	daoAckDBit       byte = 0x80
	solicitedVBit    byte = 0x80
	solicitedIBit    byte = 0x40
	solicitedDBit    byte = 0x20
	dodagConfigLen        = 14
	solicitedInfoLen      = 19
)

var (
	ErrShortMessage    = errors.New("rpl: message too short")
	ErrUnknownCode     = errors.New("rpl: unknown control message code")
	ErrMalformedOption = errors.New("rpl: malformed option")
)

// Decode parses the body of an RPL control message, i.e. the bytes that
// follow the 4-byte ICMPv6 header.
func Decode(code Code, body []byte) (Message, error) {
	switch code {
	case CodeDIS:
		return decodeDIS(body)
	case CodeDIO:
		return decodeDIO(body)
	case CodeDAO:
		return decodeDAO(body)
	case CodeDAOAck:
		return decodeDAOAck(body)
	case CodeDRO:
		return decodeDRO(body)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownCode, uint8(code))
	}
}

func decodeDIS(b []byte) (*DIS, error) {
	if len(b) < DISBaseLen {
		return nil, fmt.Errorf("DIS: %w (%d bytes)", ErrShortMessage, len(b))
	}
	dis := &DIS{Flags: b[0]}
	err := walkOptions(b[DISBaseLen:], func(typ byte, data []byte) error {
		if typ != OptSolicitedInfo {
			return nil
		}
		if len(data) < solicitedInfoLen {
			return fmt.Errorf("solicited information: %w", ErrMalformedOption)
		}
		dis.Solicited = &SolicitedInfo{
			InstanceID:    data[0],
			MatchVersion:  data[1]&solicitedVBit != 0,
			MatchInstance: data[1]&solicitedIBit != 0,
			MatchDODAG:    data[1]&solicitedDBit != 0,
			DODAGID:       addrAt(data, 2),
			Version:       data[18],
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("DIS: %w", err)
	}
	return dis, nil
}

func decodeDIO(b []byte) (*DIO, error) {
	if len(b) < DIOBaseLen {
		return nil, fmt.Errorf("DIO: %w (%d bytes)", ErrShortMessage, len(b))
	}
	dio := &DIO{
		InstanceID: b[0],
		Version:    b[1],
		Rank:       binary.BigEndian.Uint16(b[2:4]),
		Grounded:   b[4]&dioGroundedBit != 0,
		MOP:        (b[4] >> 3) & 0x07,
		Prf:        b[4] & 0x07,
		DTSN:       b[5],
		Flags:      b[6],
		DODAGID:    addrAt(b, 8),
	}
	err := walkOptions(b[DIOBaseLen:], func(typ byte, data []byte) error {
		if typ != OptDODAGConfig {
			return nil
		}
		if len(data) < dodagConfigLen {
			return fmt.Errorf("DODAG configuration: %w", ErrMalformedOption)
		}
		dio.Config = &DODAGConfig{
			IntervalDoublings:  data[1],
			IntervalMin:        data[2],
			Redundancy:         data[3],
			MaxRankIncrease:    binary.BigEndian.Uint16(data[4:6]),
			MinHopRankIncrease: binary.BigEndian.Uint16(data[6:8]),
			OCP:                binary.BigEndian.Uint16(data[8:10]),
			DefaultLifetime:    data[11],
			LifetimeUnit:       binary.BigEndian.Uint16(data[12:14]),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("DIO: %w", err)
	}
	return dio, nil
}

func decodeDAO(b []byte) (*DAO, error) {
	if len(b) < DAOBaseLen {
		return nil, fmt.Errorf("DAO: %w (%d bytes)", ErrShortMessage, len(b))
	}
	dao := &DAO{
		InstanceID: b[0],
		KFlag:      b[1]&daoKBit != 0,
		DFlag:      b[1]&daoDBit != 0,
		Sequence:   b[3],
	}
	rest := b[DAOBaseLen:]
	if dao.DFlag {
		if len(rest) < AddrLen {
			return nil, fmt.Errorf("DAO DODAG id: %w", ErrShortMessage)
		}
		dao.DODAGID = addrAt(rest, 0)
		rest = rest[AddrLen:]
	}
	err := walkOptions(rest, func(typ byte, data []byte) error {
		if typ != OptTarget {
			return nil
		}
		prefix, err := parseTarget(data)
		if err != nil {
			return err
		}
		dao.Targets = append(dao.Targets, prefix)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("DAO: %w", err)
	}
	return dao, nil
}

func decodeDAOAck(b []byte) (*DAOAck, error) {
	if len(b) < DAOAckBaseLen {
		return nil, fmt.Errorf("DAO-ACK: %w (%d bytes)", ErrShortMessage, len(b))
	}
	ack := &DAOAck{
		InstanceID: b[0],
		DFlag:      b[1]&daoAckDBit != 0,
		Sequence:   b[2],
		Status:     b[3],
	}
	if ack.DFlag {
		if len(b) < DAOAckBaseLen+AddrLen {
			return nil, fmt.Errorf("DAO-ACK DODAG id: %w", ErrShortMessage)
		}
		ack.DODAGID = addrAt(b, DAOAckBaseLen)
	}
	return ack, nil
}

func decodeDRO(b []byte) (*DRO, error) {
	if len(b) < DROBaseLen {
		return nil, fmt.Errorf("DRO: %w (%d bytes)", ErrShortMessage, len(b))
	}
	flags := binary.BigEndian.Uint16(b[2:4])
	return &DRO{
		InstanceID: b[0],
		Version:    b[1],
		Flags:      flags,
		Sequence:   uint8(flags>>12) & 0x03,
		DODAGID:    addrAt(b, 4),
	}, nil
}

// walkOptions calls fn for every option in b. Pad1 and PadN are skipped.
func walkOptions(b []byte, fn func(typ byte, data []byte) error) error {
	for i := 0; i < len(b); {
		typ := b[i]
		if typ == OptPad1 {
			i++
			continue
		}
		if i+2 > len(b) {
			return fmt.Errorf("option 0x%02x header: %w", typ, ErrMalformedOption)
		}
		n := int(b[i+1])
		if i+2+n > len(b) {
			return fmt.Errorf("option 0x%02x length %d: %w", typ, n, ErrMalformedOption)
		}
		if typ != OptPadN {
			if err := fn(typ, b[i+2:i+2+n]); err != nil {
				return err
			}
		}
		i += 2 + n
	}
	return nil
}

func parseTarget(data []byte) (netip.Prefix, error) {
	if len(data) < 2 {
		return netip.Prefix{}, fmt.Errorf("target: %w", ErrMalformedOption)
	}
	bits := int(data[1])
	if bits > 128 || len(data)-2 < (bits+7)/8 {
		return netip.Prefix{}, fmt.Errorf("target prefix /%d: %w", bits, ErrMalformedOption)
	}
	var raw [16]byte
	copy(raw[:], data[2:2+(bits+7)/8])
	return netip.PrefixFrom(netip.AddrFrom16(raw), bits).Masked(), nil
}

func addrAt(b []byte, off int) netip.Addr {
	var raw [16]byte
	copy(raw[:], b[off:off+AddrLen])
	return netip.AddrFrom16(raw)
}

// EncodeDIO serialises a DIO body (without options other than an optional
// DODAG configuration).
func EncodeDIO(dio *DIO) []byte {
	b := make([]byte, DIOBaseLen, DIOBaseLen+2+dodagConfigLen)
	b[0] = dio.InstanceID
	b[1] = dio.Version
	binary.BigEndian.PutUint16(b[2:4], dio.Rank)
	b[4] = (dio.MOP&0x07)<<3 | dio.Prf&0x07
	if dio.Grounded {
		b[4] |= dioGroundedBit
	}
	b[5] = dio.DTSN
	b[6] = dio.Flags
	putAddr(b[8:], dio.DODAGID)
	if c := dio.Config; c != nil {
		opt := make([]byte, 2+dodagConfigLen)
		opt[0], opt[1] = OptDODAGConfig, dodagConfigLen
		data := opt[2:]
		data[1], data[2], data[3] = c.IntervalDoublings, c.IntervalMin, c.Redundancy
		binary.BigEndian.PutUint16(data[4:6], c.MaxRankIncrease)
		binary.BigEndian.PutUint16(data[6:8], c.MinHopRankIncrease)
		binary.BigEndian.PutUint16(data[8:10], c.OCP)
		data[11] = c.DefaultLifetime
		binary.BigEndian.PutUint16(data[12:14], c.LifetimeUnit)
		b = append(b, opt...)
	}
	return b
}

// EncodeDIS serialises a DIS body.
func EncodeDIS(dis *DIS) []byte {
	b := []byte{dis.Flags, 0}
	if s := dis.Solicited; s != nil {
		opt := make([]byte, 2+solicitedInfoLen)
		opt[0], opt[1] = OptSolicitedInfo, solicitedInfoLen
		opt[2] = s.InstanceID
		if s.MatchVersion {
			opt[3] |= solicitedVBit
		}
		if s.MatchInstance {
			opt[3] |= solicitedIBit
		}
		if s.MatchDODAG {
			opt[3] |= solicitedDBit
		}
		putAddr(opt[4:], s.DODAGID)
		opt[20] = s.Version
		b = append(b, opt...)
	}
	return b
}

// EncodeDAO serialises a DAO body including its target options.
func EncodeDAO(dao *DAO) []byte {
	b := []byte{dao.InstanceID, 0, 0, dao.Sequence}
	if dao.KFlag {
		b[1] |= daoKBit
	}
	if dao.DFlag {
		b[1] |= daoDBit
		id := make([]byte, AddrLen)
		putAddr(id, dao.DODAGID)
		b = append(b, id...)
	}
	for _, t := range dao.Targets {
		n := (t.Bits() + 7) / 8
		raw := t.Addr().As16()
		opt := []byte{OptTarget, byte(2 + n), 0, byte(t.Bits())}
		b = append(append(b, opt...), raw[:n]...)
	}
	return b
}

// EncodeDAOAck serialises a DAO-ACK body.
func EncodeDAOAck(ack *DAOAck) []byte {
	b := []byte{ack.InstanceID, 0, ack.Sequence, ack.Status}
	if ack.DFlag {
		b[1] |= daoAckDBit
		id := make([]byte, AddrLen)
		putAddr(id, ack.DODAGID)
		b = append(b, id...)
	}
	return b
}

func putAddr(dst []byte, a netip.Addr) {
	if !a.IsValid() {
		return
	}
	raw := a.As16()
	copy(dst, raw[:])
}
