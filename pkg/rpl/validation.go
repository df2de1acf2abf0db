package rpl

// Fixed part sizes of control message bodies, without options.
const (
	ICMPv6HeaderLen = 4
	DISBaseLen      = 2
	DIOBaseLen      = 24
	DAOBaseLen      = 4
	DAOAckBaseLen   = 4
	DROBaseLen      = 20
	AddrLen         = 16
)

// Validator performs the structural checks RFC 6550 mandates before a
// control message may be processed. It returns false for messages that
// must be dropped.
type Validator interface {
	Validate(env *Envelope) bool
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(env *Envelope) bool

func (f ValidatorFunc) Validate(env *Envelope) bool { return f(env) }

// DefaultValidator checks minimal lengths per message type. A DAO-ACK sent
// to a multicast destination is rejected.
type DefaultValidator struct{}

func (DefaultValidator) Validate(env *Envelope) bool {
	if env == nil || env.Message == nil {
		return false
	}
	switch m := env.Message.(type) {
	case *DIS:
		return ValidateDIS(m, env.Length)
	case *DIO:
		return ValidateDIO(m, env.Length)
	case *DAO:
		return ValidateDAO(m, env.Length)
	case *DAOAck:
		if env.Destination.IsMulticast() {
			return false
		}
		return ValidateDAOAck(m, env.Length)
	case *DRO:
		return ValidateDRO(m, env.Length)
	default:
		return false
	}
}

func ValidateDIS(dis *DIS, length uint16) bool {
	return dis != nil && length >= ICMPv6HeaderLen+DISBaseLen
}

func ValidateDIO(dio *DIO, length uint16) bool {
	return dio != nil && length >= ICMPv6HeaderLen+DIOBaseLen
}

func ValidateDAO(dao *DAO, length uint16) bool {
	if dao == nil {
		return false
	}
	expected := uint16(ICMPv6HeaderLen + DAOBaseLen)
	if dao.DFlag {
		expected += AddrLen
	}
	return length >= expected
}

func ValidateDAOAck(ack *DAOAck, length uint16) bool {
	if ack == nil {
		return false
	}
	expected := uint16(ICMPv6HeaderLen + DAOAckBaseLen)
	if ack.DFlag {
		expected += AddrLen
	}
	return length >= expected
}

func ValidateDRO(dro *DRO, length uint16) bool {
	return dro != nil && length >= ICMPv6HeaderLen+DROBaseLen
}
