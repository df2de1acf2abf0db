// Package watchdog implements the RPL watchdog core: the event catalog, the
// identification/handled/result fact store, the rule and protector
// registries, the per-message dispatcher and the single-consumer task that
// drives it.
package watchdog

import "fmt"

// Code is a security-relevant condition. Its numeric value is its bit index.
type Code uint8

// Event catalog. Order is significant: values are bit positions.
const (
	Invert Code = iota
	DIOPacket
	DISPacket
	DAOPacket
	DAOACKPacket
	HBHOption

	TrickleReset
	ParentSetPrune
	ParentAdd
	ParentDel
	PreferredParentExchange

	NodeErrorCountCreate
	NodeErrorCountUp

	RankRise
	RankLower

	DODAGVersionRaise
	RPLInstanceAdd
	RPLMyInstance

	DAOParentAdd
	DAOParentDel
	DAOParentsDrop
	DTSNRaise

	DISUnicast
	DISIsMyDODAG

	DAORouteAdd

	SendDAO
	SendDIO
	SendDIS
	SendDAOACK

	TrickleUpdateLifetimes
	TrickleCallback
	DROPacket

	// CodeCount is the catalog cardinality.
	CodeCount int = iota
)

var codeNames = [CodeCount]string{
	Invert:                  "invert",
	DIOPacket:               "dio_pkt",
	DISPacket:               "dis_pkt",
	DAOPacket:               "dao_pkt",
	DAOACKPacket:            "dao_ack_pkt",
	HBHOption:               "hbh_option",
	TrickleReset:            "trickle_reset",
	ParentSetPrune:          "parent_set_prune",
	ParentAdd:               "parent_add",
	ParentDel:               "parent_del",
	PreferredParentExchange: "preferred_parent_exchange",
	NodeErrorCountCreate:    "node_error_count_create",
	NodeErrorCountUp:        "node_error_count_up",
	RankRise:                "rank_rise",
	RankLower:               "rank_lower",
	DODAGVersionRaise:       "dodag_version_raise",
	RPLInstanceAdd:          "rpl_instance_add",
	RPLMyInstance:           "rpl_my_instance",
	DAOParentAdd:            "dao_parent_add",
	DAOParentDel:            "dao_parent_del",
	DAOParentsDrop:          "dao_parents_drop",
	DTSNRaise:               "dtsn_raise",
	DISUnicast:              "dis_unicast",
	DISIsMyDODAG:            "dis_is_my_dodag",
	DAORouteAdd:             "dao_route_add",
	SendDAO:                 "send_dao",
	SendDIO:                 "send_dio",
	SendDIS:                 "send_dis",
	SendDAOACK:              "send_dao_ack",
	TrickleUpdateLifetimes:  "trickle_update_lifetimes",
	TrickleCallback:         "trickle_callback",
	DROPacket:               "dro_pkt",
}

// Valid reports whether c belongs to the catalog.
func (c Code) Valid() bool { return int(c) < CodeCount }

func (c Code) String() string {
	if !c.Valid() {
		return fmt.Sprintf("code(%d)", uint8(c))
	}
	return codeNames[c]
}

// ParseCode looks a code up by its name.
func ParseCode(name string) (Code, error) {
	for i, n := range codeNames {
		if n == name {
			return Code(i), nil
		}
	}
	return 0, fmt.Errorf("unknown event code %q", name)
}

// Codes returns the whole catalog in index order.
func Codes() []Code {
	out := make([]Code, CodeCount)
	for i := range out {
		out[i] = Code(i)
	}
	return out
}
