// Package detector provides the built-in RPL watchdog rules and protector,
// and turns reconciled reports into findings.
package detector

import (
	"fmt"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/watchdog"
)

// Rules holds the built-in rules bound to a routing state.
type Rules struct {
	state rpl.State

	DIO    *watchdog.Rule
	DIS    *watchdog.Rule
	DAO    *watchdog.Rule
	DAOACK *watchdog.Rule
	DRO    *watchdog.Rule
}

// NewRules builds the built-in rules reading the given routing state.
func NewRules(state rpl.State) *Rules {
	r := &Rules{state: state}
	r.DIO = watchdog.DIORule("dio", r.checkDIO)
	r.DIS = watchdog.DISRule("dis", r.checkDIS)
	r.DAO = watchdog.DAORule("dao", func(c *watchdog.Cycle, _ *rpl.DAO) { c.Identify(watchdog.DAOPacket) })
	r.DAOACK = watchdog.DAOACKRule("dao-ack", func(c *watchdog.Cycle, _ *rpl.DAOAck) { c.Identify(watchdog.DAOACKPacket) })
	r.DRO = watchdog.DRORule("dro", func(c *watchdog.Cycle, _ *rpl.DRO) { c.Identify(watchdog.DROPacket) })
	return r
}

// All lists the rules in registration order.
func (r *Rules) All() []*watchdog.Rule {
	return []*watchdog.Rule{r.DIO, r.DIS, r.DAO, r.DAOACK, r.DRO}
}

// RegisterRules registers the built-in rules on engine.
func RegisterRules(engine *watchdog.RuleEngine, state rpl.State) (*Rules, error) {
	r := NewRules(state)
	for _, rule := range r.All() {
		if _, err := engine.Register(rule); err != nil {
			return nil, fmt.Errorf("register rule %s: %w", rule.Name, err)
		}
	}
	return r, nil
}

func (r *Rules) instances() []rpl.Instance {
	if r.state == nil {
		return nil
	}
	return r.state.Instances()
}

func (r *Rules) checkDIO(c *watchdog.Cycle, dio *rpl.DIO) {
	c.Identify(watchdog.DIOPacket)

	instances := r.instances()
	matched := false
	for _, inst := range instances {
		if !inst.Active() || inst.ID != dio.InstanceID {
			continue
		}
		matched = true
		c.Identify(watchdog.RPLMyInstance)

		if inst.DODAG.ID != dio.DODAGID {
			continue
		}
		checkDODAG(c, inst, dio)
	}

	if !matched {
		c.Identify(watchdog.RPLInstanceAdd)
		if !rpl.IsRoot(instances) {
			c.Identify(watchdog.DAOParentAdd)
		}
	}
}

// checkDODAG compares a DIO against the DODAG it advertises.
func checkDODAG(c *watchdog.Cycle, inst rpl.Instance, dio *rpl.DIO) {
	dodag := inst.DODAG

	if rpl.CounterGreaterThan(dio.Version, dodag.Version) {
		c.Identify(watchdog.DODAGVersionRaise)
	}

	if len(dodag.Parents) > 0 && dodag.Parents[0].Rank > dio.Rank {
		c.Identify(watchdog.RankRise)
		c.Identify(watchdog.PreferredParentExchange)
	}

	for _, p := range dodag.Parents {
		switch {
		case p.DTSN > dio.DTSN:
			c.Identify(watchdog.DTSNRaise)
		case p.DTSN < dio.DTSN:
			c.Identify(watchdog.TrickleReset)
		}
	}

	myRank := rpl.DAGRank(dodag.MyRank, inst.MinHopRankInc)
	for _, p := range dodag.Parents {
		if myRank <= rpl.DAGRank(p.Rank, inst.MinHopRankInc) {
			c.Identify(watchdog.ParentDel)
		}
	}
}

func (r *Rules) checkDIS(c *watchdog.Cycle, dis *rpl.DIS) {
	c.Identify(watchdog.DISPacket)

	if !c.Context().Destination.IsMulticast() {
		c.Identify(watchdog.DISUnicast)
	}

	if s := dis.Solicited; s != nil && solicitsMine(s, r.instances()) {
		c.Identify(watchdog.DISIsMyDODAG)
	}
}

// solicitsMine reports whether a solicited information option selects one
// of the active instances. Unset predicates match anything.
func solicitsMine(s *rpl.SolicitedInfo, instances []rpl.Instance) bool {
	for _, inst := range instances {
		if !inst.Active() {
			continue
		}
		if s.MatchInstance && s.InstanceID != inst.ID {
			continue
		}
		if s.MatchDODAG && s.DODAGID != inst.DODAG.ID {
			continue
		}
		if s.MatchVersion && s.Version != inst.DODAG.Version {
			continue
		}
		return true
	}
	return false
}
