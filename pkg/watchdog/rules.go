package watchdog

import (
	"errors"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
)

// MaxRules is the capacity of a RuleEngine.
const MaxRules = 8

// ErrRegistryFull is returned when a registry has no free slot left.
var ErrRegistryFull = errors.New("watchdog: registry full")

// RuleID is the slot index of a registered rule.
type RuleID int

// NoRule is the cursor that starts an iteration from the first slot.
const NoRule RuleID = -1

// Rule raises identification bits for one message type. Build rules with
// DISRule, DIORule, DAORule, DAOACKRule or DRORule.
type Rule struct {
	Name  string
	code  rpl.Code
	apply func(c *Cycle, msg rpl.Message)
}

// Code is the message code the rule is keyed on.
func (r *Rule) Code() rpl.Code { return r.code }

// DISRule builds a rule keyed on DIS messages.
func DISRule(name string, fn func(*Cycle, *rpl.DIS)) *Rule {
	return &Rule{Name: name, code: rpl.CodeDIS, apply: func(c *Cycle, m rpl.Message) {
		if dis, ok := m.(*rpl.DIS); ok {
			fn(c, dis)
		}
	}}
}

// DIORule builds a rule keyed on DIO messages.
func DIORule(name string, fn func(*Cycle, *rpl.DIO)) *Rule {
	return &Rule{Name: name, code: rpl.CodeDIO, apply: func(c *Cycle, m rpl.Message) {
		if dio, ok := m.(*rpl.DIO); ok {
			fn(c, dio)
		}
	}}
}

// DAORule builds a rule keyed on DAO messages.
func DAORule(name string, fn func(*Cycle, *rpl.DAO)) *Rule {
	return &Rule{Name: name, code: rpl.CodeDAO, apply: func(c *Cycle, m rpl.Message) {
		if dao, ok := m.(*rpl.DAO); ok {
			fn(c, dao)
		}
	}}
}

// DAOACKRule builds a rule keyed on DAO-ACK messages.
func DAOACKRule(name string, fn func(*Cycle, *rpl.DAOAck)) *Rule {
	return &Rule{Name: name, code: rpl.CodeDAOAck, apply: func(c *Cycle, m rpl.Message) {
		if ack, ok := m.(*rpl.DAOAck); ok {
			fn(c, ack)
		}
	}}
}

// DRORule builds a rule keyed on DRO messages.
func DRORule(name string, fn func(*Cycle, *rpl.DRO)) *Rule {
	return &Rule{Name: name, code: rpl.CodeDRO, apply: func(c *Cycle, m rpl.Message) {
		if dro, ok := m.(*rpl.DRO); ok {
			fn(c, dro)
		}
	}}
}

// RuleEngine is a fixed-capacity table of rules. Slot order is evaluation
// order. It is not safe for concurrent use; register everything before the
// watchdog task starts.
type RuleEngine struct {
	slots [MaxRules]*Rule
}

// NewRuleEngine returns an empty table.
func NewRuleEngine() *RuleEngine { return &RuleEngine{} }

// Register stores r in the first free slot. The same rule registered twice
// occupies two slots.
func (e *RuleEngine) Register(r *Rule) (RuleID, error) {
	if r == nil || r.apply == nil {
		return NoRule, errors.New("watchdog: invalid rule")
	}
	for i, s := range e.slots {
		if s == nil {
			e.slots[i] = r
			return RuleID(i), nil
		}
	}
	return NoRule, ErrRegistryFull
}

// Unregister frees every slot holding r.
func (e *RuleEngine) Unregister(r *Rule) {
	for i, s := range e.slots {
		if s == r {
			e.slots[i] = nil
		}
	}
}

// Remove frees one slot.
func (e *RuleEngine) Remove(id RuleID) {
	if id >= 0 && int(id) < len(e.slots) {
		e.slots[id] = nil
	}
}

// Reset empties the table.
func (e *RuleEngine) Reset() { e.slots = [MaxRules]*Rule{} }

// Len returns the number of occupied slots.
func (e *RuleEngine) Len() int {
	n := 0
	for _, s := range e.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// NextMatching returns the first rule after cursor keyed on code.
func (e *RuleEngine) NextMatching(code rpl.Code, cursor RuleID) (RuleID, *Rule, bool) {
	for i := int(cursor) + 1; i < len(e.slots); i++ {
		if r := e.slots[i]; r != nil && r.code == code {
			return RuleID(i), r, true
		}
	}
	return NoRule, nil, false
}

// Apply runs every rule keyed on the message code, in slot order.
func (e *RuleEngine) Apply(c *Cycle, msg rpl.Message) {
	code := msg.Code()
	for id, r, ok := e.NextMatching(code, NoRule); ok; id, r, ok = e.NextMatching(code, id) {
		r.apply(c, msg)
	}
}
