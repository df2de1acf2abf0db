package watchdog

import (
	"errors"
	"fmt"
	"reflect"
)

// MaxProtectors is the capacity of a ProtectorEngine.
const MaxProtectors = 8

// Protector vets the findings of the rules. It claims authority over a set
// of codes and, when it matches the identification of a cycle, edits its
// result. Implementations must be comparable, usually a pointer, so that
// Unregister can find them.
type Protector interface {
	Name() string
	// Init runs once at registration, outside of any cycle.
	Init() error
	// Handled ORs every claimed code into out.
	Handled(out *Field)
	// Matches reports whether the protector applies to id.
	Matches(id *Field) bool
	// Apply edits the result of a matching cycle.
	Apply(result *Field) error
}

// ProtectorID is the slot index of a registered protector.
type ProtectorID int

// NoProtector is the cursor that starts an iteration from the first slot.
const NoProtector ProtectorID = -1

// ProtectorEngine is a fixed-capacity table of protectors.
type ProtectorEngine struct {
	slots [MaxProtectors]Protector
}

// NewProtectorEngine returns an empty table.
func NewProtectorEngine() *ProtectorEngine { return &ProtectorEngine{} }

// Register initialises p and stores it in the first free slot.
func (e *ProtectorEngine) Register(p Protector) (ProtectorID, error) {
	if p == nil {
		return NoProtector, errors.New("watchdog: invalid protector")
	}
	if !reflect.TypeOf(p).Comparable() {
		return NoProtector, fmt.Errorf("watchdog: protector %s is not comparable", p.Name())
	}
	free := -1
	for i, s := range e.slots {
		if s == nil {
			free = i
			break
		}
	}
	if free < 0 {
		return NoProtector, ErrRegistryFull
	}
	if err := p.Init(); err != nil {
		return NoProtector, fmt.Errorf("init protector %s: %w", p.Name(), err)
	}
	e.slots[free] = p
	return ProtectorID(free), nil
}

// Unregister frees every slot holding p.
func (e *ProtectorEngine) Unregister(p Protector) {
	if p == nil || !reflect.TypeOf(p).Comparable() {
		return
	}
	for i, s := range e.slots {
		if s != nil && s == p {
			e.slots[i] = nil
		}
	}
}

// Remove frees one slot.
func (e *ProtectorEngine) Remove(id ProtectorID) {
	if id >= 0 && int(id) < len(e.slots) {
		e.slots[id] = nil
	}
}

// Reset empties the table.
func (e *ProtectorEngine) Reset() { e.slots = [MaxProtectors]Protector{} }

// Len returns the number of occupied slots.
func (e *ProtectorEngine) Len() int {
	n := 0
	for _, s := range e.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// NextMatching returns the first protector after cursor that matches id.
func (e *ProtectorEngine) NextMatching(id *Field, cursor ProtectorID) (ProtectorID, Protector, bool) {
	for i := int(cursor) + 1; i < len(e.slots); i++ {
		if p := e.slots[i]; p != nil && p.Matches(id) {
			return ProtectorID(i), p, true
		}
	}
	return NoProtector, nil, false
}
