package watchdog

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/sirupsen/logrus"
)

var (
	// ErrValidation means the message failed structural validation. No
	// rule ran and no report was produced.
	ErrValidation = errors.New("watchdog: validation failed")
	// ErrCycleAborted means a rule or protector failed mid-cycle.
	ErrCycleAborted = errors.New("watchdog: cycle aborted")
)

// Kind tells what started a cycle.
type Kind uint8

const (
	KindPacket Kind = iota
	KindLifetimeUpdate
	KindTrickle
)

func (k Kind) String() string {
	switch k {
	case KindPacket:
		return "packet"
	case KindLifetimeUpdate:
		return "lifetime"
	case KindTrickle:
		return "trickle"
	default:
		return "unknown"
	}
}

// PacketContext describes the message under analysis.
type PacketContext struct {
	Sender      netip.Addr
	Destination netip.Addr
	Interface   int
}

func clearedContext() PacketContext { return PacketContext{Interface: rpl.IfaceUndef} }

// Cycle is the state of one dispatcher cycle. Rules receive it to raise
// identification bits.
type Cycle struct {
	ctx            PacketContext
	identification Field
	handled        Field
	result         Field
}

// Context returns the context of the message under analysis.
func (c *Cycle) Context() PacketContext { return c.ctx }

// Identify raises code in the identification field.
func (c *Cycle) Identify(code Code) { c.identification.Set(code) }

// Identified reports whether code has been raised during this cycle.
func (c *Cycle) Identified(code Code) bool { return c.identification.Get(code) }

func (c *Cycle) reset() {
	c.identification.Reset()
	c.handled.Reset()
	c.result.Reset()
	c.ctx = clearedContext()
}

// Report is the outcome of one cycle.
type Report struct {
	Kind           Kind
	Code           rpl.Code
	Context        PacketContext
	Identification Field
	Handled        Field
	Result         Field
	At             time.Time
}

// Trickle describes a trickle timer expiry.
type Trickle struct {
	HasCallback bool
	C           uint8
	K           uint8
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithValidator replaces rpl.DefaultValidator.
func WithValidator(v rpl.Validator) DispatcherOption {
	return func(d *Dispatcher) { d.validator = v }
}

// WithKeepUnclaimed keeps identified codes no protector claims in the
// result. By default they are cleared.
func WithKeepUnclaimed() DispatcherOption {
	return func(d *Dispatcher) { d.keepUnclaimed = true }
}

// WithClock sets the time source of report timestamps.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher runs one analysis cycle per message. It owns the cycle state
// and must only be driven from one goroutine.
type Dispatcher struct {
	rules         *RuleEngine
	protectors    *ProtectorEngine
	validator     rpl.Validator
	keepUnclaimed bool
	now           func() time.Time
	log           *logrus.Entry

	cycle Cycle
}

// NewDispatcher creates a Dispatcher over the given tables. Nil tables are
// replaced by empty ones.
func NewDispatcher(rules *RuleEngine, protectors *ProtectorEngine, opts ...DispatcherOption) *Dispatcher {
	if rules == nil {
		rules = NewRuleEngine()
	}
	if protectors == nil {
		protectors = NewProtectorEngine()
	}
	d := &Dispatcher{
		rules:      rules,
		protectors: protectors,
		validator:  rpl.DefaultValidator{},
		now:        time.Now,
		log:        logrus.WithField("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cycle.reset()
	return d
}

// Dispatch analyses one control message.
func (d *Dispatcher) Dispatch(env *rpl.Envelope) (rep Report, err error) {
	defer d.finish(&rep, &err)

	if env == nil || env.Message == nil {
		return Report{}, fmt.Errorf("%w: empty envelope", ErrValidation)
	}
	d.cycle.ctx = PacketContext{
		Sender:      env.Source,
		Destination: env.Destination,
		Interface:   env.Interface,
	}
	if !d.validator.Validate(env) {
		return Report{}, fmt.Errorf("%w: %s from %s", ErrValidation, env.Message.Code(), env.Source)
	}

	d.rules.Apply(&d.cycle, env.Message)
	return d.reconcile(KindPacket, env.Message.Code())
}

// LifetimeUpdate runs a cycle for a lifetime update timer event.
func (d *Dispatcher) LifetimeUpdate() (rep Report, err error) {
	defer d.finish(&rep, &err)
	d.cycle.Identify(TrickleUpdateLifetimes)
	return d.reconcile(KindLifetimeUpdate, 0)
}

// Trickle runs a cycle for a trickle timer expiry. A callback is only
// identified when the redundancy counter allows a transmission.
func (d *Dispatcher) Trickle(t Trickle) (rep Report, err error) {
	defer d.finish(&rep, &err)
	if t.HasCallback && (t.C < t.K || t.K == 0) {
		d.cycle.Identify(TrickleCallback)
	}
	return d.reconcile(KindTrickle, 0)
}

func (d *Dispatcher) reconcile(kind Kind, code rpl.Code) (Report, error) {
	c := &d.cycle
	c.result = c.identification

	for id, p, ok := d.protectors.NextMatching(&c.identification, NoProtector); ok; id, p, ok = d.protectors.NextMatching(&c.identification, id) {
		p.Handled(&c.handled)
		if err := p.Apply(&c.result); err != nil {
			d.log.WithError(err).WithField("protector", p.Name()).Debug("Protector apply failed")
		}
	}

	if !d.keepUnclaimed {
		unclaimed := c.identification
		unclaimed.AndNot(&c.handled)
		c.result.AndNot(&unclaimed)
	}

	if d.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		d.log.WithFields(logrus.Fields{
			"kind":           kind.String(),
			"sender":         c.ctx.Sender,
			"identification": c.identification.String(),
			"handled":        c.handled.String(),
			"result":         c.result.String(),
		}).Debug("Cycle reconciled")
	}

	return Report{
		Kind:           kind,
		Code:           code,
		Context:        c.ctx,
		Identification: c.identification,
		Handled:        c.handled,
		Result:         c.result,
		At:             d.now(),
	}, nil
}

// finish recovers from a failing rule or protector and always resets the
// cycle state.
func (d *Dispatcher) finish(rep *Report, err *error) {
	if r := recover(); r != nil {
		d.log.WithField("panic", r).Warn("Cycle aborted")
		*rep = Report{}
		*err = fmt.Errorf("%w: %v", ErrCycleAborted, r)
	}
	d.cycle.reset()
}
