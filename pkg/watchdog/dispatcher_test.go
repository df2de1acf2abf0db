package watchdog

import (
	"net/netip"
	"testing"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	nodeA     = netip.MustParseAddr("fe80::a")
	nodeB     = netip.MustParseAddr("fe80::b")
	allNodes  = netip.MustParseAddr("ff02::1a")
	fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func dioEnvelope() *rpl.Envelope {
	return &rpl.Envelope{
		Source:      nodeA,
		Destination: allNodes,
		Interface:   3,
		Length:      rpl.ICMPv6HeaderLen + rpl.DIOBaseLen,
		Message:     &rpl.DIO{InstanceID: 1},
	}
}

func disEnvelope(dst netip.Addr) *rpl.Envelope {
	return &rpl.Envelope{
		Source:      nodeA,
		Destination: dst,
		Interface:   1,
		Length:      rpl.ICMPv6HeaderLen + rpl.DISBaseLen,
		Message:     &rpl.DIS{},
	}
}

func newTestDispatcher(t *testing.T, rules []*Rule, protectors []Protector, opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	re := NewRuleEngine()
	for _, r := range rules {
		_, err := re.Register(r)
		require.NoError(t, err)
	}
	pe := NewProtectorEngine()
	for _, p := range protectors {
		_, err := pe.Register(p)
		require.NoError(t, err)
	}
	opts = append([]DispatcherOption{WithClock(func() time.Time { return fixedTime })}, opts...)
	return NewDispatcher(re, pe, opts...)
}

func assertIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	for _, c := range Codes() {
		assert.False(t, d.cycle.identification.Get(c), "identification %s", c)
		assert.False(t, d.cycle.handled.Get(c), "handled %s", c)
		assert.False(t, d.cycle.result.Get(c), "result %s", c)
	}
	assert.Equal(t, PacketContext{Interface: rpl.IfaceUndef}, d.cycle.Context())
}

func TestDispatch_ResetInvariant(t *testing.T) {
	all := Codes()
	protector := &fakeProtector{name: "half", claims: FieldOf(all[:CodeCount/2]...), trigger: FieldOf(DIOPacket)}
	d := newTestDispatcher(t, []*Rule{markRule("all", all...)}, []Protector{protector})

	rep, err := d.Dispatch(dioEnvelope())
	require.NoError(t, err)
	assert.False(t, rep.Result.IsZero())
	assertIdle(t, d)

	// A second independent message sees nothing of the first.
	d2 := newTestDispatcher(t, nil, nil)
	rep, err = d2.Dispatch(disEnvelope(nodeB))
	require.NoError(t, err)
	assert.True(t, rep.Identification.IsZero())
	assertIdle(t, d2)
}

func TestDispatch_ContextVisibleToRules(t *testing.T) {
	var seen PacketContext
	rule := DIORule("ctx", func(c *Cycle, _ *rpl.DIO) { seen = c.Context() })
	d := newTestDispatcher(t, []*Rule{rule}, nil)

	rep, err := d.Dispatch(dioEnvelope())
	require.NoError(t, err)

	want := PacketContext{Sender: nodeA, Destination: allNodes, Interface: 3}
	assert.Equal(t, want, seen)
	assert.Equal(t, want, rep.Context)
	assert.Equal(t, KindPacket, rep.Kind)
	assert.Equal(t, rpl.CodeDIO, rep.Code)
	assert.Equal(t, fixedTime, rep.At)
	assertIdle(t, d)
}

func TestDispatch_ValidationFailure(t *testing.T) {
	ran := false
	rule := DIORule("never", func(c *Cycle, _ *rpl.DIO) { ran = true })
	d := newTestDispatcher(t, []*Rule{rule}, nil)

	env := dioEnvelope()
	env.Length = 10
	rep, err := d.Dispatch(env)
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, ran, "rules must not run on invalid messages")
	assert.Equal(t, Report{}, rep)
	assertIdle(t, d)

	_, err = d.Dispatch(nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDispatch_CustomValidator(t *testing.T) {
	d := newTestDispatcher(t, []*Rule{markRule("dio", DIOPacket)}, nil,
		WithValidator(rpl.ValidatorFunc(func(*rpl.Envelope) bool { return false })))

	_, err := d.Dispatch(dioEnvelope())
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDispatch_NoRulesForCode(t *testing.T) {
	d := newTestDispatcher(t, []*Rule{markRule("dio", DIOPacket)}, nil)

	rep, err := d.Dispatch(&rpl.Envelope{
		Source:  nodeA,
		Length:  rpl.ICMPv6HeaderLen + rpl.DROBaseLen,
		Message: &rpl.DRO{},
	})
	require.NoError(t, err)
	assert.True(t, rep.Identification.IsZero())
	assert.True(t, rep.Result.IsZero())
}

func TestDispatch_EmptyRegistriesUnicastDIS(t *testing.T) {
	seen := DISRule("dis", func(c *Cycle, _ *rpl.DIS) {
		c.Identify(DISPacket)
		c.Identify(DISUnicast)
	})

	// Rules alone and no protector: every finding is unclaimed.
	d := newTestDispatcher(t, []*Rule{seen}, nil)
	rep, err := d.Dispatch(disEnvelope(nodeB))
	require.NoError(t, err)
	assert.Equal(t, FieldOf(DISPacket, DISUnicast), rep.Identification)
	assert.True(t, rep.Handled.IsZero())
	assert.True(t, rep.Result.IsZero())

	// Fully empty registries.
	d = newTestDispatcher(t, nil, nil)
	rep, err = d.Dispatch(disEnvelope(nodeB))
	require.NoError(t, err)
	assert.True(t, rep.Result.IsZero())
}

func TestDispatch_ReconciliationLaw(t *testing.T) {
	// The protector claims DIOPacket only but tries to assert every code.
	everything := FieldOf(Codes()...)
	p := &fakeProtector{
		name:    "greedy",
		claims:  FieldOf(DIOPacket),
		trigger: FieldOf(DIOPacket),
		sets:    everything,
	}
	d := newTestDispatcher(t, []*Rule{markRule("dio", DIOPacket, RankRise, DTSNRaise)}, []Protector{p})

	rep, err := d.Dispatch(dioEnvelope())
	require.NoError(t, err)

	for _, c := range Codes() {
		if rep.Identification.Get(c) && !rep.Handled.Get(c) {
			assert.False(t, rep.Result.Get(c), "unclaimed %s must be cleared", c)
		}
	}
	assert.True(t, rep.Result.Get(DIOPacket))
}

func TestDispatch_UnclaimedButPositive(t *testing.T) {
	claimer := &fakeProtector{
		name:    "claimer",
		claims:  FieldOf(RankRise, DTSNRaise),
		trigger: FieldOf(DIOPacket),
	}
	d := newTestDispatcher(t, []*Rule{markRule("dio", DIOPacket, RankRise)}, []Protector{claimer})

	rep, err := d.Dispatch(dioEnvelope())
	require.NoError(t, err)
	assert.Equal(t, FieldOf(RankRise), rep.Result)
	assert.Equal(t, FieldOf(RankRise, DTSNRaise), rep.Handled)
	assert.Equal(t, 1, claimer.applies)
}

func TestDispatch_NonMatchingProtectorDoesNotClaim(t *testing.T) {
	idle := &fakeProtector{
		name:    "idle",
		claims:  FieldOf(DIOPacket),
		trigger: FieldOf(DISPacket),
	}
	d := newTestDispatcher(t, []*Rule{markRule("dio", DIOPacket)}, []Protector{idle})

	rep, err := d.Dispatch(dioEnvelope())
	require.NoError(t, err)
	assert.True(t, rep.Handled.IsZero())
	assert.True(t, rep.Result.IsZero())
	assert.Zero(t, idle.applies)
}

func TestDispatch_ProtectorIdempotence(t *testing.T) {
	build := func() *fakeProtector {
		return &fakeProtector{
			name:    "dis",
			claims:  FieldOf(DIOPacket, ParentAdd, RankRise),
			trigger: FieldOf(DIOPacket),
			clears:  FieldOf(ParentAdd),
		}
	}
	rules := []*Rule{markRule("dio", DIOPacket, ParentAdd, RankRise)}

	once := build()
	d1 := newTestDispatcher(t, rules, []Protector{once})
	rep1, err := d1.Dispatch(dioEnvelope())
	require.NoError(t, err)

	twice := build()
	d2 := newTestDispatcher(t, rules, []Protector{twice, twice})
	rep2, err := d2.Dispatch(dioEnvelope())
	require.NoError(t, err)

	assert.Equal(t, rep1.Result, rep2.Result)
	assert.Equal(t, rep1.Handled, rep2.Handled)
	assert.Equal(t, 2, twice.applies)
	assert.Equal(t, 2, twice.inits)
}

func TestDispatch_KeepUnclaimed(t *testing.T) {
	d := newTestDispatcher(t, []*Rule{markRule("dio", DIOPacket, RankRise)}, nil, WithKeepUnclaimed())

	rep, err := d.Dispatch(dioEnvelope())
	require.NoError(t, err)
	assert.Equal(t, rep.Identification, rep.Result)
	assertIdle(t, d)
}

func TestDispatch_PanicAbortsCycle(t *testing.T) {
	boom := DIORule("boom", func(c *Cycle, _ *rpl.DIO) {
		c.Identify(RankRise)
		panic("rule failure")
	})
	d := newTestDispatcher(t, []*Rule{boom}, nil)

	rep, err := d.Dispatch(dioEnvelope())
	assert.ErrorIs(t, err, ErrCycleAborted)
	assert.Equal(t, Report{}, rep)
	assertIdle(t, d)

	p := &fakeProtector{name: "boom", trigger: FieldOf(DIOPacket), panics: true}
	d = newTestDispatcher(t, []*Rule{markRule("dio", DIOPacket)}, []Protector{p})
	_, err = d.Dispatch(dioEnvelope())
	assert.ErrorIs(t, err, ErrCycleAborted)
	assertIdle(t, d)
}

func TestDispatcher_TimerEvents(t *testing.T) {
	claimAll := &fakeProtector{
		name:    "timers",
		claims:  FieldOf(TrickleUpdateLifetimes, TrickleCallback),
		trigger: FieldOf(TrickleUpdateLifetimes, TrickleCallback),
	}
	d := newTestDispatcher(t, nil, []Protector{claimAll})

	rep, err := d.LifetimeUpdate()
	require.NoError(t, err)
	assert.Equal(t, KindLifetimeUpdate, rep.Kind)
	assert.Equal(t, FieldOf(TrickleUpdateLifetimes), rep.Result)
	assertIdle(t, d)

	tests := []struct {
		name    string
		trickle Trickle
		want    bool
	}{
		{"no callback", Trickle{C: 0, K: 3}, false},
		{"below redundancy", Trickle{HasCallback: true, C: 1, K: 3}, true},
		{"redundancy reached", Trickle{HasCallback: true, C: 3, K: 3}, false},
		{"infinite redundancy", Trickle{HasCallback: true, C: 9, K: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := d.Trickle(tt.trickle)
			require.NoError(t, err)
			assert.Equal(t, KindTrickle, rep.Kind)
			assert.Equal(t, tt.want, rep.Identification.Get(TrickleCallback))
			assert.Equal(t, tt.want, rep.Result.Get(TrickleCallback))
			assertIdle(t, d)
		})
	}
}
