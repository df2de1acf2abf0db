// Package secif is the DIO security hook registry. Security modules
// register a verifier for the DODAG ids under a prefix; arriving DIOs are
// checked by the verifier with the longest matching prefix.
package secif

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/sirupsen/logrus"
)

const (
	// MaxCallbacks is the default registry capacity.
	MaxCallbacks = 1
	// VerifiedByDefault is the verdict for DODAGs no verifier manages.
	VerifiedByDefault = false
)

var (
	ErrRegisterFailed     = errors.New("secif: callback registration failed")
	ErrUnregisterFailed   = errors.New("secif: callback not registered")
	ErrVerificationFailed = errors.New("secif: verification failed")
)

// DIOVerifier checks a DIO sent by src. A nil error means the DIO may be
// processed further.
type DIOVerifier func(dio *rpl.DIO, src netip.Addr, length uint16, ownRank uint16) error

// ID identifies a registered verifier.
type ID int

type hook struct {
	prefix netip.Prefix
	cb     DIOVerifier
}

// Registry holds the DIO verifiers. It is safe for concurrent use.
type Registry struct {
	mu                sync.RWMutex
	hooks             []*hook
	verifiedByDefault bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithCapacity sets the number of verifier slots.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.hooks = make([]*hook, n)
		}
	}
}

// WithVerifiedByDefault sets the verdict for unmanaged DODAGs.
func WithVerifiedByDefault(v bool) Option {
	return func(r *Registry) { r.verifiedByDefault = v }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		hooks:             make([]*hook, MaxCallbacks),
		verifiedByDefault: VerifiedByDefault,
	}
	for _, opt := range opts {
		opt(r)
	}
	logrus.WithField("component", "secif").WithField("slots", len(r.hooks)).Debug("Security interface loaded")
	return r
}

// Register binds cb to the DODAG ids under prefix.
func (r *Registry) Register(cb DIOVerifier, prefix netip.Prefix) (ID, error) {
	if cb == nil || !prefix.IsValid() {
		return -1, fmt.Errorf("%w: invalid callback or prefix", ErrRegisterFailed)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.hooks {
		if h == nil {
			r.hooks[i] = &hook{prefix: prefix.Masked(), cb: cb}
			return ID(i), nil
		}
	}
	return -1, fmt.Errorf("%w: all %d slots in use", ErrRegisterFailed, len(r.hooks))
}

// Unregister frees the slot of id.
func (r *Registry) Unregister(id ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || int(id) >= len(r.hooks) || r.hooks[id] == nil {
		return fmt.Errorf("%w: id %d", ErrUnregisterFailed, id)
	}
	r.hooks[id] = nil
	return nil
}

// VerifyDIOParent runs the verifier whose prefix is the longest one
// containing the DIO's DODAG id. Ties go to the lowest slot.
func (r *Registry) VerifyDIOParent(dio *rpl.DIO, src netip.Addr, length, ownRank uint16) bool {
	if dio == nil {
		return false
	}

	r.mu.RLock()
	var best *hook
	for _, h := range r.hooks {
		if h == nil || !h.prefix.Contains(dio.DODAGID) {
			continue
		}
		if best == nil || h.prefix.Bits() > best.prefix.Bits() {
			best = h
		}
	}
	verifiedByDefault := r.verifiedByDefault
	r.mu.RUnlock()

	if best == nil {
		return verifiedByDefault
	}
	return best.cb(dio, src, length, ownRank) == nil
}

// Validator runs Next and, for DIOs, requires the registry's verdict.
type Validator struct {
	Next     rpl.Validator
	Registry *Registry
	State    rpl.State
}

func NewValidator(next rpl.Validator, reg *Registry, state rpl.State) *Validator {
	if next == nil {
		next = rpl.DefaultValidator{}
	}
	return &Validator{Next: next, Registry: reg, State: state}
}

func (v *Validator) Validate(env *rpl.Envelope) bool {
	if !v.Next.Validate(env) {
		return false
	}
	dio, ok := env.Message.(*rpl.DIO)
	if !ok || v.Registry == nil {
		return true
	}
	return v.Registry.VerifyDIOParent(dio, env.Source, env.Length, v.ownRank(dio.InstanceID))
}

func (v *Validator) ownRank(instanceID uint8) uint16 {
	if v.State == nil {
		return 0
	}
	for _, inst := range v.State.Instances() {
		if inst.Active() && inst.ID == instanceID {
			return inst.DODAG.MyRank
		}
	}
	return 0
}

// SenderAllowlist accepts DIOs whose source lies in one of trusted. A
// non-zero maxRankDrop also rejects DIOs advertising a rank more than
// maxRankDrop below ownRank.
func SenderAllowlist(trusted []netip.Prefix, maxRankDrop uint16) DIOVerifier {
	return func(dio *rpl.DIO, src netip.Addr, _ uint16, ownRank uint16) error {
		allowed := false
		for _, p := range trusted {
			if p.Contains(src) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: sender %s not trusted", ErrVerificationFailed, src)
		}
		if maxRankDrop > 0 && ownRank > maxRankDrop && dio.Rank < ownRank-maxRankDrop {
			return fmt.Errorf("%w: rank %d from %s", ErrVerificationFailed, dio.Rank, src)
		}
		return nil
	}
}
