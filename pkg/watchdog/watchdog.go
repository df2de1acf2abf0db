package watchdog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/metrics"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/rpl"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the default capacity of the event queue.
const DefaultQueueSize = 16

var (
	// ErrNotSupported answers GET and SET requests.
	ErrNotSupported = errors.New("watchdog: operation not supported")
	// ErrStopped is returned when submitting to a stopped task.
	ErrStopped = errors.New("watchdog: stopped")
)

// EventType is the kind of an Event.
type EventType uint8

const (
	EventPacket EventType = iota
	EventLifetimeUpdate
	EventTrickle
	EventSend
	EventGet
	EventSet
)

func (t EventType) String() string {
	switch t {
	case EventPacket:
		return "packet"
	case EventLifetimeUpdate:
		return "lifetime_update"
	case EventTrickle:
		return "trickle"
	case EventSend:
		return "send"
	case EventGet:
		return "get"
	case EventSet:
		return "set"
	default:
		return "unknown"
	}
}

// Event is one entry of the task queue.
type Event struct {
	Type    EventType
	Packet  *rpl.Envelope
	Trickle Trickle
	// Reply receives the answer to GET and SET requests. It should be
	// buffered; the task does not block on it.
	Reply chan<- error
}

// Forwarder hands an analysed event back to the RPL engine.
type Forwarder interface {
	Forward(ev Event)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ev Event)

func (f ForwarderFunc) Forward(ev Event) { f(ev) }

// ReportFunc receives every report the task produces.
type ReportFunc func(rep Report)

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithQueueSize sets the event queue capacity. Non-positive sizes are ignored.
func WithQueueSize(n int) Option {
	return func(w *Watchdog) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithForwarder sets where analysed events are handed back.
func WithForwarder(f Forwarder) Option {
	return func(w *Watchdog) { w.forwarder = f }
}

// WithReportFunc sets the report callback. It runs on the task goroutine.
func WithReportFunc(fn ReportFunc) Option {
	return func(w *Watchdog) { w.report = fn }
}

// Watchdog drives a Dispatcher from a single goroutine.
type Watchdog struct {
	dispatcher *Dispatcher
	queueSize  int
	forwarder  Forwarder
	report     ReportFunc
	log        *logrus.Entry
}

// New creates a Watchdog around d.
func New(d *Dispatcher, opts ...Option) *Watchdog {
	w := &Watchdog{
		dispatcher: d,
		queueSize:  DefaultQueueSize,
		log:        logrus.WithField("component", "watchdog"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Stats are the task counters.
type Stats struct {
	Received           uint64
	Dropped            uint64
	Cycles             uint64
	Reports            uint64
	ValidationFailures uint64
	Aborted            uint64
	Unsupported        uint64
	Forwarded          uint64
}

// Handle controls a running task.
type Handle struct {
	events  chan Event
	done    chan struct{}
	stopped chan struct{} // closed when the task goroutine exits
	wg      sync.WaitGroup

	running atomic.Bool

	received           atomic.Uint64
	dropped            atomic.Uint64
	cycles             atomic.Uint64
	reports            atomic.Uint64
	validationFailures atomic.Uint64
	aborted            atomic.Uint64
	unsupported        atomic.Uint64
	forwarded          atomic.Uint64
}

// Start launches the task. It runs until ctx is cancelled or Stop is called.
func (w *Watchdog) Start(ctx context.Context) *Handle {
	h := &Handle{
		events:  make(chan Event, w.queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	h.running.Store(true)
	h.wg.Add(1)
	go w.run(ctx, h)
	w.log.WithField("queue_size", w.queueSize).Info("Watchdog started")
	return h
}

func (w *Watchdog) run(ctx context.Context, h *Handle) {
	defer h.wg.Done()
	defer close(h.stopped)
	defer w.log.Info("Watchdog stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			w.drain(h)
			return
		case ev := <-h.events:
			w.handle(h, ev)
		}
	}
}

// drain processes what was queued before Stop.
func (w *Watchdog) drain(h *Handle) {
	for {
		select {
		case ev := <-h.events:
			w.handle(h, ev)
		default:
			return
		}
	}
}

func (w *Watchdog) handle(h *Handle, ev Event) {
	metrics.QueueLength.Set(float64(len(h.events)))

	switch ev.Type {
	case EventSend:
		return
	case EventGet, EventSet:
		h.unsupported.Add(1)
		if ev.Reply != nil {
			select {
			case ev.Reply <- ErrNotSupported:
			default:
			}
		}
		return
	}

	start := time.Now()
	var (
		rep Report
		err error
	)
	switch ev.Type {
	case EventPacket:
		rep, err = w.dispatcher.Dispatch(ev.Packet)
	case EventLifetimeUpdate:
		rep, err = w.dispatcher.LifetimeUpdate()
	case EventTrickle:
		rep, err = w.dispatcher.Trickle(ev.Trickle)
	default:
		w.log.WithField("type", ev.Type).Debug("Ignoring unknown event")
		return
	}
	metrics.CycleDurationSeconds.Observe(time.Since(start).Seconds())
	h.cycles.Add(1)

	switch {
	case errors.Is(err, ErrValidation):
		h.validationFailures.Add(1)
		metrics.ValidationFailuresTotal.WithLabelValues(packetName(ev.Packet)).Inc()
		w.log.WithError(err).Debug("Message dropped from analysis")
	case errors.Is(err, ErrCycleAborted):
		h.aborted.Add(1)
		metrics.AbortedCyclesTotal.Inc()
	case err != nil:
		w.log.WithError(err).Debug("Cycle failed")
	default:
		h.reports.Add(1)
		metrics.CyclesTotal.WithLabelValues(rep.Kind.String()).Inc()
		for _, c := range rep.Identification.Codes() {
			metrics.IdentifiedTotal.WithLabelValues(c.String()).Inc()
		}
		for _, c := range rep.Result.Codes() {
			metrics.FindingsTotal.WithLabelValues(c.String()).Inc()
		}
		if w.report != nil {
			w.report(rep)
		}
	}

	if w.forwarder != nil {
		w.forwarder.Forward(ev)
		h.forwarded.Add(1)
	}
}

func packetName(env *rpl.Envelope) string {
	if env == nil || env.Message == nil {
		return "empty"
	}
	return env.Message.Code().String()
}

// Submit queues ev, blocking until there is room or ctx is done.
func (h *Handle) Submit(ctx context.Context, ev Event) error {
	if !h.accepting() {
		return ErrStopped
	}
	select {
	case h.events <- ev:
		h.received.Add(1)
		return nil
	case <-h.done:
		return ErrStopped
	case <-h.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues ev if there is room. A full queue drops the event.
func (h *Handle) TrySubmit(ev Event) bool {
	if !h.accepting() {
		return false
	}
	select {
	case h.events <- ev:
		h.received.Add(1)
		return true
	case <-h.stopped:
		return false
	default:
		h.dropped.Add(1)
		return false
	}
}

// accepting reports whether the task still reads its queue. A cancelled
// start context stops the task without Stop.
func (h *Handle) accepting() bool {
	if !h.running.Load() {
		return false
	}
	select {
	case <-h.stopped:
		return false
	default:
		return true
	}
}

// Stop processes the events already queued, then stops the task and waits
// for it.
func (h *Handle) Stop() {
	if !h.running.Swap(false) {
		return
	}
	close(h.done)
	h.wg.Wait()
}

// Wait blocks until the task has stopped.
func (h *Handle) Wait() { h.wg.Wait() }

// Stats returns a snapshot of the task counters.
func (h *Handle) Stats() Stats {
	return Stats{
		Received:           h.received.Load(),
		Dropped:            h.dropped.Load(),
		Cycles:             h.cycles.Load(),
		Reports:            h.reports.Load(),
		ValidationFailures: h.validationFailures.Load(),
		Aborted:            h.aborted.Load(),
		Unsupported:        h.unsupported.Load(),
		Forwarded:          h.forwarded.Load(),
	}
}
