// Package sink delivers watchdog findings to logs, counters, brokers and
// storage.
package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/metrics"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	"github.com/sirupsen/logrus"
)

// Sink consumes findings.
type Sink interface {
	Name() string
	Write(ctx context.Context, f models.Finding) error
	Close() error
}

// Multi fans a finding out to every sink. A failing sink does not stop
// delivery to the others.
type Multi struct {
	mu    sync.RWMutex
	sinks []Sink
	log   *logrus.Entry
}

// NewMulti creates a fan-out over sinks. Nil sinks are skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{log: logrus.WithField("component", "sink")}
	for _, s := range sinks {
		m.Add(s)
	}
	return m
}

// Add appends a sink.
func (m *Multi) Add(s Sink) {
	if s == nil {
		return
	}
	m.mu.Lock()
	m.sinks = append(m.sinks, s)
	m.mu.Unlock()
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}

// Name implements Sink.
func (m *Multi) Name() string { return "multi" }

// Write delivers f to every sink and joins their errors.
func (m *Multi) Write(ctx context.Context, f models.Finding) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, f); err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			m.log.WithError(err).WithField("sink", s.Name()).Debug("Sink write failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink in reverse order.
func (m *Multi) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if err := m.sinks[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", m.sinks[i].Name(), err))
		}
	}
	m.sinks = nil
	return errors.Join(errs...)
}

// Drain writes every finding received on findings to s until the channel
// is closed or ctx is done.
func Drain(ctx context.Context, findings <-chan models.Finding, s Sink) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-findings:
			if !ok {
				return
			}
			_ = s.Write(ctx, f)
		}
	}
}
