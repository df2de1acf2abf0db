package sink

import (
	"context"
	"strings"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	"github.com/sirupsen/logrus"
)

// LogSink logs every finding as a structured event.
type LogSink struct {
	log *logrus.Entry
}

// NewLogSink creates a log sink. A nil logger uses the standard logrus logger.
func NewLogSink(logger *logrus.Logger) *LogSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogSink{log: logger.WithField("component", "findings")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, f models.Finding) error {
	entry := s.log.WithFields(logrus.Fields{
		"code":     f.Code,
		"severity": f.Severity,
		"category": f.Category,
		"kind":     f.Kind,
		"sender":   f.Sender,
	})
	if f.MessageType != "" {
		entry = entry.WithField("message", f.MessageType)
	}
	if f.NodeLabel != "" {
		entry = entry.WithField("node", f.NodeLabel)
	}
	if len(f.Identification) > 0 {
		entry = entry.WithField("identified", strings.Join(f.Identification, ","))
	}

	switch f.Severity {
	case models.SeverityCritical, models.SeverityHigh:
		entry.Warn("EVENT")
	default:
		entry.Info("EVENT")
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
