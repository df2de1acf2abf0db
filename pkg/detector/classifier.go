package detector

import (
	"github.com/google/uuid"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	"github.com/hervehildenbrand/rpl-watchdog/pkg/watchdog"
)

// Labeler names nodes by address.
type Labeler interface {
	Label(addr string) string
}

// Classifier turns reconciled reports into findings, one per result bit.
type Classifier struct {
	findings chan<- models.Finding
	minLevel int
	labels   Labeler
}

// NewClassifier creates a classifier emitting every finding.
func NewClassifier(findings chan<- models.Finding) *Classifier {
	return &Classifier{findings: findings}
}

// SetMinSeverity drops findings below severity.
func (c *Classifier) SetMinSeverity(severity string) {
	c.minLevel = severityLevel(severity)
}

// SetLabeler attaches node labels to findings.
func (c *Classifier) SetLabeler(l Labeler) {
	c.labels = l
}

// Process emits the findings of a report. It is a watchdog.ReportFunc.
func (c *Classifier) Process(rep watchdog.Report) {
	if rep.Result.IsZero() {
		return
	}

	for _, f := range c.Findings(rep) {
		// Non-blocking send
		select {
		case c.findings <- f:
		default:
		}
	}
}

// Findings builds the findings of a report without emitting them.
func (c *Classifier) Findings(rep watchdog.Report) []models.Finding {
	codes := rep.Result.Codes()
	if len(codes) == 0 {
		return nil
	}

	identification := rep.Identification.Names()
	handled := rep.Handled.Names()
	messageType := ""
	if rep.Kind == watchdog.KindPacket {
		messageType = rep.Code.String()
	}

	out := make([]models.Finding, 0, len(codes))
	for _, code := range codes {
		severity, category := Classify(code)
		if severityLevel(severity) < c.minLevel {
			continue
		}
		f := models.Finding{
			ID:             uuid.NewString(),
			Code:           code.String(),
			Severity:       severity,
			Category:       category,
			Kind:           rep.Kind.String(),
			MessageType:    messageType,
			Interface:      rep.Context.Interface,
			Identification: identification,
			Handled:        handled,
			DetectedAt:     rep.At,
			IsActive:       true,
			Details: map[string]interface{}{
				"identification": rep.Identification.String(),
				"handled":        rep.Handled.String(),
				"result":         rep.Result.String(),
			},
		}
		if rep.Context.Sender.IsValid() {
			f.Sender = rep.Context.Sender.String()
			if c.labels != nil {
				f.NodeLabel = c.labels.Label(f.Sender)
			}
		}
		if rep.Context.Destination.IsValid() {
			f.Destination = rep.Context.Destination.String()
		}
		out = append(out, f)
	}
	return out
}

func severityLevel(s string) int {
	switch s {
	case models.SeverityLow:
		return 1
	case models.SeverityMedium:
		return 2
	case models.SeverityHigh:
		return 3
	case models.SeverityCritical:
		return 4
	default:
		return 0
	}
}
