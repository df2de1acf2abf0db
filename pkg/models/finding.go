// Package models defines the records the watchdog hands to its sinks.
package models

import "time"

// Finding is one reconciled watchdog verdict bit, attributed to the node
// that sent the analysed message.
type Finding struct {
	ID          string `json:"id"`
	Code        string `json:"code"`                   // event code name, e.g. rank_rise
	Severity    string `json:"severity"`               // low, medium, high, critical
	Category    string `json:"category"`               // attack, topology, traffic, timer
	Kind        string `json:"kind"`                   // packet, lifetime, trickle
	MessageType string `json:"message_type,omitempty"` // DIS, DIO, DAO, DAO-ACK, DRO; empty for timer events
	Sender      string `json:"sender,omitempty"`
	Destination string `json:"destination,omitempty"`
	Interface   int    `json:"interface"`
	NodeLabel   string `json:"node_label,omitempty"`
	// Identification and Handled are the code names of the cycle the
	// finding came from.
	Identification []string               `json:"identification"`
	Handled        []string               `json:"handled"`
	Details        map[string]interface{} `json:"details,omitempty"`
	DetectedAt     time.Time              `json:"detected_at"`
	IsActive       bool                   `json:"is_active"`
}

// Severity levels
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Finding categories
const (
	CategoryAttack   = "attack"
	CategoryTopology = "topology"
	CategoryTraffic  = "traffic"
	CategoryTimer    = "timer"
)
