package database

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
)

func TestNullResolver(t *testing.T) {
	r := NewNullResolver()

	if got := r.Label("fe80::2"); got != "" {
		t.Errorf("NullResolver.Label() = %q, want empty string", got)
	}

	if got := r.Count(); got != 0 {
		t.Errorf("NullResolver.Count() = %d, want 0", got)
	}

	// These should not panic
	r.Start()
	r.Stop()
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	csvPath := filepath.Join(t.TempDir(), "nodes.csv")
	if err := os.WriteFile(csvPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test CSV: %v", err)
	}
	return csvPath
}

func TestFileResolver(t *testing.T) {
	csvPath := writeCSV(t, `address,label
fe80::2,sensor-2
fe80::3, sensor-3
2001:db8:1::/48,building-a
2001:db8:1:2::/64,building-a-floor-2
# decommissioned
fe80::9,
not-an-address,ignored
`)

	r, err := NewFileResolver(csvPath)
	if err != nil {
		t.Fatalf("NewFileResolver() error = %v", err)
	}

	tests := []struct {
		name     string
		addr     string
		expected string
	}{
		{"exact", "fe80::2", "sensor-2"},
		{"trimmed label", "fe80::3", "sensor-3"},
		{"prefix", "2001:db8:1:5::7", "building-a"},
		{"longest prefix wins", "2001:db8:1:2::7", "building-a-floor-2"},
		{"empty label", "fe80::9", ""},
		{"unknown", "fe80::42", ""},
		{"garbage", "zzz", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Label(tt.addr); got != tt.expected {
				t.Errorf("FileResolver.Label(%s) = %q, want %q", tt.addr, got, tt.expected)
			}
		})
	}

	if got := r.Count(); got != 4 {
		t.Errorf("FileResolver.Count() = %d, want 4", got)
	}
}

func TestFileResolver_NoHeader(t *testing.T) {
	r, err := NewFileResolver(writeCSV(t, "fe80::2,sensor-2\nfe80::3,sensor-3\n"))
	if err != nil {
		t.Fatalf("NewFileResolver() error = %v", err)
	}

	// First line should be treated as data
	if got := r.Label("fe80::2"); got != "sensor-2" {
		t.Errorf("FileResolver.Label(fe80::2) = %q, want sensor-2", got)
	}

	if got := r.Count(); got != 2 {
		t.Errorf("FileResolver.Count() = %d, want 2", got)
	}
}

func TestFileResolver_InvalidFile(t *testing.T) {
	_, err := NewFileResolver("/nonexistent/path/file.csv")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestNodeResolverInterface(t *testing.T) {
	// Verify all resolvers implement the interface
	var _ NodeResolver = (*NullResolver)(nil)
	var _ NodeResolver = (*FileResolver)(nil)
	var _ NodeResolver = (*DatabaseResolver)(nil)
}

func TestFindingWriter_QueueFull(t *testing.T) {
	w := newFindingWriter(nil, 1)
	f := models.Finding{Code: "rank_rise", Sender: "fe80::2"}

	if err := w.Write(context.Background(), f); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Write(context.Background(), f); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Write() error = %v, want ErrQueueFull", err)
	}

	stats := w.Stats()
	if stats["findings_dropped"] != uint64(1) {
		t.Errorf("findings_dropped = %v, want 1", stats["findings_dropped"])
	}
	if stats["queue_len"] != 1 {
		t.Errorf("queue_len = %v, want 1", stats["queue_len"])
	}

	// Never started, nothing to close
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMaxSeverity(t *testing.T) {
	tests := []struct {
		a, b, want string
	}{
		{models.SeverityLow, models.SeverityHigh, models.SeverityHigh},
		{models.SeverityCritical, models.SeverityMedium, models.SeverityCritical},
		{models.SeverityMedium, models.SeverityMedium, models.SeverityMedium},
	}
	for _, tt := range tests {
		if got := maxSeverity(tt.a, tt.b); got != tt.want {
			t.Errorf("maxSeverity(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDetailsOf(t *testing.T) {
	data, err := detailsOf(models.Finding{
		Identification: []string{"dio_pkt", "rank_rise"},
		Handled:        []string{"dio_pkt"},
		Details:        map[string]interface{}{"result": "01"},
	})
	if err != nil {
		t.Fatalf("detailsOf() error = %v", err)
	}

	var details map[string]interface{}
	if err := json.Unmarshal(data, &details); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if details["identified"] != "dio_pkt,rank_rise" {
		t.Errorf("identified = %v", details["identified"])
	}
	if details["claimed"] != "dio_pkt" {
		t.Errorf("claimed = %v", details["claimed"])
	}
	if details["result"] != "01" {
		t.Errorf("result = %v", details["result"])
	}
}
