// Package database provides PostgreSQL finding storage with batch support
// and node-label resolution.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/rpl-watchdog/pkg/models"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	batchSize     = 50
	batchInterval = 2 * time.Second
	queueSize     = 10000
)

// ErrQueueFull is returned when a finding is dropped because the write
// queue is full.
var ErrQueueFull = errors.New("database: finding queue full")

// Schema creates the findings table.
const Schema = `
CREATE TABLE IF NOT EXISTS rpl_findings (
	id            BIGSERIAL PRIMARY KEY,
	finding_id    TEXT NOT NULL,
	code          TEXT NOT NULL,
	severity      TEXT NOT NULL,
	category      TEXT NOT NULL,
	kind          TEXT NOT NULL,
	message_type  TEXT NOT NULL DEFAULT '',
	sender        TEXT NOT NULL DEFAULT '',
	destination   TEXT NOT NULL DEFAULT '',
	iface         INTEGER NOT NULL DEFAULT -1,
	node_label    TEXT NOT NULL DEFAULT '',
	details       JSONB NOT NULL DEFAULT '{}',
	occurrences   INTEGER NOT NULL DEFAULT 1,
	detected_at   TIMESTAMPTZ NOT NULL,
	last_seen_at  TIMESTAMPTZ NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS rpl_findings_active_idx ON rpl_findings (sender, code) WHERE is_active;
`

// FindingWriter handles batch writing of findings to PostgreSQL.
type FindingWriter struct {
	db      *sql.DB
	queue   chan models.Finding
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
	log     *logrus.Entry

	// Stats
	findingsWritten atomic.Uint64
	findingsDropped atomic.Uint64
	batchesWritten  atomic.Uint64
}

// NewFindingWriter connects to PostgreSQL and creates the findings table
// if needed.
func NewFindingWriter(databaseURL string) (*FindingWriter, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}

	w := newFindingWriter(db, queueSize)
	w.log.Info("Connected to PostgreSQL database")
	return w, nil
}

func newFindingWriter(db *sql.DB, size int) *FindingWriter {
	return &FindingWriter{
		db:    db,
		queue: make(chan models.Finding, size),
		done:  make(chan struct{}),
		log:   logrus.WithField("component", "database"),
	}
}

// DB returns the underlying connection pool.
func (w *FindingWriter) DB() *sql.DB { return w.db }

// Start begins the background writer goroutine.
func (w *FindingWriter) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writerLoop()
	w.log.Info("Database finding writer started")
}

// Stop gracefully shuts down the writer, flushing remaining findings.
func (w *FindingWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.log.Infof("Database finding writer stopped (written=%d, dropped=%d, batches=%d)",
		w.findingsWritten.Load(), w.findingsDropped.Load(), w.batchesWritten.Load())
}

func (w *FindingWriter) Name() string { return "database" }

// Write queues a finding for batch writing.
func (w *FindingWriter) Write(_ context.Context, f models.Finding) error {
	select {
	case w.queue <- f:
		return nil
	default:
		// Queue full, drop finding
		if n := w.findingsDropped.Add(1); n%1000 == 1 {
			w.log.Warnf("Finding queue full, dropped %d findings", n)
		}
		return ErrQueueFull
	}
}

// Close stops the writer and closes the database.
func (w *FindingWriter) Close() error {
	w.Stop()
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Stats returns writer statistics.
func (w *FindingWriter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"findings_written": w.findingsWritten.Load(),
		"findings_dropped": w.findingsDropped.Load(),
		"batches_written":  w.batchesWritten.Load(),
		"queue_len":        len(w.queue),
		"queue_cap":        cap(w.queue),
	}
}

func (w *FindingWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]models.Finding, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-w.queue:
			batch = append(batch, f)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			w.flush(batch)
			return
		}
	}
}

// flush writes what is still queued. Late writers see a full queue.
func (w *FindingWriter) flush(batch []models.Finding) {
	for {
		select {
		case f := <-w.queue:
			batch = append(batch, f)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}
		default:
			w.writeBatch(batch)
			return
		}
	}
}

func (w *FindingWriter) writeBatch(batch []models.Finding) {
	if len(batch) == 0 {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		w.log.WithError(err).Warn("Failed to begin transaction")
		return
	}
	defer tx.Rollback()

	var written uint64
	for _, f := range batch {
		if w.writeFinding(tx, f) {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		w.log.WithError(err).Warn("Failed to commit batch")
		return
	}

	w.findingsWritten.Add(written)
	w.batchesWritten.Add(1)
}

var severityOrder = map[string]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

// maxSeverity returns the more severe of two severities.
func maxSeverity(a, b string) string {
	if severityOrder[b] > severityOrder[a] {
		return b
	}
	return a
}

func (w *FindingWriter) writeFinding(tx *sql.Tx, f models.Finding) bool {
	// An active finding with the same node and code is updated in place
	var existingID int64
	var existingSeverity string
	err := tx.QueryRow(`
		SELECT id, severity FROM rpl_findings
		WHERE sender = $1
		AND code = $2
		AND is_active = true
		LIMIT 1
	`, f.Sender, f.Code).Scan(&existingID, &existingSeverity)

	if err == nil {
		_, err = tx.Exec(`
			UPDATE rpl_findings
			SET last_seen_at = $1, severity = $2, occurrences = occurrences + 1
			WHERE id = $3
		`, f.DetectedAt, maxSeverity(existingSeverity, f.Severity), existingID)

		if err != nil {
			w.log.WithError(err).Warnf("Failed to update finding %d", existingID)
			return false
		}
		return true
	}

	if !errors.Is(err, sql.ErrNoRows) {
		w.log.WithError(err).Warn("Failed to check existing finding")
		return false
	}

	detailsJSON, err := detailsOf(f)
	if err != nil {
		detailsJSON = []byte("{}")
	}

	_, err = tx.Exec(`
		INSERT INTO rpl_findings (
			finding_id, code, severity, category, kind, message_type,
			sender, destination, iface, node_label, details,
			detected_at, last_seen_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		f.ID,
		f.Code,
		f.Severity,
		f.Category,
		f.Kind,
		f.MessageType,
		f.Sender,
		f.Destination,
		f.Interface,
		f.NodeLabel,
		detailsJSON,
		f.DetectedAt,
		f.DetectedAt,
		true,
	)

	if err != nil {
		w.log.WithError(err).Warn("Failed to insert finding")
		return false
	}

	return true
}

// detailsOf serialises the finding details together with the cycle fields.
func detailsOf(f models.Finding) ([]byte, error) {
	details := make(map[string]interface{}, len(f.Details)+2)
	for k, v := range f.Details {
		details[k] = v
	}
	if len(f.Identification) > 0 {
		details["identified"] = strings.Join(f.Identification, ",")
	}
	if len(f.Handled) > 0 {
		details["claimed"] = strings.Join(f.Handled, ",")
	}
	return json.Marshal(details)
}
