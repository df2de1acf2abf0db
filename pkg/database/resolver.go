package database

import (
	"bufio"
	"database/sql"
	"encoding/csv"
	"io"
	"net/netip"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	refreshInterval = 15 * time.Minute // Refresh node labels every 15 minutes
)

// NodeResolver maps node addresses to operator-assigned labels.
type NodeResolver interface {
	// Label returns the label of an address, or "" if unknown.
	Label(addr string) string
	// Count returns the number of entries in the mapping.
	Count() int
	// Start begins any background refresh operations.
	Start()
	// Stop stops any background operations.
	Stop()
}

// NullResolver knows no labels.
type NullResolver struct{}

// NewNullResolver creates a new null resolver.
func NewNullResolver() *NullResolver {
	return &NullResolver{}
}

func (r *NullResolver) Label(string) string { return "" }
func (r *NullResolver) Count() int          { return 0 }
func (r *NullResolver) Start()              {}
func (r *NullResolver) Stop()               {}

// labelTable holds exact address labels and prefix labels. Prefixes are
// kept longest first so the most specific one wins.
type labelTable struct {
	exact    map[netip.Addr]string
	prefixes []prefixLabel
}

type prefixLabel struct {
	prefix netip.Prefix
	label  string
}

func newLabelTable() *labelTable {
	return &labelTable{exact: make(map[netip.Addr]string)}
}

// add parses key as an address or a prefix. It reports false for keys that
// are neither.
func (t *labelTable) add(key, label string) bool {
	key = strings.TrimSpace(key)
	label = strings.TrimSpace(label)
	if label == "" {
		return false
	}
	if strings.Contains(key, "/") {
		p, err := netip.ParsePrefix(key)
		if err != nil {
			return false
		}
		t.prefixes = append(t.prefixes, prefixLabel{prefix: p.Masked(), label: label})
		return true
	}
	addr, err := netip.ParseAddr(key)
	if err != nil {
		return false
	}
	t.exact[addr.Unmap()] = label
	return true
}

func (t *labelTable) sort() {
	sort.SliceStable(t.prefixes, func(i, j int) bool {
		return t.prefixes[i].prefix.Bits() > t.prefixes[j].prefix.Bits()
	})
}

func (t *labelTable) label(addr string) string {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return ""
	}
	a = a.Unmap()
	if label, ok := t.exact[a]; ok {
		return label
	}
	for _, p := range t.prefixes {
		if p.prefix.Contains(a) {
			return p.label
		}
	}
	return ""
}

func (t *labelTable) count() int {
	return len(t.exact) + len(t.prefixes)
}

// FileResolver loads node labels from a CSV file.
// Expected format: address_or_prefix,label (e.g., "fe80::2,sensor-7" or
// "2001:db8:1::/48,building-a")
type FileResolver struct {
	filePath string
	table    *labelTable
	mu       sync.RWMutex
}

// NewFileResolver creates a resolver that loads labels from a CSV file.
func NewFileResolver(filePath string) (*FileResolver, error) {
	r := &FileResolver{filePath: filePath}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileResolver) load() error {
	file, err := os.Open(r.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	table := newLabelTable()
	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	// Header rows and malformed entries do not parse and are skipped
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		if len(record) < 2 {
			continue
		}
		table.add(record[0], record[1])
	}
	table.sort()

	r.mu.Lock()
	r.table = table
	r.mu.Unlock()

	logrus.WithField("component", "resolver").Infof("FileResolver: Loaded %d node labels from %s", table.count(), r.filePath)
	return nil
}

func (r *FileResolver) Label(addr string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.label(addr)
}

func (r *FileResolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.count()
}

func (r *FileResolver) Start() {}
func (r *FileResolver) Stop()  {}

// DatabaseResolver loads node labels from a database table.
// Uses a simple schema: SELECT address, label FROM rpl_nodes
type DatabaseResolver struct {
	db         *sql.DB
	tableName  string
	table      *labelTable
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
	lastUpdate time.Time
	log        *logrus.Entry
	stopOnce   sync.Once
}

// NewDatabaseResolver creates a resolver that loads labels from a database.
// tableName defaults to "rpl_nodes" if empty.
func NewDatabaseResolver(db *sql.DB, tableName string) *DatabaseResolver {
	if tableName == "" {
		tableName = "rpl_nodes"
	}
	return &DatabaseResolver{
		db:        db,
		tableName: tableName,
		table:     newLabelTable(),
		done:      make(chan struct{}),
		log:       logrus.WithField("component", "resolver"),
	}
}

// Start begins periodic refresh of the label mapping.
func (r *DatabaseResolver) Start() {
	// Load immediately
	r.refresh()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.refresh()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop stops the resolver.
func (r *DatabaseResolver) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

// Label returns the label of an address, or "" if unknown.
func (r *DatabaseResolver) Label(addr string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.label(addr)
}

// Count returns the number of entries in the mapping.
func (r *DatabaseResolver) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table.count()
}

// refresh loads the label mapping from the database.
func (r *DatabaseResolver) refresh() {
	start := time.Now()

	query := "SELECT address, label FROM " + r.tableName + " WHERE label IS NOT NULL AND label != ''"
	rows, err := r.db.Query(query)
	if err != nil {
		r.log.WithError(err).Warnf("DatabaseResolver: Failed to query %s", r.tableName)
		return
	}
	defer rows.Close()

	table := newLabelTable()
	for rows.Next() {
		var addr, label string
		if err := rows.Scan(&addr, &label); err != nil {
			continue
		}
		table.add(addr, label)
	}

	if err := rows.Err(); err != nil {
		r.log.WithError(err).Warn("DatabaseResolver: Row iteration error")
		return
	}
	table.sort()

	r.mu.Lock()
	r.table = table
	r.lastUpdate = time.Now()
	r.mu.Unlock()

	r.log.Infof("DatabaseResolver: Loaded %d node labels in %v", table.count(), time.Since(start))
}
