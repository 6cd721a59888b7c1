// Package ledger is the durable idempotency record of processed items.
//
// Each item id maps to an ordered, append-only history of attempts. The
// presence of any entry marks the id as processed. Every mutation rewrites
// the whole aggregate to the backing Store before Record returns.
package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Status of one recorded attempt.
type Status string

const (
	Success Status = "success"
	Failed  Status = "failed"
)

// TimeLayout is the local timestamp format of Entry.Time.
const TimeLayout = "2006-01-02 15:04:05"

// Entry is one recorded attempt.
type Entry struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Time   string `json:"time"`
}

// Records maps item id to its attempt history, oldest first.
type Records map[string][]Entry

func (r Records) clone() Records {
	out := make(Records, len(r))
	for id, entries := range r {
		out[id] = append([]Entry(nil), entries...)
	}
	return out
}

// Stats summarises a ledger.
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"success"`
	Failed    int `json:"failed"`
}

// Store persists the full aggregate.
type Store interface {
	// Load returns the stored records. A store that does not exist yet
	// yields empty records and no error.
	Load(ctx context.Context) (Records, error)
	// Save replaces the stored records.
	Save(ctx context.Context, recs Records) error
	Close() error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(g *Ledger) { g.logger = l } }

// WithClock overrides the time source used for entry timestamps.
func WithClock(now func() time.Time) Option { return func(g *Ledger) { g.now = now } }

// WithRetryFailed makes ids whose every entry is failed eligible again.
// History is kept either way.
func WithRetryFailed(on bool) Option { return func(g *Ledger) { g.retryFailed = on } }

// Ledger is safe for concurrent use, although the engine only records from
// its main loop.
type Ledger struct {
	mu          sync.Mutex
	store       Store
	recs        Records
	retryFailed bool
	now         func() time.Time
	logger      *slog.Logger
}

// Open loads the ledger from store. Load failures are logged and the
// ledger starts empty; Open never fails.
func Open(ctx context.Context, store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}

	recs, err := store.Load(ctx)
	if err != nil {
		l.logger.Error("ledger: load failed, starting empty", "error", err)
		recs = nil
	}
	if recs == nil {
		recs = Records{}
	}
	l.recs = recs

	st := l.Statistics()
	l.logger.Info("ledger: loaded",
		"total", st.Total, "success", st.Succeeded, "failed", st.Failed)
	return l
}

// IsProcessed reports whether id has at least one recorded entry. With
// WithRetryFailed, ids without a success entry are not processed.
func (l *Ledger) IsProcessed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries, ok := l.recs[id]
	if !ok || len(entries) == 0 {
		return false
	}
	if l.retryFailed {
		return hasSuccess(entries)
	}
	return true
}

// Record appends an entry stamped with the current local time and
// persists the whole ledger. A persistence failure is logged; the entry
// stays in memory for the rest of the run.
func (l *Ledger) Record(ctx context.Context, id, name string, status Status) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{Name: name, Status: status, Time: l.now().Format(TimeLayout)}
	l.recs[id] = append(l.recs[id], e)

	if err := l.store.Save(ctx, l.recs); err != nil {
		l.logger.Error("ledger: save failed, entry kept in memory only",
			"item_id", id, "status", string(status), "error", err)
	}
	return e
}

// Statistics counts distinct ids. An id counts as succeeded if any of its
// entries is a success.
func (l *Ledger) Statistics() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	var st Stats
	for _, entries := range l.recs {
		if len(entries) == 0 {
			continue
		}
		st.Total++
		if hasSuccess(entries) {
			st.Succeeded++
		}
	}
	st.Failed = st.Total - st.Succeeded
	return st
}

// Entries returns a copy of id's history.
func (l *Ledger) Entries(id string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.recs[id]...)
}

// Snapshot returns a deep copy of every record.
func (l *Ledger) Snapshot() Records {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recs.clone()
}

// WriteStatistics prints the statistics block shown at the start, after
// every page and at the end of a run.
func (l *Ledger) WriteStatistics(w io.Writer, title string) error {
	st := l.Statistics()
	rule := strings.Repeat("=", 50)
	_, err := fmt.Fprintf(w, "\n%s\n%s\n%s\nTotal:   %d\nSuccess: %d\nFailed:  %d\n%s\n",
		rule, title, rule, st.Total, st.Succeeded, st.Failed, rule)
	return err
}

// Close releases the backing store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func hasSuccess(entries []Entry) bool {
	for _, e := range entries {
		if e.Status == Success {
			return true
		}
	}
	return false
}
