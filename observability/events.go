// Package observability records what a bot run did in a SQLite database
// kept apart from the processing record: one row per business event and
// a small set of timing metrics.
//
// Writes never fail the caller. Errors are logged and the run goes on.
package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/autoinvite/dbopen"
	"github.com/hazyhaar/autoinvite/idgen"
)

// Event types.
const (
	EventRunStarted   = "run_started"
	EventRunFinished  = "run_finished"
	EventItemSkipped  = "item_skipped"
	EventItemFinished = "item_finished"
	EventPageAdvanced = "page_advanced"
)

// Event is one business event of a run.
type Event struct {
	Type     string
	Page     int
	ItemID   string
	ItemName string
	// Step is the 1-based failing step of an item, 0 otherwise.
	Step    int
	Success bool
	// Details is marshalled to JSON when non-nil.
	Details map[string]any
}

// EventLogger writes events for one run.
type EventLogger struct {
	db     *sql.DB
	runID  string
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
	dbOpts []dbopen.Option
}

// Option configures an EventLogger.
type Option func(*EventLogger)

// WithIDGenerator sets the event id generator. Default: prefixed UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option { return func(l *EventLogger) { l.newID = gen } }

// WithLogger sets the logger used to report write failures.
func WithLogger(lg *slog.Logger) Option { return func(l *EventLogger) { l.logger = lg } }

// WithDBOptions passes extra options to dbopen.Open when Open creates the
// database.
func WithDBOptions(opts ...dbopen.Option) Option {
	return func(l *EventLogger) { l.dbOpts = append(l.dbOpts, opts...) }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option { return func(l *EventLogger) { l.now = now } }

// NewEventLogger returns a logger writing to db, which must have Schema
// applied.
func NewEventLogger(db *sql.DB, runID string, opts ...Option) *EventLogger {
	l := &EventLogger{
		db:     db,
		runID:  runID,
		newID:  func() string { return "evt_" + idgen.New() },
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Open opens the event database at path, applies Schema and returns a
// logger for runID along with the database to close.
func Open(path, runID string, opts ...Option) (*EventLogger, *sql.DB, error) {
	l := NewEventLogger(nil, runID, opts...)
	dbOpts := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(Schema)}, l.dbOpts...)
	db, err := dbopen.Open(path, dbOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("observability: %w", err)
	}
	l.db = db
	return l, db, nil
}

// RunID returns the run the logger writes for.
func (l *EventLogger) RunID() string { return l.runID }

// LogEvent inserts ev. A nil logger is a no-op.
func (l *EventLogger) LogEvent(ctx context.Context, ev Event) {
	if l == nil {
		return
	}
	var details sql.NullString
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO run_events (
			event_id, run_id, event_type, page, item_id, item_name,
			step, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.newID(), l.runID, ev.Type, ev.Page, ev.ItemID, ev.ItemName,
		ev.Step, details, ev.Success, l.now().Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.Type)
	}
}

// StoredEvent is an Event read back from the database.
type StoredEvent struct {
	Event
	ID        string
	RunID     string
	CreatedAt time.Time
}

// Filter selects events in Query. Zero fields match everything.
type Filter struct {
	RunID  string
	Type   string
	ItemID string
	Limit  int
}

// Query returns matching events in insertion order.
func Query(ctx context.Context, db *sql.DB, f Filter) ([]StoredEvent, error) {
	q := `SELECT event_id, run_id, event_type, page, COALESCE(item_id, ''), COALESCE(item_name, ''),
		step, details, success, created_at FROM run_events WHERE 1=1`
	var args []any
	if f.RunID != "" {
		q += " AND run_id = ?"
		args = append(args, f.RunID)
	}
	if f.Type != "" {
		q += " AND event_type = ?"
		args = append(args, f.Type)
	}
	if f.ItemID != "" {
		q += " AND item_id = ?"
		args = append(args, f.ItemID)
	}
	q += " ORDER BY created_at, rowid"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var details sql.NullString
		var created int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Type, &ev.Page, &ev.ItemID, &ev.ItemName,
			&ev.Step, &details, &ev.Success, &created); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		if details.Valid {
			json.Unmarshal([]byte(details.String), &ev.Details)
		}
		ev.CreatedAt = time.Unix(created, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Cleanup deletes events and metrics older than retentionDays. Zero or
// negative keeps everything.
func Cleanup(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	var removed int64
	for _, q := range []string{
		"DELETE FROM run_events WHERE created_at < ?",
		"DELETE FROM run_metrics WHERE timestamp < ?",
	} {
		res, err := db.ExecContext(ctx, q, cutoff)
		if err != nil {
			return removed, fmt.Errorf("observability: cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}
