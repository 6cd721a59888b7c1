package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/autoinvite/dbopen"
)

func setupEventDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_Idempotent(t *testing.T) {
	db := setupEventDB(t)
	if err := Init(db); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	for _, table := range []string{"run_events", "run_metrics"} {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
		if n != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestLogEvent_AndQuery(t *testing.T) {
	db := setupEventDB(t)
	seq := 0
	l := NewEventLogger(db, "run_a",
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("evt_%02d", seq) }),
		WithLogger(slog.New(slog.DiscardHandler)))
	ctx := context.Background()

	l.LogEvent(ctx, Event{Type: EventRunStarted, Success: true})
	l.LogEvent(ctx, Event{Type: EventItemFinished, Page: 1, ItemID: "u1", ItemName: "Alice", Success: true})
	l.LogEvent(ctx, Event{Type: EventItemFinished, Page: 1, ItemID: "u2", ItemName: "Bob",
		Step: 5, Details: map[string]any{"step_name": "send"}})

	all, err := Query(ctx, db, Filter{RunID: "run_a"})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("events: got %d, want 3", len(all))
	}
	if all[0].ID != "evt_01" || all[0].Type != EventRunStarted {
		t.Errorf("first event: got %s %s", all[0].ID, all[0].Type)
	}

	failed, err := Query(ctx, db, Filter{ItemID: "u2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Fatalf("u2 events: got %d, want 1", len(failed))
	}
	ev := failed[0]
	if ev.Success || ev.Step != 5 || ev.Details["step_name"] != "send" {
		t.Errorf("u2 event: got %+v", ev)
	}
}

func TestLogEvent_NilLoggerIsNoop(t *testing.T) {
	var l *EventLogger
	l.LogEvent(context.Background(), Event{Type: EventRunStarted})
}

func TestLogEvent_WriteFailureDoesNotPanic(t *testing.T) {
	db := setupEventDB(t)
	l := NewEventLogger(db, "run_b", WithLogger(slog.New(slog.DiscardHandler)))
	db.Close()
	l.LogEvent(context.Background(), Event{Type: EventRunFinished})
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.db")
	l, db, err := Open(path, "run_c")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	if l.RunID() != "run_c" {
		t.Errorf("RunID: got %q", l.RunID())
	}
	l.LogEvent(context.Background(), Event{Type: EventPageAdvanced, Page: 2, Success: true})
	evs, err := Query(context.Background(), db, Filter{Type: EventPageAdvanced})
	if err != nil || len(evs) != 1 || evs[0].Page != 2 {
		t.Errorf("Query: got %+v, %v", evs, err)
	}
}

func TestCleanup(t *testing.T) {
	db := setupEventDB(t)
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -40)
	stale := NewEventLogger(db, "old", WithClock(func() time.Time { return old }))
	fresh := NewEventLogger(db, "new")
	stale.LogEvent(ctx, Event{Type: EventRunStarted})
	fresh.LogEvent(ctx, Event{Type: EventRunStarted})

	if n, err := Cleanup(ctx, db, 0); err != nil || n != 0 {
		t.Errorf("Cleanup(0): got %d, %v; want 0, nil", n, err)
	}
	n, err := Cleanup(ctx, db, 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed: got %d, want 1", n)
	}
	left, _ := Query(ctx, db, Filter{})
	if len(left) != 1 || left[0].RunID != "new" {
		t.Errorf("remaining: got %+v", left)
	}
}

func TestMetrics_FlushOnFullBufferAndExplicitly(t *testing.T) {
	db := setupEventDB(t)
	m := NewMetrics(db, "run_m", 2, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	m.Observe(MetricItemDurationMs, 1500*time.Millisecond, map[string]string{"status": "success"})
	if got, _ := QueryMetrics(ctx, db, "", 0); len(got) != 0 {
		t.Fatalf("before buffer fills: got %d rows, want 0", len(got))
	}
	m.Observe(MetricItemDurationMs, 700*time.Millisecond, nil)
	if got, _ := QueryMetrics(ctx, db, MetricItemDurationMs, 0); len(got) != 2 {
		t.Fatalf("after buffer fills: got %d rows, want 2", len(got))
	}

	m.Observe(MetricRunDurationMs, time.Minute, nil)
	m.Flush()
	got, err := QueryMetrics(ctx, db, MetricRunDurationMs, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Value != 60000 || got[0].Unit != "milliseconds" {
		t.Errorf("run duration: got %+v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Observe(MetricPageDurationMs, time.Second, nil)
	m.Flush()
}
