package dbopen

import (
	"bytes"
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"testing"
)

func TestWithTrace_LogsStatements(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	db := OpenMemory(t, WithTrace(logger), WithSchema("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)"))

	if _, err := db.Exec("INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1"); err != nil {
		t.Fatal(err)
	}
	var v string
	if err := db.QueryRow("SELECT v FROM kv WHERE k = ?", "a").Scan(&v); err != nil {
		t.Fatal(err)
	}
	if v != "1" {
		t.Errorf("value: got %q, want %q", v, "1")
	}

	out := buf.String()
	for _, want := range []string{"INSERT INTO kv", "SELECT v FROM kv", "op=query", "op=exec"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "PRAGMA journal_mode") {
		t.Error("fast PRAGMA statements should not be logged")
	}
}

func TestWithTrace_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError}))
	db := OpenMemory(t, WithTrace(logger))

	if _, err := db.ExecContext(context.Background(), "INSERT INTO missing VALUES (1)"); err == nil {
		t.Fatal("insert into missing table: got nil error")
	}
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("failure not logged at error level:\n%s", buf.String())
	}
}

func TestWithTrace_Transactions(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	db := OpenMemory(t, WithTrace(logger), WithSchema("CREATE TABLE n (x INTEGER)"))

	err := RunTx(context.Background(), db, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO n VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	var count int
	db.QueryRow("SELECT COUNT(*) FROM n").Scan(&count)
	if count != 1 {
		t.Errorf("rows: got %d, want 1", count)
	}
}
