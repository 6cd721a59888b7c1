package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/autoinvite/dbopen"
)

// ErrCorrupt means the stored records could not be decoded.
var ErrCorrupt = errors.New("ledger: corrupt store")

// OpenStore picks the backend from the path extension: .db, .sqlite and
// .sqlite3 use SQLite, anything else a JSON file. dbOpts only apply to
// SQLite.
func OpenStore(path string, dbOpts ...dbopen.Option) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path, dbOpts...)
	}
	return &FileStore{Path: path}, nil
}

// FileStore keeps the records in one JSON document:
//
//	{"<id>": [{"name": "...", "status": "success", "time": "2006-01-02 15:04:05"}]}
type FileStore struct {
	Path string
}

func (s *FileStore) Load(ctx context.Context) (Records, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Records{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", s.Path, err)
	}
	var recs Records
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.Path, err)
	}
	return recs, nil
}

// Save writes to a temporary file in the same directory and renames it
// over Path, so a crash mid-write leaves the previous document intact.
func (s *FileStore) Save(ctx context.Context, recs Records) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(recs); err != nil {
		return fmt.Errorf("ledger: encode: %w", err)
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.Path)+".*")
	if err != nil {
		return fmt.Errorf("ledger: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("ledger: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ledger: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("ledger: rename: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	item_id TEXT NOT NULL,
	seq     INTEGER NOT NULL,
	name    TEXT NOT NULL,
	status  TEXT NOT NULL,
	time    TEXT NOT NULL,
	PRIMARY KEY (item_id, seq)
);`

// SQLiteStore keeps the records in a ledger_entries table. Save replaces
// the table content in one transaction.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. An existing file
// that SQLite cannot open is renamed to <path>.corrupt-<timestamp>, with
// its -wal and -shm companions, and a fresh database takes its place.
func OpenSQLite(path string, dbOpts ...dbopen.Option) (*SQLiteStore, error) {
	opts := append([]dbopen.Option{dbopen.WithMkdirAll(), dbopen.WithSchema(sqliteSchema)}, dbOpts...)
	db, err := dbopen.Open(path, opts...)
	if err == nil {
		return &SQLiteStore{db: db}, nil
	}
	if fi, statErr := os.Stat(path); statErr != nil || !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	aside, mvErr := quarantine(path)
	if mvErr != nil {
		return nil, fmt.Errorf("ledger: %w (move aside: %v)", err, mvErr)
	}
	slog.Error("ledger: unreadable database moved aside, starting empty",
		"path", path, "moved_to", aside, "error", err)

	db, err = dbopen.Open(path, opts...)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func quarantine(path string) (string, error) {
	aside := path + ".corrupt-" + time.Now().Format("20060102-150405")
	if err := os.Rename(path, aside); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err == nil {
			if err := os.Rename(path+suffix, aside+suffix); err != nil {
				return "", err
			}
		}
	}
	return aside, nil
}

// NewSQLiteStore wraps an already open database and creates the table.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("ledger: schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (Records, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, name, status, time FROM ledger_entries ORDER BY item_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query: %w", err)
	}
	defer rows.Close()

	recs := Records{}
	for rows.Next() {
		var id string
		var e Entry
		if err := rows.Scan(&id, &e.Name, &e.Status, &e.Time); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", ErrCorrupt, err)
		}
		recs[id] = append(recs[id], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: rows: %w", err)
	}
	return recs, nil
}

func (s *SQLiteStore) Save(ctx context.Context, recs Records) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM ledger_entries`); err != nil {
			return fmt.Errorf("ledger: clear: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO ledger_entries (item_id, seq, name, status, time) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("ledger: prepare: %w", err)
		}
		defer stmt.Close()
		for id, entries := range recs {
			for seq, e := range entries {
				if _, err := stmt.ExecContext(ctx, id, seq, e.Name, string(e.Status), e.Time); err != nil {
					return fmt.Errorf("ledger: insert %s: %w", id, err)
				}
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
