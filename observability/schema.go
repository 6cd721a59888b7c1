package observability

import "database/sql"

// Schema is the DDL of the event database.
const Schema = `
CREATE TABLE IF NOT EXISTS run_events (
    event_id   TEXT PRIMARY KEY,
    run_id     TEXT NOT NULL,
    event_type TEXT NOT NULL,
    page       INTEGER NOT NULL DEFAULT 0,
    item_id    TEXT,
    item_name  TEXT,
    step       INTEGER NOT NULL DEFAULT 0,
    details    TEXT,
    success    INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, created_at);
CREATE INDEX IF NOT EXISTS idx_run_events_item ON run_events(item_id);

CREATE TABLE IF NOT EXISTS run_metrics (
    metric_id   INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_metrics_name_time
    ON run_metrics(metric_name, timestamp DESC);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
