package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/autoinvite/dbopen"
)

// Metric names recorded by the bot.
const (
	MetricItemDurationMs = "item_duration_ms"
	MetricPageDurationMs = "page_duration_ms"
	MetricRunDurationMs  = "run_duration_ms"
)

// Metric is one datapoint.
type Metric struct {
	Name      string
	Timestamp time.Time
	Value     float64
	Labels    map[string]string
	Unit      string
}

// Metrics buffers datapoints and writes them in one transaction when the
// buffer fills or on Flush.
type Metrics struct {
	db     *sql.DB
	runID  string
	size   int
	logger *slog.Logger

	mu     sync.Mutex
	buffer []Metric
}

// NewMetrics returns a buffer of the given size (minimum 1).
func NewMetrics(db *sql.DB, runID string, size int, logger *slog.Logger) *Metrics {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{db: db, runID: runID, size: size, logger: logger}
}

// Observe queues a duration in milliseconds. A nil receiver is a no-op.
func (m *Metrics) Observe(name string, d time.Duration, labels map[string]string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = append(m.buffer, Metric{
		Name:      name,
		Timestamp: time.Now(),
		Value:     float64(d.Milliseconds()),
		Labels:    labels,
		Unit:      "milliseconds",
	})
	if len(m.buffer) >= m.size {
		m.flushLocked()
	}
}

// Flush writes the buffered datapoints.
func (m *Metrics) Flush() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushLocked()
}

func (m *Metrics) flushLocked() {
	if len(m.buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, m.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO run_metrics (run_id, metric_name, timestamp, value, labels, unit) VALUES (?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, mt := range m.buffer {
			var labels sql.NullString
			if len(mt.Labels) > 0 {
				if b, err := json.Marshal(mt.Labels); err == nil {
					labels = sql.NullString{String: string(b), Valid: true}
				}
			}
			if _, err := stmt.ExecContext(ctx, m.runID, mt.Name, mt.Timestamp.Unix(), mt.Value, labels, mt.Unit); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Error("observability: metrics flush failed", "error", err, "dropped", len(m.buffer))
	}
	m.buffer = m.buffer[:0]
}

// QueryMetrics returns datapoints named name (all when empty), newest
// first.
func QueryMetrics(ctx context.Context, db *sql.DB, name string, limit int) ([]Metric, error) {
	q := "SELECT metric_name, timestamp, value, labels, COALESCE(unit, '') FROM run_metrics WHERE 1=1"
	var args []any
	if name != "" {
		q += " AND metric_name = ?"
		args = append(args, name)
	}
	q += " ORDER BY timestamp DESC, metric_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Metric
	for rows.Next() {
		var mt Metric
		var ts int64
		var labels sql.NullString
		if err := rows.Scan(&mt.Name, &ts, &mt.Value, &labels, &mt.Unit); err != nil {
			return nil, err
		}
		mt.Timestamp = time.Unix(ts, 0)
		if labels.Valid {
			json.Unmarshal([]byte(labels.String), &mt.Labels)
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}
