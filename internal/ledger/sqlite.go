// ABOUTME: SQLite-backed ledger persisting domain events using modernc.org/sqlite
// ABOUTME: Observability append-only record; never consulted for control flow

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/octogate/octogate/internal/events"
)

// Entry is one persisted domain event.
type Entry struct {
	ID            string
	Name          string
	CorrelationID string
	Timestamp     time.Time
	Data          map[string]any
}

// SQLiteLedger records domain events to a local SQLite database.
type SQLiteLedger struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates (or opens) a ledger database at the given path.
// Parent directories are created if needed.
func Open(path string, logger *slog.Logger) (*SQLiteLedger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// WAL for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS domain_events (
			event_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			correlation_id TEXT,
			timestamp DATETIME NOT NULL,
			data TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_domain_events_correlation
			ON domain_events(correlation_id, timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	logger.Info("ledger initialized", "path", path)
	return &SQLiteLedger{db: db, logger: logger}, nil
}

// Record persists one event.
func (l *SQLiteLedger) Record(ctx context.Context, ev events.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshaling event data: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO domain_events (event_id, name, correlation_id, timestamp, data)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Name, ev.CorrelationID, ev.Timestamp.UTC().Format(time.RFC3339Nano), string(data),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Listener adapts the ledger into a notifier subscription. Record failures
// surface as listener errors; the notifier logs and swallows them.
func (l *SQLiteLedger) Listener() events.Listener {
	return func(ev events.Event) error {
		return l.Record(context.Background(), ev)
	}
}

// Recent returns the most recent events, newest first. A limit of 0 defaults
// to 50.
func (l *SQLiteLedger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, name, correlation_id, timestamp, data
		 FROM domain_events
		 ORDER BY timestamp DESC, event_id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var correlationID sql.NullString
		var ts, data string

		if err := rows.Scan(&entry.ID, &entry.Name, &correlationID, &ts, &data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		entry.CorrelationID = correlationID.String
		if entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
			return nil, fmt.Errorf("unmarshaling event data: %w", err)
		}

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ByCorrelation returns every event for a correlation id in emission order.
func (l *SQLiteLedger) ByCorrelation(ctx context.Context, correlationID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT event_id, name, correlation_id, timestamp, data
		 FROM domain_events
		 WHERE correlation_id = ?
		 ORDER BY timestamp, event_id`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var corr sql.NullString
		var ts, data string

		if err := rows.Scan(&entry.ID, &entry.Name, &corr, &ts, &data); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}

		entry.CorrelationID = corr.String
		if entry.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
			return nil, fmt.Errorf("unmarshaling event data: %w", err)
		}

		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
