// Package store keeps an observability journal of retry chains in SQLite.
// The journal is written as chains progress and read by the stats surfaces;
// it is never used to resume work after a restart.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"japagenie/internal/bus"
)

// Chain statuses.
const (
	StatusRetrying  = "retrying"
	StatusDelivered = "delivered"
	StatusStopped   = "stopped"
	StatusAbandoned = "abandoned" // still retrying when a previous process exited
)

// ChainRecord is one journaled retry chain.
type ChainRecord struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	Destination string    `json:"destination"`
	Query       string    `json:"query"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Journal records retry-chain lifecycle events.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewJournal(dbPath string, logger *slog.Logger) (*Journal, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach subscribes the journal to every chain event on eb.
func (j *Journal) Attach(eb *bus.EventBus) {
	eb.On("*", j.OnEvent)
}

// OnEvent records ev, logging rather than returning failures.
func (j *Journal) OnEvent(ev bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := j.Record(ctx, ev); err != nil {
		j.logger.Warn("journal write failed", "event", ev.Type, "chain_id", ev.ChainID, "err", err)
	}
}

// Record applies one lifecycle event.
func (j *Journal) Record(ctx context.Context, ev bus.Event) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	var err error
	switch ev.Type {
	case bus.EventChainStarted:
		_, err = j.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO retry_chains (id, channel, destination, query, status, attempts, started_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			ev.ChainID, ev.Channel, ev.Destination, ev.Query, StatusRetrying, ts, ts,
		)
	case bus.EventChainAttempt:
		err = j.update(ctx, ev.ChainID, StatusRetrying, ev.Attempt, ev.Err, ts)
	case bus.EventChainDone:
		err = j.update(ctx, ev.ChainID, StatusDelivered, ev.Attempt, "", ts)
	case bus.EventChainStopped:
		err = j.update(ctx, ev.ChainID, StatusStopped, ev.Attempt, ev.Err, ts)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s: %w", ev.Type, err)
	}
	return nil
}

func (j *Journal) update(ctx context.Context, id, status string, attempts int, lastErr string, ts time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE retry_chains SET status=?, attempts=?, last_error=?, updated_at=? WHERE id=?`,
		status, attempts, lastErr, ts, id,
	)
	return err
}

// AbandonOpen marks chains left in the retrying state by an earlier process.
// It returns how many were marked.
func (j *Journal) AbandonOpen(ctx context.Context) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`UPDATE retry_chains SET status=?, updated_at=? WHERE status=?`,
		StatusAbandoned, time.Now().UTC(), StatusRetrying,
	)
	if err != nil {
		return 0, fmt.Errorf("abandon open chains: %w", err)
	}
	return res.RowsAffected()
}

// Recent returns the most recently started chains.
func (j *Journal) Recent(ctx context.Context, limit int) ([]ChainRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, channel, destination, query, status, attempts, last_error, started_at, updated_at
		 FROM retry_chains ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChainRecord
	for rows.Next() {
		var r ChainRecord
		if err := rows.Scan(&r.ID, &r.Channel, &r.Destination, &r.Query, &r.Status,
			&r.Attempts, &r.LastError, &r.StartedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Counts returns the number of chains per status.
func (j *Journal) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM retry_chains GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
