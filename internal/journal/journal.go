// Package journal persists received stream events in SQLite so the derived
// execution runtime can be rebuilt by replay after a restart or a long
// stream outage. The journal is strictly append-only per campaign and
// preserves arrival order; it is a cache of events, never the source of
// truth for state transitions.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"flowctl/internal/logging"
)

// Journal is an append-only event log backed by SQLite.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	campaign_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	payload     BLOB,
	received_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_campaign ON events(campaign_id, seq);
`

// Open opens (or creates) a journal at path. Use ":memory:" for tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// A single writer keeps appends ordered and sidesteps SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	logging.Journal("journal opened at %s", path)
	return &Journal{db: db}, nil
}

// Close releases the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one event for a campaign.
func (j *Journal) Append(ctx context.Context, campaignID, kind string, payload []byte) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (campaign_id, kind, payload, received_at) VALUES (?, ?, ?, ?)`,
		campaignID, kind, payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append event for %s: %w", campaignID, err)
	}
	return nil
}

// Replay invokes fn for every journaled event of a campaign in arrival
// order. fn returning an error stops the replay.
func (j *Journal) Replay(ctx context.Context, campaignID string, fn func(kind string, payload []byte) error) error {
	rows, err := j.db.QueryContext(ctx,
		`SELECT kind, payload FROM events WHERE campaign_id = ? ORDER BY seq`, campaignID)
	if err != nil {
		return fmt.Errorf("replay query for %s: %w", campaignID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind string
		var payload []byte
		if err := rows.Scan(&kind, &payload); err != nil {
			return fmt.Errorf("scan journaled event: %w", err)
		}
		if err := fn(kind, payload); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of journaled events for a campaign.
func (j *Journal) Count(ctx context.Context, campaignID string) (int64, error) {
	var n int64
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE campaign_id = ?`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events for %s: %w", campaignID, err)
	}
	return n, nil
}

// Prune deletes all journaled events for a campaign, typically after it
// reaches a terminal status.
func (j *Journal) Prune(ctx context.Context, campaignID string) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM events WHERE campaign_id = ?`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("prune events for %s: %w", campaignID, err)
	}
	n, _ := res.RowsAffected()
	logging.Journal("pruned %d events for campaign %s", n, campaignID)
	return n, nil
}
