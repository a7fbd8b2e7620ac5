// Package aggregator persists snapshots of the analytics aggregator's
// statistics to PostgreSQL so popularity survives restarts.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/alumni-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/alumni-search/pkg/postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS analytics_snapshots (
    id          BIGSERIAL PRIMARY KEY,
    data        JSONB NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Snapshot is a stored copy of the aggregated stats.
type Snapshot struct {
	ID         int64                     `json:"id"`
	Stats      analytics.AggregatedStats `json:"stats"`
	CapturedAt time.Time                 `json:"captured_at"`
}

// DefaultRetention is the number of snapshots kept when NewStore is given
// a non-positive retention.
const DefaultRetention = 288

// Store persists aggregated analytics snapshots in PostgreSQL, keeping the
// newest retain rows.
type Store struct {
	db     *postgres.Client
	retain int
	logger *slog.Logger
}

func NewStore(db *postgres.Client, retain int) *Store {
	if retain <= 0 {
		retain = DefaultRetention
	}
	return &Store{
		db:     db,
		retain: retain,
		logger: slog.Default().With("component", "analytics-store"),
	}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating analytics_snapshots: %w", err)
	}
	return nil
}

// SaveSnapshot inserts stats and trims older snapshots beyond the
// retention in the same transaction.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}

	var pruned int64
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO analytics_snapshots (data, captured_at) VALUES ($1, $2)`,
			data, time.Now().UTC(),
		); err != nil {
			return fmt.Errorf("inserting analytics snapshot: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM analytics_snapshots WHERE id NOT IN (
				SELECT id FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1
			)`, s.retain,
		)
		if err != nil {
			return fmt.Errorf("pruning analytics snapshots: %w", err)
		}
		pruned, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}

	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"total_clicks", stats.TotalClicks,
		"pruned", pruned,
	)
	return nil
}

// LatestSnapshot loads the most recent snapshot. It returns nil, nil when
// none exist yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	var (
		snap Snapshot
		data []byte
	)
	err := s.db.DB.QueryRowContext(ctx,
		`SELECT id, data, captured_at FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT 1`,
	).Scan(&snap.ID, &data, &snap.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &snap.Stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot %d: %w", snap.ID, err)
	}
	return &snap, nil
}

// ListSnapshots returns the last limit snapshots, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]Snapshot, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, data, captured_at FROM analytics_snapshots ORDER BY captured_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0, limit)
	for rows.Next() {
		var (
			snap Snapshot
			data []byte
		)
		if err := rows.Scan(&snap.ID, &data, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if err := json.Unmarshal(data, &snap.Stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "id", snap.ID, "error", err)
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// Restore seeds agg from the latest snapshot, if any.
func (s *Store) Restore(ctx context.Context, agg *analytics.Aggregator) error {
	snap, err := s.LatestSnapshot(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		s.logger.Info("no analytics snapshot to restore")
		return nil
	}
	agg.Restore(snap.Stats)
	s.logger.Info("analytics restored from snapshot",
		"snapshot_id", snap.ID,
		"captured_at", snap.CapturedAt,
	)
	return nil
}

// StartPeriodicSave snapshots agg every interval and once more when ctx is
// cancelled.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval)
}
