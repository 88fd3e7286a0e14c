package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/isbn-scraper/internal/store"
)

// RunStore implements store.RunRepository on the scrape_runs and
// run_resource_stats tables.
type RunStore struct {
	db DB
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore wraps an open pool.
func NewRunStore(db DB) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.db.Close()
}

// UpsertRunStart inserts a running row unless the run already exists.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO scrape_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.db.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE scrape_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := s.db.Exec(ctx, query, finishedAt, string(status), errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// AddResourceTally adds delta to the (run, resource) counters.
func (s *RunStore) AddResourceTally(
	ctx context.Context,
	runID uuid.UUID,
	resource string,
	delta store.TallyDelta,
	at time.Time,
) error {
	query := `
		INSERT INTO run_resource_stats (run_id, resource, last_update, attempts, found, not_found, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, resource) DO UPDATE
		SET attempts = run_resource_stats.attempts + EXCLUDED.attempts,
			found = run_resource_stats.found + EXCLUDED.found,
			not_found = run_resource_stats.not_found + EXCLUDED.not_found,
			failed = run_resource_stats.failed + EXCLUDED.failed,
			last_update = GREATEST(run_resource_stats.last_update, EXCLUDED.last_update);
	`
	_, err := s.db.Exec(ctx, query,
		runID, resource, at,
		delta.Attempts, delta.Found, delta.NotFound, delta.Failed,
	)
	if err != nil {
		return fmt.Errorf("failed to add resource tally: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM scrape_runs
		WHERE id = $1;
	`
	run, err := scanRun(s.db.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *RunStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM scrape_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	var filter *string
	if status != nil {
		v := string(*status)
		filter = &v
	}
	rows, err := s.db.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListRunResources retrieves the per-resource tallies for a run.
func (s *RunStore) ListRunResources(ctx context.Context, runID uuid.UUID) ([]store.ResourceTally, error) {
	query := `
		SELECT run_id, resource, last_update, attempts, found, not_found, failed
		FROM run_resource_stats
		WHERE run_id = $1
		ORDER BY resource;
	`
	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run resources: %w", err)
	}
	defer rows.Close()

	var out []store.ResourceTally
	for rows.Next() {
		var t store.ResourceTally
		if err := rows.Scan(
			&t.RunID,
			&t.Resource,
			&t.LastUpdate,
			&t.Attempts,
			&t.Found,
			&t.NotFound,
			&t.Failed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resource row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	if err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.ErrorMessage); err != nil {
		return store.Run{}, err //nolint:wrapcheck
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
