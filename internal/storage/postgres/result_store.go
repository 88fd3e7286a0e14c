package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

// ResultStore upserts found records into the results table, one row per
// ISBN. It implements scraper.ResultSink.
type ResultStore struct {
	db    DB
	table string
}

var _ scraper.ResultSink = (*ResultStore)(nil)

// NewResultStore wraps an open pool. table defaults to book_results.
func NewResultStore(db DB, table string) (*ResultStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "book_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{db: db, table: table}, nil
}

// WriteRun upserts every found record of the run inside one transaction.
func (s *ResultStore) WriteRun(ctx context.Context, run scraper.RunResult) (err error) {
	found := run.Found()
	if len(found) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	isbn,
	run_id,
	title,
	authors,
	pages,
	year,
	source,
	url,
	confidence,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (isbn) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	title = EXCLUDED.title,
	authors = EXCLUDED.authors,
	pages = EXCLUDED.pages,
	year = EXCLUDED.year,
	source = EXCLUDED.source,
	url = EXCLUDED.url,
	confidence = EXCLUDED.confidence,
	updated_at = EXCLUDED.updated_at`, s.table)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin results tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for _, rec := range found {
		authors := rec.Authors
		if authors == nil {
			authors = []string{}
		}
		if _, err = tx.Exec(ctx, query,
			rec.ISBN,
			run.RunID,
			rec.Title,
			authors,
			rec.Pages,
			rec.Year,
			rec.Source,
			rec.URL,
			rec.Confidence,
			run.FinishedAt,
		); err != nil {
			return fmt.Errorf("upsert result %s: %w", rec.ISBN, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit results tx: %w", err)
	}
	return nil
}
