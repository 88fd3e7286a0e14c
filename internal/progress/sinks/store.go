package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/progress"
	"github.com/JakeFAU/isbn-scraper/internal/store"
)

// StoreSink persists run lifecycle and per-resource tallies through a
// store.RunRepository. Task events are collapsed per (run, resource) before
// writing.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type tallyKey struct {
	runID    uuid.UUID
	resource string
}

type tally struct {
	delta store.TallyDelta
	at    time.Time
}

// Consume writes run events in order, then the collapsed tallies.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	tallies := make(map[tallyKey]*tally)
	var keys []tallyKey
	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunDone:
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageRunError:
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageTaskDone:
			key := tallyKey{runID: runID, resource: evt.Resource}
			t := tallies[key]
			if t == nil {
				t = &tally{}
				tallies[key] = t
				keys = append(keys, key)
			}
			t.delta.Attempts++
			switch evt.Outcome {
			case progress.OutcomeFound:
				t.delta.Found++
			case progress.OutcomeNotFound:
				t.delta.NotFound++
			default:
				t.delta.Failed++
			}
			if evt.TS.After(t.at) {
				t.at = evt.TS
			}
		}
	}

	for _, key := range keys {
		t := tallies[key]
		if err := s.repo.AddResourceTally(ctx, key.runID, key.resource, t.delta, t.at); err != nil {
			return fmt.Errorf("add resource tally: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
