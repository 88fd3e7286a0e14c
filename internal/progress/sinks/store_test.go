package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/isbn-scraper/internal/progress"
	"github.com/JakeFAU/isbn-scraper/internal/store"
)

// TestStoreSinkPersistsEvents ensures task outcomes are collapsed per resource before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	taskDone := func(resource string, outcome progress.Outcome, offset time.Duration) progress.Event {
		return progress.Event{
			RunID:    runID,
			Stage:    progress.StageTaskDone,
			ISBN:     "9780306406157",
			Resource: resource,
			Trial:    1,
			Outcome:  outcome,
			TS:       now.Add(offset),
		}
	}

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{RunID: runID, Stage: progress.StageTaskStart, Resource: "google-books", TS: now},
		taskDone("google-books", progress.OutcomeNotFound, time.Second),
		taskDone("google-books", progress.OutcomeFound, 2*time.Second),
		taskDone("rsl", progress.OutcomeFailed, 3*time.Second),
		taskDone("rsl", progress.OutcomeCircuitOpen, 4*time.Second),
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(5 * time.Second), Dur: 5 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunSuccess, repo.completes[0].status)
	require.Len(t, repo.tallies, 2)

	google := repo.tallies[0]
	require.Equal(t, "google-books", google.resource)
	require.Equal(t, store.TallyDelta{Attempts: 2, Found: 1, NotFound: 1}, google.delta)
	require.True(t, google.at.Equal(now.Add(2*time.Second)))

	rsl := repo.tallies[1]
	require.Equal(t, "rsl", rsl.resource)
	require.Equal(t, store.TallyDelta{Attempts: 2, Failed: 2}, rsl.delta)
}

func TestStoreSinkRunError(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunError, TS: time.Now(), Note: "context canceled"},
	}))
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunError, repo.completes[0].status)
	require.NotNil(t, repo.completes[0].errMsg)
	require.Equal(t, "context canceled", *repo.completes[0].errMsg)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "upsert run start")

	require.NoError(t, (*StoreSink)(nil).Consume(context.Background(), nil))
}

type fakeRunRepo struct {
	fail      bool
	starts    []uuid.UUID
	completes []completeCall
	tallies   []tallyCall
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	errMsg *string
}

type tallyCall struct {
	runID    uuid.UUID
	resource string
	delta    store.TallyDelta
	at       time.Time
}

var errRepo = errors.New("repo unavailable")

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, runID uuid.UUID, _ time.Time) error {
	if f.fail {
		return errRepo
	}
	f.starts = append(f.starts, runID)
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if f.fail {
		return errRepo
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status, errMsg: errMsg})
	return nil
}

func (f *fakeRunRepo) AddResourceTally(
	_ context.Context,
	runID uuid.UUID,
	resource string,
	delta store.TallyDelta,
	at time.Time,
) error {
	if f.fail {
		return errRepo
	}
	f.tallies = append(f.tallies, tallyCall{runID: runID, resource: resource, delta: delta, at: at})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, nil
}

func (f *fakeRunRepo) ListRunResources(context.Context, uuid.UUID) ([]store.ResourceTally, error) {
	return nil, nil
}
