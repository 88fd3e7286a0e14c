package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/isbn-scraper/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageTaskStart, ISBN: "9780306406157", Resource: "google-books", Trial: 1},
		{
			RunID:    runID,
			TS:       now.Add(time.Second),
			Stage:    progress.StageTaskDone,
			ISBN:     "9780306406157",
			Resource: "google-books",
			Trial:    1,
			Outcome:  progress.OutcomeFound,
			Dur:      200 * time.Millisecond,
		},
		{
			RunID:    runID,
			TS:       now.Add(2 * time.Second),
			Stage:    progress.StageTaskDone,
			ISBN:     "9780134173276",
			Resource: "rsl",
			Trial:    1,
			Outcome:  progress.OutcomeFailed,
		},
		{RunID: runID, TS: now.Add(3 * time.Second), Stage: progress.StageRunDone, Dur: 3 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.tasks.WithLabelValues("google-books", "found")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.tasks.WithLabelValues("rsl", "failed")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.taskDuration, "scrape_run_task_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	a := progress.UUIDToBytes(uuid.New())
	b := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: a, Stage: progress.StageRunStart},
		{RunID: a, Stage: progress.StageRunStart},
		{RunID: b, Stage: progress.StageRunStart},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: b, Stage: progress.StageRunError, Note: "canceled"},
		{RunID: b, Stage: progress.StageRunError},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
}
