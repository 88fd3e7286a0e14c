package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
	"github.com/JakeFAU/isbn-scraper/internal/storage"
	"github.com/JakeFAU/isbn-scraper/internal/storage/memory"
)

func sampleRun() scraper.RunResult {
	started := time.Date(2026, 3, 9, 22, 15, 0, 0, time.UTC)
	return scraper.RunResult{
		RunID:      "run-1",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		ISBNs:      []string{"9780306406157", "9780134173276"},
		Records: []*book.Record{
			{ISBN: "9780306406157", Title: "Signals", Authors: []string{"A. Author"}, Source: "google-books"},
			nil,
		},
	}
}

func TestExportSinkWritesJSON(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	sink, err := storage.NewExportSink(blobs, storage.ExportConfig{Prefix: "/exports/"}, nil)
	require.NoError(t, err)

	run := sampleRun()
	require.Equal(t, "exports/runs/2026/03/09/run-1.json", sink.ObjectPath(run))
	require.NoError(t, sink.WriteRun(context.Background(), run))

	obj, ok := blobs.Get("exports/runs/2026/03/09/run-1.json")
	require.True(t, ok)
	require.Equal(t, "application/json", obj.ContentType)

	var decoded scraper.RunResult
	require.NoError(t, json.Unmarshal(obj.Data, &decoded))
	require.Equal(t, run.ISBNs, decoded.ISBNs)
	require.Len(t, decoded.Records, 2)
	require.Nil(t, decoded.Records[1])
	require.Equal(t, "Signals", decoded.Records[0].Title)
}

func TestExportSinkWritesYAML(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	sink, err := storage.NewExportSink(blobs, storage.ExportConfig{Format: storage.FormatYAML}, nil)
	require.NoError(t, err)
	require.NoError(t, sink.WriteRun(context.Background(), sampleRun()))

	obj, ok := blobs.Get("runs/2026/03/09/run-1.yaml")
	require.True(t, ok)
	var decoded struct {
		RunID string   `yaml:"run_id"`
		ISBNs []string `yaml:"isbns"`
	}
	require.NoError(t, yaml.Unmarshal(obj.Data, &decoded))
	require.Equal(t, "run-1", decoded.RunID)
	require.Len(t, decoded.ISBNs, 2)
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestExportSinkErrors(t *testing.T) {
	t.Parallel()

	_, err := storage.NewExportSink(nil, storage.ExportConfig{}, nil)
	require.Error(t, err)
	_, err = storage.NewExportSink(memory.NewBlobStore(), storage.ExportConfig{Format: "csv"}, nil)
	require.ErrorContains(t, err, "unknown export format")

	sink, err := storage.NewExportSink(failingStore{}, storage.ExportConfig{}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, sink.WriteRun(context.Background(), sampleRun()), "bucket gone")
	require.ErrorContains(t, sink.WriteRun(context.Background(), scraper.RunResult{}), "run id is required")
}
