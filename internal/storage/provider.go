// Package storage exports run results to blob stores. Backends live in the
// local, gcs and memory subpackages.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

// BlobStore persists an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Export formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ExportConfig controls how runs are laid out in the blob store.
type ExportConfig struct {
	// Prefix is prepended to every object path.
	Prefix string `mapstructure:"prefix"`
	// Format is json or yaml.
	Format string `mapstructure:"format"`
}

// ExportSink writes each run as one object. It implements scraper.ResultSink.
type ExportSink struct {
	store  BlobStore
	cfg    ExportConfig
	logger *zap.Logger
}

// NewExportSink validates cfg and wraps store.
func NewExportSink(store BlobStore, cfg ExportConfig, logger *zap.Logger) (*ExportSink, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatJSON
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("unknown export format %q", cfg.Format)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportSink{store: store, cfg: cfg, logger: logger}, nil
}

// ObjectPath returns the object key a run is written to:
// <prefix>/runs/<yyyy>/<mm>/<dd>/<run id>.<format>.
func (s *ExportSink) ObjectPath(run scraper.RunResult) string {
	day := run.StartedAt.UTC()
	name := fmt.Sprintf("%s.%s", run.RunID, s.cfg.Format)
	return path.Join(
		strings.Trim(s.cfg.Prefix, "/"),
		"runs",
		day.Format("2006"),
		day.Format("01"),
		day.Format("02"),
		name,
	)
}

// WriteRun encodes run and uploads it.
func (s *ExportSink) WriteRun(ctx context.Context, run scraper.RunResult) error {
	if run.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	data, contentType, err := s.encode(run)
	if err != nil {
		return err
	}
	uri, err := s.store.PutObject(ctx, s.ObjectPath(run), contentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put run export: %w", err)
	}
	s.logger.Info("run exported",
		zap.String("run_id", run.RunID),
		zap.String("uri", uri),
		zap.Int("found", len(run.Found())),
		zap.Int("isbns", len(run.ISBNs)),
	)
	return nil
}

func (s *ExportSink) encode(run scraper.RunResult) ([]byte, string, error) {
	switch s.cfg.Format {
	case FormatYAML:
		data, err := yaml.Marshal(run)
		if err != nil {
			return nil, "", fmt.Errorf("encode run yaml: %w", err)
		}
		return data, "application/yaml", nil
	default:
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode run json: %w", err)
		}
		return data, "application/json", nil
	}
}
