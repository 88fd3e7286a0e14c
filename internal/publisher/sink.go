// Package publisher announces found records on a message bus.
package publisher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/hash/sha256"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

// Publisher sends one payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
}

// RecordMessage is the payload published for every found record.
type RecordMessage struct {
	RunID  string       `json:"run_id"`
	Record *book.Record `json:"record"`
}

// RecordSink publishes each found record of a run. It implements
// scraper.ResultSink.
type RecordSink struct {
	pub    Publisher
	topic  string
	hasher *sha256.Hasher
	logger *zap.Logger
}

// NewRecordSink wires pub to topic.
func NewRecordSink(pub Publisher, topic string, logger *zap.Logger) (*RecordSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("publisher.topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordSink{pub: pub, topic: topic, hasher: sha256.New(), logger: logger}, nil
}

// WriteRun publishes every found record. Each message carries a content
// fingerprint attribute so subscribers can drop records already seen. All
// records are attempted; the returned error joins the individual failures.
func (s *RecordSink) WriteRun(ctx context.Context, run scraper.RunResult) error {
	var errs []error
	for _, rec := range run.Found() {
		attrs := map[string]string{
			"run_id":      run.RunID,
			"isbn":        rec.ISBN,
			"source":      rec.Source,
			"fingerprint": s.hasher.Fingerprint(rec),
		}
		id, err := s.pub.Publish(ctx, s.topic, RecordMessage{RunID: run.RunID, Record: rec}, attrs)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", rec.ISBN, err))
			continue
		}
		s.logger.Debug("record published",
			zap.String("run_id", run.RunID),
			zap.String("isbn", rec.ISBN),
			zap.String("message_id", id),
		)
	}
	return errors.Join(errs...)
}
