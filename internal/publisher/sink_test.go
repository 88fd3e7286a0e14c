package publisher_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/publisher"
	"github.com/JakeFAU/isbn-scraper/internal/publisher/memory"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

func TestRecordSinkPublishesFoundRecords(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink, err := publisher.NewRecordSink(pub, "isbn-records", zap.NewNop())
	require.NoError(t, err)

	rec := &book.Record{ISBN: "9780306406157", Title: "Signals", Source: "google-books"}
	require.NoError(t, sink.WriteRun(context.Background(), scraper.RunResult{
		RunID:   "run-1",
		Records: []*book.Record{nil, rec},
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "isbn-records", msgs[0].Topic)
	require.Equal(t, "9780306406157", msgs[0].Attributes["isbn"])
	require.Len(t, msgs[0].Attributes["fingerprint"], 64)
	require.Equal(t, publisher.RecordMessage{RunID: "run-1", Record: rec}, msgs[0].Payload)
}

func TestRecordSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	pub.FailWith(errors.New("topic deleted"))
	sink, err := publisher.NewRecordSink(pub, "isbn-records", nil)
	require.NoError(t, err)

	err = sink.WriteRun(context.Background(), scraper.RunResult{
		RunID: "run-1",
		Records: []*book.Record{
			{ISBN: "9780306406157", Title: "A"},
			{ISBN: "9780134173276", Title: "B"},
		},
	})
	require.ErrorContains(t, err, "publish 9780306406157")
	require.ErrorContains(t, err, "publish 9780134173276")

	_, err = publisher.NewRecordSink(nil, "t", nil)
	require.Error(t, err)
	_, err = publisher.NewRecordSink(pub, "", nil)
	require.Error(t, err)
}
