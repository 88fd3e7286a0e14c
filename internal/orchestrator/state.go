package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/progress"
)

// isbnState is the per-ISBN aggregate that task results fold into.
type isbnState struct {
	isbn   string
	cached bool

	mu     sync.Mutex
	tried  []string
	record *book.Record
}

func (s *isbnState) merge(rec *book.Record) {
	s.mu.Lock()
	s.record = book.Merge(s.record, rec)
	s.mu.Unlock()
}

// run is the bookkeeping for one Scrape call.
type run struct {
	id        string
	uuid      [16]byte
	startedAt time.Time

	// byInput maps each input position to its state; nil for invalid input.
	byInput []*isbnState
	// states holds one entry per distinct valid ISBN.
	states []*isbnState
	// pending are the states that need fetching (not served from cache).
	pending []*isbnState
}

// newRun validates the input and splits it into cached and pending ISBNs.
// Duplicate inputs share one state so each ISBN is fetched once.
func (o *Orchestrator) newRun(isbns []string) *run {
	id := o.newTaskID()
	parsed, err := uuid.Parse(id)
	if err != nil {
		parsed = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
	}
	r := &run{
		id:        id,
		uuid:      progress.UUIDToBytes(parsed),
		startedAt: o.clock.Now(),
		byInput:   make([]*isbnState, len(isbns)),
	}

	seen := make(map[string]*isbnState, len(isbns))
	for i, raw := range isbns {
		normalized, err := o.validate(raw)
		if err != nil {
			o.logger.Warn("dropping invalid isbn", zap.String("isbn", raw), zap.Error(err))
			metrics.ObserveISBN("invalid")
			continue
		}
		st, ok := seen[normalized]
		if !ok {
			st = &isbnState{isbn: normalized}
			if rec, hit := o.cache.Get(normalized); hit {
				st.record = rec
				st.cached = true
			} else {
				r.pending = append(r.pending, st)
			}
			seen[normalized] = st
			r.states = append(r.states, st)
		}
		r.byInput[i] = st
	}
	return r
}

// results copies each input's record so callers cannot race late merges.
// Records holding nothing but placeholders come back as nil.
func (r *run) results() []*book.Record {
	out := make([]*book.Record, len(r.byInput))
	for i, st := range r.byInput {
		if st == nil {
			continue
		}
		st.mu.Lock()
		if st.record.Usable() {
			out[i] = st.record.Clone()
		}
		st.mu.Unlock()
	}
	return out
}
