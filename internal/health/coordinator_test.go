package health

import (
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/resource"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCoordinator(t *testing.T, cfg Config, opts ...Option) (*Coordinator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewCoordinator(resource.Defaults(), cfg, zap.NewNop(), opts...), clock
}

func TestNextResourceNeverReturnsTried(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	c, _ := newTestCoordinator(t, DefaultConfig(), WithRand(rng.Float64))
	ids := resource.Defaults().IDs()

	for i := 0; i < 500; i++ {
		var tried []string
		for _, id := range ids {
			if rng.IntN(2) == 0 {
				tried = append(tried, id)
			}
		}
		got, ok := c.NextResource("9780306406157", tried)
		if len(tried) == len(ids) {
			require.False(t, ok)
			require.Empty(t, got)
			continue
		}
		require.True(t, ok)
		require.NotContains(t, tried, got)
		require.Contains(t, ids, got)
	}
}

func TestNextResourceSkipsUnavailable(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, DefaultConfig())
	require.NoError(t, c.Disable("chitai-gorod"))
	require.NoError(t, c.Disable("book-ru"))
	c.UpdateStats("google-books", false, time.Second, "429 too many requests", true)
	require.NoError(t, c.Disable("rsl"))

	for i := 0; i < 20; i++ {
		got, ok := c.NextResource("x", nil)
		require.True(t, ok)
		require.Equal(t, "open-library", got)
	}
	_, ok := c.NextResource("x", []string{"open-library"})
	require.False(t, ok)
}

func TestOrderedSelection(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Selection = SelectOrdered
	c, _ := newTestCoordinator(t, cfg)

	var seq []string
	var tried []string
	for {
		id, ok := c.NextResource("x", tried)
		if !ok {
			break
		}
		seq = append(seq, id)
		tried = append(tried, id)
	}
	require.Equal(t, []string{"chitai-gorod", "google-books", "book-ru", "open-library", "rsl"}, seq)
}

func TestWeightedSelectionFavoursHealthyResources(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 7))
	c, clock := newTestCoordinator(t, Config{ErrorThreshold: 1000, Selection: SelectWeighted}, WithRand(rng.Float64))
	for i := 0; i < 40; i++ {
		c.UpdateStats("chitai-gorod", false, time.Second, "parse error", false)
	}
	clock.Advance(48 * time.Hour)

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		id, ok := c.NextResource("x", []string{"google-books", "open-library", "rsl"})
		require.True(t, ok)
		counts[id]++
	}
	require.Greater(t, counts["book-ru"], counts["chitai-gorod"])
	require.Greater(t, counts["chitai-gorod"], 0)
}

func TestErrorThresholdAndRecovery(t *testing.T) {
	t.Parallel()

	c, clock := newTestCoordinator(t, DefaultConfig())
	for i := 0; i < 5; i++ {
		c.UpdateStats("book-ru", false, time.Second, "timeout", false)
	}
	status, _ := c.Status("book-ru")
	require.Equal(t, StatusAvailable, status, "five consecutive failures are tolerated")

	c.UpdateStats("book-ru", false, time.Second, "timeout", false)
	status, _ = c.Status("book-ru")
	require.Equal(t, StatusError, status)

	c.UpdateStats("book-ru", true, time.Second, "", false)
	status, _ = c.Status("book-ru")
	require.Equal(t, StatusError, status, "success does not clear error status")

	clock.Advance(4 * time.Minute)
	status, _ = c.Status("book-ru")
	require.Equal(t, StatusError, status)

	clock.Advance(time.Minute)
	status, _ = c.Status("book-ru")
	require.Equal(t, StatusAvailable, status)
	stats, _ := c.Stats("book-ru")
	require.Zero(t, stats.ConsecutiveErrors)
}

func TestConsecutiveErrorsResetOnSuccess(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, DefaultConfig())
	for i := 0; i < 10; i++ {
		c.UpdateStats("rsl", i%3 == 2, time.Second, "boom", false)
	}
	status, _ := c.Status("rsl")
	require.Equal(t, StatusAvailable, status)

	stats, ok := c.Stats("rsl")
	require.True(t, ok)
	require.Equal(t, 10, stats.Attempts)
	require.Equal(t, stats.Attempts, stats.Successes+stats.Failures)
	require.Equal(t, 1, stats.ConsecutiveErrors)
	require.Equal(t, "boom", stats.LastError)
}

func TestRateLimitedAndReset(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RecoveryCooldown = 0
	c, clock := newTestCoordinator(t, cfg)
	c.UpdateStats("google-books", false, 200*time.Millisecond, "429 rate limit", true)

	status, _ := c.Status("google-books")
	require.Equal(t, StatusRateLimited, status)
	clock.Advance(24 * time.Hour)
	status, _ = c.Status("google-books")
	require.Equal(t, StatusRateLimited, status, "no automatic recovery with zero cooldown")

	require.NoError(t, c.ResetStatus("google-books"))
	status, _ = c.Status("google-books")
	require.Equal(t, StatusAvailable, status)
	require.Error(t, c.ResetStatus("missing"))
}

func TestDisabledIgnoresUpdatesAndCooldown(t *testing.T) {
	t.Parallel()

	c, clock := newTestCoordinator(t, DefaultConfig())
	require.NoError(t, c.Disable("rsl"))
	c.UpdateStats("rsl", false, 0, "blocked", true)
	clock.Advance(time.Hour)
	status, _ := c.Status("rsl")
	require.Equal(t, StatusDisabled, status)
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		stats Stats
		want  float64
	}{
		{name: "fresh", stats: Stats{}, want: 0.6},
		{name: "recently used perfect", stats: Stats{Attempts: 4, Successes: 4, LastUsed: now.Add(-time.Minute)}, want: 0.8},
		{name: "used yesterday", stats: Stats{Attempts: 2, Successes: 1, Failures: 1, LastUsed: now.Add(-3 * time.Hour)}, want: 0.4},
		{name: "penalty past ten attempts", stats: Stats{Attempts: 20, Successes: 10, Failures: 10}, want: 0.2},
		{name: "clamped at zero", stats: Stats{Attempts: 20, Failures: 20}, want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.InDelta(t, tc.want, tc.stats.Availability(now), 1e-9)
		})
	}
}

func TestStatsDerivedValues(t *testing.T) {
	t.Parallel()

	var s Stats
	require.Equal(t, 1.0, s.SuccessRate())
	require.Zero(t, s.AvgResponseTime())

	s = Stats{Attempts: 4, Successes: 1, TotalResponseTime: 2 * time.Second}
	require.InDelta(t, 0.25, s.SuccessRate(), 1e-9)
	require.Equal(t, 500*time.Millisecond, s.AvgResponseTime())
}

func TestConcurrentUpdates(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, Config{ErrorThreshold: 1 << 20})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.UpdateStats("open-library", (w+i)%2 == 0, time.Millisecond, "x", false)
				_, _ = c.NextResource("x", nil)
			}
		}(w)
	}
	wg.Wait()

	stats, _ := c.Stats("open-library")
	require.Equal(t, 800, stats.Attempts)
	require.Equal(t, 800, stats.Successes+stats.Failures)
	require.Equal(t, 800*time.Millisecond, stats.TotalResponseTime)
}

func TestSnapshotOrder(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, DefaultConfig())
	snap := c.Snapshot()
	require.Len(t, snap, 5)
	require.Equal(t, "chitai-gorod", snap[0].ID)
	require.Equal(t, resource.KindAPI, snap[2].Kind)
	require.Equal(t, StatusAvailable, snap[4].Status)
	require.InDelta(t, 0.6, snap[0].Availability, 1e-9)
}
