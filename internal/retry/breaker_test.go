package retry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
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

func TestBreakerTripsAtThreshold(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewBreaker("r", 3, time.Minute, clock.Now)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		require.True(t, b.CanExecute(), "still closed after %d failures", i+1)
	}
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.CanExecute())

	clock.Advance(59 * time.Second)
	require.False(t, b.CanExecute(), "reset timeout not yet elapsed")

	clock.Advance(time.Second)
	require.True(t, b.CanExecute(), "half-open admits one trial")
	require.Equal(t, StateHalfOpen, b.State())
	require.False(t, b.CanExecute(), "only one trial while half-open")

	b.RecordSuccess()
	require.Equal(t, StateClosed, b.State())
	require.Equal(t, 0, b.Failures())
	require.True(t, b.CanExecute())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewBreaker("r", 1, 10*time.Second, clock.Now)
	b.RecordFailure()
	require.False(t, b.CanExecute())

	clock.Advance(10 * time.Second)
	require.True(t, b.CanExecute())
	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.CanExecute(), "reopened with a fresh timeout")

	clock.Advance(10 * time.Second)
	require.True(t, b.CanExecute())
}

func TestBreakerAbandonedTrialReleasesHalfOpen(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewBreaker("r", 1, 10*time.Second, clock.Now)
	b.RecordFailure()

	clock.Advance(10 * time.Second)
	require.True(t, b.CanExecute())
	require.Equal(t, StateHalfOpen, b.State())

	b.Abandon()
	require.Equal(t, StateOpen, b.State())
	require.True(t, b.CanExecute(), "last failure is unchanged so the timeout has still elapsed")
	b.RecordSuccess()
	require.Equal(t, StateClosed, b.State())

	b.Abandon()
	require.Equal(t, StateClosed, b.State(), "abandon leaves a closed breaker alone")
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	t.Parallel()

	b := NewBreaker("r", 2, time.Minute, nil)
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	require.Equal(t, StateClosed, b.State(), "failures must be consecutive")
}

func TestBreakersLazyPerResource(t *testing.T) {
	t.Parallel()

	reg := NewBreakers(1, time.Minute, nil)
	a := reg.Get("a")
	require.Same(t, a, reg.Get("a"))
	require.NotSame(t, a, reg.Get("b"))

	a.RecordFailure()
	require.Equal(t, map[string]State{"a": StateOpen, "b": StateClosed}, reg.States())
}
