package tabs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

type fakeSession struct {
	mu       sync.Mutex
	resetErr error
	resets   int
	closed   bool
}

func (s *fakeSession) Render(ctx context.Context, req scraper.RenderRequest) (scraper.Page, error) {
	return scraper.Page{URL: req.URL, StatusCode: 200}, nil
}

func (s *fakeSession) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	return s.resetErr
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

type fakeBrowser struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failAt   int
	resetErr error
}

func (b *fakeBrowser) NewSession(context.Context) (scraper.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAt > 0 && len(b.sessions) == b.failAt {
		return nil, errors.New("chrome crashed")
	}
	s := &fakeSession{resetErr: b.resetErr}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBrowser) Close() error { return nil }

func testConfig(maxTabs int) Config {
	return Config{
		MaxTabs:              maxTabs,
		MonitorInterval:      5 * time.Millisecond,
		StuckTimeout:         40 * time.Millisecond,
		LoadWarningThreshold: 0.8,
		RecoveryTimeout:      time.Second,
	}
}

func newTestPool(t *testing.T, browser *fakeBrowser, cfg Config) *Pool {
	t.Helper()
	p, err := New(context.Background(), browser, cfg, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestAcquireIsExclusive(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newTestPool(t, &fakeBrowser{}, testConfig(2))
	defer p.Close()

	a, err := p.Acquire()
	require.NoError(t, err)
	b, err := p.Acquire()
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())

	_, err = p.Acquire()
	require.ErrorIs(t, err, ErrNoFreeSlot)
	require.InDelta(t, 1.0, p.Load(), 1e-9)

	p.Release(a)
	c, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, a.ID(), c.ID())
}

func TestConcurrentAcquireNeverDoubleClaims(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newTestPool(t, &fakeBrowser{}, testConfig(3))
	defer p.Close()

	var (
		inUse   [3]atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for w := 0; w < 12; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s, err := p.Acquire()
				if err != nil {
					time.Sleep(time.Millisecond)
					continue
				}
				if inUse[s.ID()].Add(1) > 1 {
					overlap.Store(true)
				}
				_ = p.Assign(context.Background(), s, Job{ISBN: "x"}, func(context.Context, scraper.Session) error {
					return nil
				})
				inUse[s.ID()].Add(-1)
			}
		}()
	}
	wg.Wait()
	require.False(t, overlap.Load(), "two workers held the same slot")
}

func TestAssignRecyclesSlot(t *testing.T) {
	defer goleak.VerifyNone(t)

	p := newTestPool(t, &fakeBrowser{}, testConfig(1))
	defer p.Close()

	s, err := p.Acquire()
	require.NoError(t, err)

	job := Job{TaskID: "t1", ISBN: "9780306406157", ResourceID: "book-ru"}
	boom := errors.New("selector not found")
	err = p.Assign(context.Background(), s, job, func(ctx context.Context, session scraper.Session) error {
		info := p.Slots()[0]
		require.Equal(t, StateBusy, info.State)
		require.Equal(t, "book-ru", info.ResourceID)
		require.False(t, info.StartedAt.IsZero())
		return boom
	})
	require.ErrorIs(t, err, boom)

	info := p.Slots()[0]
	require.Equal(t, StateReady, info.State)
	require.Equal(t, boom.Error(), info.LastError)

	require.Error(t, p.Assign(context.Background(), s, job, func(context.Context, scraper.Session) error { return nil }),
		"assign requires a claimed slot")
}

func TestMonitorRecoversStuckSlot(t *testing.T) {
	defer goleak.VerifyNone(t)

	browser := &fakeBrowser{}
	p := newTestPool(t, browser, testConfig(1))
	defer p.Close()

	s, err := p.Acquire()
	require.NoError(t, err)

	err = p.Assign(context.Background(), s, Job{ISBN: "x"}, func(ctx context.Context, _ scraper.Session) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "timed out")

	require.Eventually(t, func() bool {
		return p.Slots()[0].State == StateReady
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, browser.sessions[0].Resets())

	_, err = p.Acquire()
	require.NoError(t, err)
}

func TestFailedRecoveryLeavesSlotInError(t *testing.T) {
	defer goleak.VerifyNone(t)

	browser := &fakeBrowser{resetErr: errors.New("target closed")}
	p := newTestPool(t, browser, testConfig(1))
	defer p.Close()

	s, err := p.Acquire()
	require.NoError(t, err)
	_ = p.Assign(context.Background(), s, Job{ISBN: "x"}, func(ctx context.Context, _ scraper.Session) error {
		<-ctx.Done()
		return ctx.Err()
	})

	require.Eventually(t, func() bool {
		return p.Slots()[0].State == StateError
	}, time.Second, 5*time.Millisecond)
	_, err = p.Acquire()
	require.ErrorIs(t, err, ErrNoFreeSlot, "error slots are excluded from assignment")

	browser.sessions[0].mu.Lock()
	browser.sessions[0].resetErr = nil
	browser.sessions[0].mu.Unlock()
	require.NoError(t, p.Recover(context.Background(), 0))
	require.Equal(t, StateReady, p.Slots()[0].State)
	require.Error(t, p.Recover(context.Background(), 0), "only error slots can be recovered")
	require.Error(t, p.Recover(context.Background(), 9))
}

func TestCloseReleasesSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	browser := &fakeBrowser{}
	p := newTestPool(t, browser, testConfig(2))

	s, err := p.Acquire()
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		done <- p.Assign(context.Background(), s, Job{}, func(ctx context.Context, _ scraper.Session) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	require.Eventually(t, func() bool { return p.Slots()[s.ID()].State == StateBusy }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	require.Error(t, <-done)
	require.NoError(t, p.Close())

	for _, sess := range browser.sessions {
		require.True(t, sess.closed)
	}
	_, err = p.Acquire()
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestNewClosesSessionsOnFailure(t *testing.T) {
	t.Parallel()

	browser := &fakeBrowser{failAt: 2}
	_, err := New(context.Background(), browser, testConfig(3), zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "open tab 2")
	for _, sess := range browser.sessions {
		require.True(t, sess.closed)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.MaxTabs = 0
	require.ErrorContains(t, cfg.Validate(), "max_tabs")
	cfg = DefaultConfig()
	cfg.LoadWarningThreshold = 1.5
	require.ErrorContains(t, cfg.Validate(), "load_warning_threshold")
}
