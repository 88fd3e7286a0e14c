package app

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/config"
	"github.com/JakeFAU/isbn-scraper/internal/scraper"
)

const volumeJSON = `{"totalItems":1,"items":[{"volumeInfo":{
	"title":"Design Patterns","authors":["Erich Gamma","Richard Helm"],
	"pageCount":395,"publishedDate":"1994-10-31"}}]}`

func TestBuildAndScrapeAgainstAPIResource(t *testing.T) {
	t.Parallel()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "9780201633610") {
			_, _ = w.Write([]byte(`{"totalItems":0}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(volumeJSON))
	}))
	t.Cleanup(api.Close)

	exportDir := t.TempDir()
	cfg := testConfig(t, writeRegistry(t, fmt.Sprintf(`
resources:
  - id: books-api
    type: api
    url: %s/volumes?q=isbn:{isbn}
    format: google_books
`, api.URL)))
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.Local.BaseDir = exportDir

	a, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	records, err := a.Scraper().Scrape(context.Background(), []string{"0-201-63361-2", "not-an-isbn"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0])
	require.Equal(t, "Design Patterns", records[0].Title)
	require.Equal(t, 395, records[0].Pages)
	require.Equal(t, "books-api", records[0].Source)
	require.Nil(t, records[1])
	require.Nil(t, a.Scraper().Tabs(), "api-only registry runs without a tab pool")

	var exports []string
	require.NoError(t, filepath.WalkDir(exportDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			exports = append(exports, path)
		}
		return nil
	}))
	require.Len(t, exports, 1)
	data, err := os.ReadFile(exports[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "Design Patterns")

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildStartsTabPoolForWebResources(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, writeRegistry(t, `
resources:
  - id: shop
    type: web
    url: https://shop.example/search?q={isbn}
    selectors:
      title: h1
`))
	cfg.Tabs.MaxTabs = 2
	browser := &stubBrowser{}

	a, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
		WithBrowser(browser),
	)
	require.NoError(t, err)
	require.Len(t, a.Scraper().Tabs(), 2)
	require.Equal(t, 2, browser.opened())

	require.NoError(t, a.Close(context.Background()))
	require.True(t, browser.isClosed())
	require.NoError(t, a.Close(context.Background()), "closing twice is safe")
}

func TestBuildRejectsBadRegistry(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, writeRegistry(t, "resources:\n  - {id: a, type: ftp, url: 'x{isbn}'}\n"))
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()))
	require.Error(t, err)
	require.Contains(t, err.Error(), "resource registry init failed")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, writeRegistry(t, `
resources:
  - id: books-api
    type: api
    url: http://127.0.0.1:1/volumes?q={isbn}
    format: google_books
`))
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = time.Second
	a, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func testConfig(t *testing.T, registryPath string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Resources.File = registryPath
	cfg.Progress.Prometheus = false
	return cfg
}

func writeRegistry(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "resources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	return path
}

type stubBrowser struct {
	mu       sync.Mutex
	sessions int
	closed   bool
}

func (b *stubBrowser) NewSession(context.Context) (scraper.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions++
	return stubSession{}, nil
}

func (b *stubBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *stubBrowser) opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sessions
}

func (b *stubBrowser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type stubSession struct{}

func (stubSession) Render(_ context.Context, req scraper.RenderRequest) (scraper.Page, error) {
	return scraper.Page{URL: req.URL, StatusCode: http.StatusOK, HTML: "<html></html>"}, nil
}

func (stubSession) Reset(context.Context) error { return nil }

func (stubSession) Close() error { return nil }

func TestMemoryExportBackend(t *testing.T) {
	t.Parallel()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(volumeJSON))
	}))
	t.Cleanup(api.Close)

	cfg := testConfig(t, writeRegistry(t, fmt.Sprintf(`
resources:
  - id: books-api
    type: api
    url: %s/volumes?q=isbn:{isbn}
    format: google_books
`, api.URL)))
	cfg.Storage.Backend = config.BackendMemory
	cfg.Storage.Export.Format = "yaml"

	a, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	_, err = a.Scraper().Scrape(context.Background(), []string{"9780201633610"})
	require.NoError(t, err)

	require.NotNil(t, a.Exports())
	paths := a.Exports().Paths()
	require.Len(t, paths, 1)
	require.True(t, strings.HasSuffix(paths[0], ".yaml"), paths[0])
	obj, ok := a.Exports().Get(paths[0])
	require.True(t, ok)
	require.Contains(t, string(obj.Data), "Design Patterns")
}
