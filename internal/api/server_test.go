package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/config"
	"github.com/JakeFAU/isbn-scraper/internal/health"
	"github.com/JakeFAU/isbn-scraper/internal/orchestrator"
	"github.com/JakeFAU/isbn-scraper/internal/tabs"
)

func TestServer_Scrape_ReturnsRecordsInInputOrder(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{
		records: []*book.Record{
			{ISBN: "9780306406157", Title: "Signals", Authors: []string{"A. Author"}},
			nil,
		},
	}
	server := newTestServer(sc)

	body := []byte(`{"isbns":["978-0-306-40615-7","bogus"]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp scrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Found)
	require.Len(t, resp.Results, 2)
	require.Equal(t, "978-0-306-40615-7", resp.Results[0].Input)
	require.Equal(t, "Signals", resp.Results[0].Record.Title)
	require.Nil(t, resp.Results[1].Record)
	require.Equal(t, []string{"978-0-306-40615-7", "bogus"}, sc.lastISBNs())
}

func TestServer_Scrape_RejectsBadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "invalid json", body: "{invalid", want: "invalid JSON"},
		{name: "empty", body: `{"isbns":[]}`, want: "isbns required"},
		{name: "too many", body: `{"isbns":["1","2","3","4"]}`, want: "too many isbns"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc := &fakeScraper{}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewBufferString(tc.body))
			newTestServer(sc).Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, rec.Body.String(), tc.want)
			require.Nil(t, sc.lastISBNs())
		})
	}
}

func TestServer_Scrape_MapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "closed", err: orchestrator.ErrClosed, code: http.StatusServiceUnavailable},
		{name: "deadline", err: fmt.Errorf("scrape run x: %w", context.DeadlineExceeded), code: http.StatusGatewayTimeout},
		{name: "other", err: errors.New("boom"), code: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc := &fakeScraper{
				records: []*book.Record{{ISBN: "9780306406157", Title: "Partial"}},
				err:     tc.err,
			}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewBufferString(`{"isbns":["9780306406157"]}`))
			newTestServer(sc).Handler().ServeHTTP(rec, req)
			require.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestServer_Scrape_TimeoutKeepsPartialResults(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{
		records: []*book.Record{{ISBN: "9780306406157", Title: "Partial"}, nil},
		err:     context.Canceled,
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewBufferString(`{"isbns":["9780306406157","9780134173276"]}`))
	newTestServer(sc).Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	var resp scrapeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Found)
	require.Contains(t, resp.Error, "canceled")
}

func TestServer_Resources(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{
		stats: []health.Snapshot{
			{ID: "google-books", Status: health.StatusAvailable},
			{ID: "book-ru", Status: health.StatusRateLimited},
		},
	}
	server := newTestServer(sc)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/resources", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Resources []health.Snapshot `json:"resources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Len(t, payload.Resources, 2)
	require.Equal(t, health.StatusRateLimited, payload.Resources[1].Status)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/resources/book-ru/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"book-ru"}, sc.resets())

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/resources/missing/reset", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Tabs(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{}
	rec := httptest.NewRecorder()
	newTestServer(sc).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tabs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"tabs":[]}`, rec.Body.String())

	sc.slots = []tabs.SlotInfo{{ID: 0, State: tabs.StateBusy, ISBN: "9780306406157", ResourceID: "book-ru"}}
	rec = httptest.NewRecorder()
	newTestServer(sc).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tabs", nil))
	require.Contains(t, rec.Body.String(), `"resource_id":"book-ru"`)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{stats: []health.Snapshot{{ID: "a", Status: health.StatusError}}}
	rec := httptest.NewRecorder()
	newTestServer(sc).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	sc.stats = append(sc.stats, health.Snapshot{ID: "b", Status: health.StatusAvailable})
	rec = httptest.NewRecorder()
	newTestServer(sc).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	server := NewServer(&fakeScraper{}, nil, cfg, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/resources", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/resources", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/resources", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{panicOnScrape: true}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/scrape", bytes.NewBufferString(`{"isbns":["9780306406157"]}`))
	newTestServer(sc).Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer(&fakeScraper{}).Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

type fakeScraper struct {
	mu            sync.Mutex
	records       []*book.Record
	err           error
	stats         []health.Snapshot
	slots         []tabs.SlotInfo
	panicOnScrape bool
	calls         [][]string
	reset         []string
}

func (f *fakeScraper) Scrape(_ context.Context, isbns []string) ([]*book.Record, error) {
	if f.panicOnScrape {
		panic("scrape exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string(nil), isbns...))
	return f.records, f.err
}

func (f *fakeScraper) Stats() []health.Snapshot { return f.stats }

func (f *fakeScraper) Tabs() []tabs.SlotInfo { return f.slots }

func (f *fakeScraper) ResetResource(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.stats {
		if s.ID == id {
			f.reset = append(f.reset, id)
			return nil
		}
	}
	return fmt.Errorf("reset resource: unknown resource %q", id)
}

func (f *fakeScraper) lastISBNs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeScraper) resets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reset...)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			RequestTimeout: 5 * time.Second,
			MaxISBNs:       3,
		},
	}
}

func newTestServer(sc Scraper) *Server {
	return NewServer(sc, nil, testConfig(), zap.NewNop())
}
