package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/isbn-scraper/internal/app"
	"github.com/JakeFAU/isbn-scraper/internal/config"
)

func TestResourcesCommandListsRegistry(t *testing.T) {
	cfgPath := writeConfig(t, writeFile(t, "resources.yaml", `
resources:
  - id: shop
    type: web
    url: https://shop.example/search?q={isbn}
    priority: 2
  - id: ol
    type: api
    url: https://openlibrary.org/api/books?bibkeys=ISBN:{isbn}
    format: open_library
`))

	out, err := execute(t, "resources", "--config", cfgPath)
	require.NoError(t, err)
	require.Contains(t, out, "ID")
	require.Contains(t, out, "shop")
	require.Contains(t, out, "https://shop.example/search?q={isbn}")
	require.Contains(t, out, "api")
}

func TestResourcesCommandDefaults(t *testing.T) {
	out, err := execute(t, "resources")
	require.NoError(t, err)
	require.Contains(t, out, "google-books")
	require.Contains(t, out, "chitai-gorod")
}

func TestScrapeCommandPrintsYAML(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"totalItems":1,"items":[{"volumeInfo":{"title":"Refactoring",
			"authors":["Martin Fowler"],"pageCount":448,"publishedDate":"2018"}}]}`))
	}))
	t.Cleanup(api.Close)

	cfgPath := writeConfig(t, writeFile(t, "resources.yaml", fmt.Sprintf(`
resources:
  - id: books-api
    type: api
    url: %s/volumes?q=isbn:{isbn}
    format: google_books
`, api.URL)))
	isbnFile := writeFile(t, "isbns.txt", "# batch\n9780134757599\n\n")

	out, err := execute(t, "scrape", "--config", cfgPath, "--format", "yaml", "--file", isbnFile)
	require.NoError(t, err)

	var got []scrapeOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	require.Equal(t, "9780134757599", got[0].Input)
	require.NotNil(t, got[0].Record)
	require.Equal(t, "Refactoring", got[0].Record.Title)
	require.Equal(t, 448, got[0].Record.Pages)
}

func TestScrapeCommandValidatesInput(t *testing.T) {
	_, err := execute(t, "scrape")
	require.ErrorContains(t, err, "no isbns given")

	_, err = execute(t, "scrape", "--format", "xml", "9780134757599")
	require.ErrorContains(t, err, "unknown format")
}

func TestRootRejectsMissingConfig(t *testing.T) {
	_, err := execute(t, "resources", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := buildApp
	buildApp = func(ctx context.Context, cfg config.Config, opts ...app.Option) (*app.App, error) {
		opts = append(opts, app.WithLogger(zap.NewNop()), app.WithRegisterer(prometheus.NewRegistry()))
		return app.Build(ctx, cfg, opts...)
	}
	t.Cleanup(func() { buildApp = prev })

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func writeConfig(t *testing.T, registryPath string) string {
	t.Helper()
	return writeFile(t, "config.yaml", fmt.Sprintf(`
resources:
  file: %s
progress:
  prometheus: false
`, registryPath))
}
