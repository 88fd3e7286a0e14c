package headless

import (
	"net/http"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestNewBrowserRejectsNegativeTimeout(t *testing.T) {
	t.Parallel()

	_, err := NewBrowser(Config{NavigationTimeout: -1})
	require.Error(t, err)
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeImage,
		Response: &network.Response{
			Status: 404,
			URL:    "https://example.com/cover.jpg",
		},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status: 429,
			URL:    "https://example.com/search?q=1",
		},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, 429, status)
	require.Equal(t, "https://example.com/search?q=1", url)

	meta.reset()
	status, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "https://final", url)

	_, url = meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, "https://req", url)
}
