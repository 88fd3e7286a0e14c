package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "exports"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: "  "})
	require.ErrorContains(t, err, "bucket is required")

	store, err := New(client, Config{Bucket: "exports"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "application/json", nil)
	require.ErrorContains(t, err, "path is required")
}
