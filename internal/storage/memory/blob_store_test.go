package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "runs/a.json", "application/json", bytes.NewReader([]byte("content")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://runs/a.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	obj, ok := store.Get("runs/a.json")
	if !ok {
		t.Fatal("object not stored")
	}
	obj.Data[0] = 'C'
	again, _ := store.Get("runs/a.json")
	if string(again.Data) != "content" || again.ContentType != "application/json" {
		t.Fatalf("expected stored copy to be immutable, got %q (%s)", again.Data, again.ContentType)
	}
	if _, err := store.PutObject(context.Background(), "", "", bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for empty path")
	}
	if got := store.Paths(); len(got) != 1 || got[0] != "runs/a.json" {
		t.Fatalf("unexpected paths %v", got)
	}
}
