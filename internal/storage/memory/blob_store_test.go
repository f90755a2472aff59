package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "runs/1/out.csv", "text/csv", bytes.NewReader([]byte("content")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://runs/1/out.csv" {
		t.Fatalf("unexpected uri %s", uri)
	}
	obj, ok := store.Get("runs/1/out.csv")
	if !ok || obj.ContentType != "text/csv" {
		t.Fatalf("unexpected object %+v", obj)
	}
	obj.Data[0] = 'C'
	again, _ := store.Get("runs/1/out.csv")
	if string(again.Data) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", again.Data)
	}
	if len(store.Paths()) != 1 {
		t.Fatalf("expected one path, got %v", store.Paths())
	}
}

func TestBlobStoreGetMissing(t *testing.T) {
	t.Parallel()

	if _, ok := NewBlobStore().Get("nope"); ok {
		t.Fatal("expected missing object")
	}
}
