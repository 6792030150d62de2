package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/wiye1050/gestionclinica-sub004/internal/domain"
)

func TestLocalFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	ref, err := store.Put(ctx, "consents/pat-1/doc.pdf", "application/pdf", strings.NewReader("%PDF-1.7 signed"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref.Key != "consents/pat-1/doc.pdf" || ref.SizeBytes != 15 || len(ref.SHA256) != 64 {
		t.Fatalf("unexpected ref %+v", ref)
	}
	rc, err := store.Open(ctx, ref.Key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "%PDF-1.7 signed" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestLocalFileStoreRejectsEscapingKeys(t *testing.T) {
	t.Parallel()
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, key := range []string{"../outside.pdf", "/etc/passwd", "", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, "application/pdf", strings.NewReader("x")); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("key %q: expected invalid input, got %v", key, err)
		}
	}
}

func TestLocalFileStoreMissingFile(t *testing.T) {
	t.Parallel()
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Open(context.Background(), "consents/none.pdf"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
