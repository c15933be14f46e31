package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"callscribe/internal/domain"
	"callscribe/internal/ports"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLite(filepath.Join(dir, "test.db"), filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestCreateOrReuseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateOrReuse(ctx, "c1", "user1", ports.CallFields{Title: strPtr("Demo"), Company: strPtr("Acme")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != "c1" || first.Title != "Demo" {
		t.Fatalf("unexpected record: %+v", first)
	}

	// Submitting the same id again must reuse, not error or overwrite.
	second, err := s.CreateOrReuse(ctx, "c1", "user1", ports.CallFields{Title: strPtr("Other")})
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if second.Title != "Demo" {
		t.Fatalf("reuse overwrote existing record: %+v", second)
	}
}

func TestCreateOrReuseGeneratesID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	record, err := s.CreateOrReuse(context.Background(), "", "user1", ports.CallFields{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestUpdatePartialFields(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateOrReuse(ctx, "c1", "user1", ports.CallFields{Title: strPtr("Demo")}); err != nil {
		t.Fatalf("create: %v", err)
	}

	duration := 125
	err := s.Update(ctx, "c1", ports.CallFields{
		AudioPath:       strPtr("call-audio/c1.pcm"),
		DurationSeconds: &duration,
		ActionItems:     []domain.ActionItem{{Text: "send pricing", Done: false}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	record, err := s.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Title != "Demo" {
		t.Fatalf("untouched field changed: %+v", record)
	}
	if record.AudioPath != "call-audio/c1.pcm" || record.DurationSeconds != 125 {
		t.Fatalf("update not applied: %+v", record)
	}
	if len(record.ActionItems) != 1 || record.ActionItems[0].Text != "send pricing" {
		t.Fatalf("action items not persisted: %+v", record.ActionItems)
	}

	if err := s.Update(ctx, "missing", ports.CallFields{Title: strPtr("x")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDraftLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	draft, err := s.CreateDraft(ctx, domain.Draft{ID: "U1", OwnerID: "user1", Title: "Upcoming", BotID: "bot-7"})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}
	if draft.ID != "U1" {
		t.Fatalf("unexpected draft id: %q", draft.ID)
	}

	got, err := s.GetDraft(ctx, "U1")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.BotID != "bot-7" {
		t.Fatalf("unexpected draft: %+v", got)
	}

	if err := s.DeleteDraft(ctx, "U1"); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	if _, err := s.GetDraft(ctx, "U1"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound, got %v", err)
	}
	if err := s.DeleteDraft(ctx, "U1"); !errors.Is(err, ErrDraftNotFound) {
		t.Fatalf("expected ErrDraftNotFound on second delete, got %v", err)
	}
}

func TestDocuments(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	err := s.AppendDocuments(ctx, "c1", []domain.Document{
		{Name: "deck.pdf", URL: "https://example.com/deck.pdf"},
		{Name: "notes.md"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	docs, err := s.Documents(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	for _, doc := range docs {
		if doc.ID == "" || doc.CallID != "c1" {
			t.Fatalf("unexpected document: %+v", doc)
		}
	}
}

func TestBlobUploadAndSignedURL(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	path, err := s.UploadBlob(ctx, "call-audio", "c1.pcm", []byte("rawpcm"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if path != "call-audio/c1.pcm" {
		t.Fatalf("unexpected storage path: %q", path)
	}

	data, err := os.ReadFile(filepath.Join(s.blobDir, "call-audio", "c1.pcm"))
	if err != nil || string(data) != "rawpcm" {
		t.Fatalf("blob not written: %v %q", err, data)
	}

	url, err := s.SignedURL(ctx, path, time.Minute)
	if err != nil {
		t.Fatalf("signed url: %v", err)
	}
	if !strings.Contains(url, "token=") || !strings.Contains(url, "expires=") {
		t.Fatalf("unexpected signed url: %q", url)
	}

	if _, err := s.SignedURL(ctx, "call-audio/missing.pcm", time.Minute); err == nil {
		t.Fatalf("expected error for missing blob")
	}
	if _, err := s.UploadBlob(ctx, "call-audio", "../escape.pcm", []byte("x")); err == nil {
		t.Fatalf("expected error for path traversal")
	}
}
