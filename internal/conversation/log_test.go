package conversation

import (
	"fmt"
	"testing"
)

func TestLogPreservesArrivalOrder(t *testing.T) {
	t.Parallel()

	log := NewLog()
	for i := 0; i < 10; i++ {
		log.Append(fmt.Sprintf("speaker-%d", i%2), fmt.Sprintf("fragment %d", i), true)
	}

	entries := log.Entries()
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Text != fmt.Sprintf("fragment %d", i) {
			t.Fatalf("entry %d out of order: %q", i, entry.Text)
		}
		if entry.ID == "" {
			t.Fatalf("entry %d missing id", i)
		}
	}
}

func TestLogAppendNeverMerges(t *testing.T) {
	t.Parallel()

	log := NewLog()
	log.Append("Alice", "hello", true)
	log.Append("Alice", "again", true)

	if got := log.Len(); got != 2 {
		t.Fatalf("expected two entries for consecutive same-speaker fragments, got %d", got)
	}
}

func TestLogFinalizeTrailingAccumulating(t *testing.T) {
	t.Parallel()

	log := NewLog()
	log.Append("Alice", "done", true)
	log.Append("Bob", "still going", false)
	log.Append("Bob", "more", false)

	if flipped := log.FinalizeTrailingAccumulating(); flipped != 2 {
		t.Fatalf("expected 2 flipped entries, got %d", flipped)
	}
	for _, entry := range log.Entries() {
		if !entry.IsFinal || entry.IsAccumulating {
			t.Fatalf("entry %q not finalized", entry.Text)
		}
	}
	if flipped := log.FinalizeTrailingAccumulating(); flipped != 0 {
		t.Fatalf("second finalize should be a no-op, flipped %d", flipped)
	}
}

func TestLogSnapshotSkipsEmptyText(t *testing.T) {
	t.Parallel()

	log := NewLog()
	log.Append("Alice", "hello", true)
	log.Append("Bob", "   ", true)
	log.Append("Carol", "hi", false)

	want := "Alice: hello\nCarol: hi"
	if got := log.Snapshot(); got != want {
		t.Fatalf("unexpected snapshot: %q", got)
	}
}

func TestLogSnapshotEmpty(t *testing.T) {
	t.Parallel()

	log := NewLog()
	if got := log.Snapshot(); got != "" {
		t.Fatalf("expected empty snapshot, got %q", got)
	}
	log.Append("Alice", "  ", true)
	if got := log.Snapshot(); got != "" {
		t.Fatalf("expected empty snapshot for whitespace-only entries, got %q", got)
	}
}

func TestLogFinalLinesAreOneIndexed(t *testing.T) {
	t.Parallel()

	log := NewLog()
	log.Append("Alice", "hello", true)
	log.Append("Bob", "partial", false)
	log.Append("Carol", "bye", true)

	lines := log.FinalLines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 final lines, got %d", len(lines))
	}
	if lines[0].Order != 1 || lines[0].Speaker != "Alice" {
		t.Fatalf("unexpected first line: %+v", lines[0])
	}
	if lines[1].Order != 2 || lines[1].Speaker != "Carol" {
		t.Fatalf("unexpected second line: %+v", lines[1])
	}
}

func TestLogClearIsIdempotent(t *testing.T) {
	t.Parallel()

	log := NewLog()
	log.Append("Alice", "hello", true)
	log.Clear()
	log.Clear()
	if log.Len() != 0 {
		t.Fatalf("expected empty log after clear")
	}
}
