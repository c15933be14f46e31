// Package conversation holds the canonical in-memory transcript of a live
// call.
package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"callscribe/internal/domain"
)

// Log is an append-only, arrival-ordered sequence of speaker-tagged entries.
// Every relay fragment becomes its own entry; consecutive same-speaker
// fragments are deliberately not merged.
type Log struct {
	mu      sync.Mutex
	entries []domain.ConversationEntry
}

func NewLog() *Log {
	return &Log{}
}

// Append creates exactly one new entry from a fragment and returns it.
// Arrival order wins over any embedded fragment timestamp.
func (l *Log) Append(speaker, text string, isFinal bool) domain.ConversationEntry {
	entry := domain.ConversationEntry{
		ID:             uuid.NewString(),
		Speaker:        speaker,
		Text:           text,
		Timestamp:      time.Now(),
		IsFinal:        isFinal,
		IsAccumulating: !isFinal,
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	return entry
}

// Entries returns an immutable snapshot in append order.
func (l *Log) Entries() []domain.ConversationEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	snapshot := make([]domain.ConversationEntry, len(l.entries))
	copy(snapshot, l.entries)
	return snapshot
}

// Len reports the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// FinalizeTrailingAccumulating flips every still-accumulating entry to final.
// Driven by the burst finalize tick when burst-mode grouping is active.
func (l *Log) FinalizeTrailingAccumulating() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	flipped := 0
	for i := range l.entries {
		if l.entries[i].IsAccumulating {
			l.entries[i].IsAccumulating = false
			l.entries[i].IsFinal = true
			flipped++
		}
	}
	return flipped
}

// Clear resets the log to empty. Invoked at the start of every recording
// session; idempotent.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Snapshot renders all non-empty entries as "speaker: text" lines for the
// analysis jobs. Computed fresh on every call, never cached.
func (l *Log) Snapshot() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var b strings.Builder
	for _, entry := range l.entries {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(entry.Speaker)
		b.WriteString(": ")
		b.WriteString(text)
	}
	return b.String()
}

// FinalLines converts final entries into the ordered, 1-indexed persisted
// transcript shape.
func (l *Log) FinalLines() []domain.TranscriptLine {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines := make([]domain.TranscriptLine, 0, len(l.entries))
	for _, entry := range l.entries {
		if !entry.IsFinal {
			continue
		}
		lines = append(lines, domain.TranscriptLine{
			Order:   len(lines) + 1,
			Speaker: entry.Speaker,
			Text:    entry.Text,
		})
	}
	return lines
}
