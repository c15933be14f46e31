package session

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"callscribe/internal/analysis"
	"callscribe/internal/domain"
	"callscribe/internal/ports"
	"callscribe/internal/relay"
)

// liveSession is the shared, mutable per-call state. Timers and callbacks
// read it through this handle so a tick firing after logical stop can check
// the active guard instead of acting on stale captures.
type liveSession struct {
	callID  string
	ownerID string
	botID   string

	active  atomic.Bool
	elapsed atomic.Int64

	mu        sync.Mutex
	state     domain.SessionState
	assistant ports.AssistantContext
	sysErr    string
	micErr    string

	relayConn *relay.Connection
	system    ports.MediaSession
	mic       ports.MediaSession
	sysBuf    *chunkBuffer
	micBuf    *chunkBuffer
	scheduler *analysis.Scheduler

	tickStop chan struct{}
	sysDone  chan struct{}
	micDone  chan struct{}
}

func (s *liveSession) setState(state domain.SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *liveSession) getState() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *liveSession) assistantContext() ports.AssistantContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assistant
}

func (s *liveSession) setAssistantContext(assistant ports.AssistantContext) {
	s.mu.Lock()
	s.assistant = assistant
	s.mu.Unlock()
}

func (s *liveSession) setSourceError(source domain.SourceKind, detail string) {
	s.mu.Lock()
	if source == domain.SourceSystem {
		s.sysErr = detail
	} else {
		s.micErr = detail
	}
	s.mu.Unlock()
}

func (s *liveSession) sourceErrors() (system, mic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sysErr, s.micErr
}

// chunkBuffer accumulates raw audio bytes for one source.
type chunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
}

func newChunkBuffer() *chunkBuffer {
	return &chunkBuffer{}
}

func (b *chunkBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	copied := append([]byte(nil), chunk...)
	b.mu.Lock()
	b.chunks = append(b.chunks, copied)
	b.size += len(copied)
	b.mu.Unlock()
}

func (b *chunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Bytes merges all chunks into one blob.
func (b *chunkBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]byte, 0, b.size)
	for _, chunk := range b.chunks {
		merged = append(merged, chunk...)
	}
	return merged
}

// recordChunks drains one capture stream into its buffer until the stream
// ends. Capture exists for local recording/upload only; transcript text
// arrives independently over the relay.
func recordChunks(source ports.MediaSession, buf *chunkBuffer, chunkSize int, onErr func(error), done chan struct{}) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}
	scratch := make([]byte, chunkSize)
	for {
		n, err := source.Read(scratch)
		if n > 0 {
			buf.Append(scratch[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				onErr(fmt.Errorf("capture stream ended: %w", err))
			}
			return
		}
	}
}
