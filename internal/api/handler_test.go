package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"callscribe/internal/domain"
	"callscribe/internal/session"
)

func newIdleHandler(t *testing.T) *Handler {
	t.Helper()
	hub := NewEventHub(zerolog.Nop())
	controller := session.NewController(nil, nil, nil, nil, hub, session.Config{}, zerolog.Nop())
	return NewHandler(controller, hub, zerolog.Nop())
}

func TestStartRequiresOwner(t *testing.T) {
	t.Parallel()

	h := newIdleHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/session/start",
		strings.NewReader(`{"callId":"C1"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStopWithoutSessionConflicts(t *testing.T) {
	t.Parallel()

	h := newIdleHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/session/stop", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestChatWithoutSessionConflicts(t *testing.T) {
	t.Parallel()

	h := newIdleHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/session/chat",
		strings.NewReader(`{"query":"pricing?"}`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestStatusIdle(t *testing.T) {
	t.Parallel()

	h := newIdleHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/session/status", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status domain.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad status body: %v", err)
	}
	if status.State != domain.SessionStateIdle || status.Active {
		t.Fatalf("expected idle status, got %+v", status)
	}
}

func TestEventFeedBroadcast(t *testing.T) {
	t.Parallel()

	h := newIdleHandler(t)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial event feed: %v", err)
	}
	defer ws.Close()

	// Registration happens inside the read loop goroutine; give it a beat.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.hub.mu.Lock()
		n := len(h.hub.clients)
		h.hub.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	h.hub.EntryAppended(domain.ConversationEntry{Speaker: "Alice", Text: "hello"})

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var got event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("bad event body: %v", err)
	}
	if got.Type != "conversation.entry" {
		t.Fatalf("unexpected event type %q", got.Type)
	}
}

func TestSpeakerColorsResetOnActivation(t *testing.T) {
	t.Parallel()

	hub := NewEventHub(zerolog.Nop())
	first := hub.speakerColor("Alice")
	_ = hub.speakerColor("Bob")
	if hub.speakerColor("Alice") != first {
		t.Fatalf("speaker color must be stable within a session")
	}

	hub.TranscribingChanged(domain.SourceSystem, true)
	if got := hub.speakerColor("Bob"); got != speakerPalette[0] {
		t.Fatalf("expected palette restart after activation, got %q", got)
	}
}
