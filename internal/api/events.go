// Package api exposes the HTTP control surface and the websocket event feed.
package api

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"callscribe/internal/domain"
)

var speakerPalette = []string{
	"#4f8ef7", "#f7764f", "#43b581", "#b584f5", "#e6b422", "#e05d8f",
}

type eventClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventHub fans backend events out to every connected UI client. It
// implements the session event sink so the core never touches a socket.
type EventHub struct {
	log zerolog.Logger

	mu      sync.Mutex
	clients map[*eventClient]struct{}
	colors  map[string]string
}

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		log:     log.With().Str("component", "events").Logger(),
		clients: make(map[*eventClient]struct{}),
		colors:  make(map[string]string),
	}
}

type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

func (h *EventHub) broadcast(kind string, payload any) {
	data, err := json.Marshal(event{Type: kind, Payload: payload})
	if err != nil {
		h.log.Warn().Err(err).Str("event", kind).Msg("failed to encode event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Slow consumer; drop it rather than block the backend.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// speakerColor hands each distinct speaker a stable palette slot. Assignments
// reset when a session opens so every call starts from the first color.
func (h *EventHub) speakerColor(speaker string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if color, ok := h.colors[speaker]; ok {
		return color
	}
	color := speakerPalette[len(h.colors)%len(speakerPalette)]
	h.colors[speaker] = color
	return color
}

func (h *EventHub) resetSpeakerColors() {
	h.mu.Lock()
	h.colors = make(map[string]string)
	h.mu.Unlock()
}

func (h *EventHub) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	h.broadcast("session.state", map[string]string{
		"state":  string(state),
		"reason": string(reason),
	})
}

func (h *EventHub) EntryAppended(entry domain.ConversationEntry) {
	h.broadcast("conversation.entry", map[string]any{
		"entry": entry,
		"color": h.speakerColor(entry.Speaker),
	})
}

func (h *EventHub) Elapsed(seconds int) {
	h.broadcast("session.elapsed", map[string]int{"seconds": seconds})
}

func (h *EventHub) TranscribingChanged(source domain.SourceKind, active bool) {
	if active {
		h.resetSpeakerColors()
	}
	h.broadcast("transcribing.changed", map[string]any{
		"source": string(source),
		"active": active,
	})
}

func (h *EventHub) TranscribeError(source domain.SourceKind, detail string) {
	h.broadcast("transcribing.error", map[string]string{
		"source": string(source),
		"detail": detail,
	})
}

func (h *EventHub) TopicsUpdated(fields map[string]string) {
	h.broadcast("analysis.topics", fields)
}

func (h *EventHub) QuickAnswerUpdated(text string) {
	h.broadcast("analysis.quick", map[string]string{"text": text})
}

func (h *EventHub) AnalysisError(job domain.AnalysisJob, detail string) {
	h.broadcast("analysis.error", map[string]string{
		"job":    string(job),
		"detail": detail,
	})
}

func (h *EventHub) SessionError(code domain.ErrorCode, detail string) {
	h.broadcast("session.error", map[string]string{
		"code":   string(code),
		"detail": detail,
	})
}

func (h *EventHub) register(conn *websocket.Conn) *eventClient {
	client := &eventClient{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	return client
}

func (h *EventHub) unregister(client *eventClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// writePump drains the client's queue onto its socket until the queue closes
// or the write fails.
func (c *eventClient) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
