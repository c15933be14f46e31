package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"callscribe/internal/ports"
	"callscribe/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The feed is same-host tooling, not a public origin surface.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves the session control surface.
type Handler struct {
	controller *session.Controller
	hub        *EventHub
	log        zerolog.Logger
}

func NewHandler(controller *session.Controller, hub *EventHub, log zerolog.Logger) *Handler {
	return &Handler{
		controller: controller,
		hub:        hub,
		log:        log.With().Str("component", "api").Logger(),
	}
}

// Routes assembles the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Route("/api/session", func(r chi.Router) {
		r.Post("/start", h.startSession)
		r.Post("/stop", h.stopSession)
		r.Post("/chat", h.chat)
		r.Post("/assistant", h.setAssistant)
		r.Get("/status", h.status)
		r.Get("/entries", h.entries)
	})
	r.Get("/ws/events", h.serveEvents)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type startPayload struct {
	CallID               string `json:"callId"`
	OwnerID              string `json:"ownerId"`
	Title                string `json:"title"`
	Company              string `json:"company"`
	MeetingLink          string `json:"meetingLink"`
	BotID                string `json:"botId"`
	SourceID             string `json:"sourceId"`
	SourceUpcomingCallID string `json:"sourceUpcomingCallId"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var payload startPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	err := h.controller.Start(r.Context(), session.StartRequest{
		CallID:               payload.CallID,
		Title:                payload.Title,
		Company:              payload.Company,
		MeetingLink:          payload.MeetingLink,
		BotID:                payload.BotID,
		SourceID:             payload.SourceID,
		SourceUpcomingCallID: payload.SourceUpcomingCallID,
	}, payload.OwnerID)
	switch {
	case errors.Is(err, session.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, h.controller.Status())
	}
}

func (h *Handler) stopSession(w http.ResponseWriter, r *http.Request) {
	err := h.controller.Stop(r.Context())
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
	}
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := h.controller.Chat(r.Context(), payload.Query)
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
	}
}

func (h *Handler) setAssistant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		AssistantID string `json:"assistantId"`
		ThreadID    string `json:"threadId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.controller.SetAssistantContext(r.Context(), ports.AssistantContext{
		AssistantID: payload.AssistantID,
		ThreadID:    payload.ThreadID,
	})
	if errors.Is(err, session.ErrNoActiveSession) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

func (h *Handler) entries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Entries())
}

func (h *Handler) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("event feed upgrade failed")
		return
	}

	client := h.hub.register(conn)
	go client.writePump()

	// Inbound frames are ignored; the read loop only detects disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.unregister(client)
}
