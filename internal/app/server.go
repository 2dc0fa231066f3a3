package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colloquyhq/colloquy/internal/hub"
	"github.com/colloquyhq/colloquy/internal/observe"
)

// startRequest is the optional JSON body for the conversation start endpoint.
type startRequest struct {
	// Participants lists the persona names joining the conversation.
	// Empty means every persona in the catalog.
	Participants []string `json:"participants"`
}

// conversationResponse is the JSON envelope for lifecycle endpoints.
type conversationResponse struct {
	ConversationID string   `json:"conversation_id"`
	Status         string   `json:"status"`
	Participants   []string `json:"participants,omitempty"`
}

// personaInfo is one entry in the persona listing endpoint.
type personaInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	AvatarColor string `json:"avatar_color"`
}

// errorResponse is the JSON envelope for API errors.
type errorResponse struct {
	Error string `json:"error"`
}

// routes builds the full HTTP handler: REST lifecycle API, WebSocket
// endpoint, Prometheus metrics, and health probes, all behind the metrics
// middleware.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /ws/{id}", hub.NewWSHandler(a.hub, a.orch.HandleUserMessage))

	mux.HandleFunc("POST /api/conversations/{id}/start", a.handleStart)
	mux.HandleFunc("POST /api/conversations/{id}/stop", a.handleStop)
	mux.HandleFunc("GET /api/conversations/{id}/participants", a.handleParticipants)
	mux.HandleFunc("GET /api/conversations/{id}/messages", a.handleMessages)
	mux.HandleFunc("GET /api/personas", a.handlePersonas)
	mux.HandleFunc("GET /api/providers", a.handleProviders)

	return observe.Middleware(a.metrics)(mux)
}

// handleStart launches the turn loop for a conversation. Responds 409 when
// the conversation is already running.
func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")

	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
			return
		}
	}

	participants := req.Participants
	if len(participants) == 0 {
		participants = a.personas.Names()
		slices.Sort(participants)
	}
	for _, p := range participants {
		if !a.personas.Has(p) {
			a.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown persona: " + p})
			return
		}
	}

	if !a.orch.Start(r.Context(), conversationID, participants) {
		a.writeJSON(w, http.StatusConflict, errorResponse{Error: "conversation already active"})
		return
	}

	a.writeJSON(w, http.StatusAccepted, conversationResponse{
		ConversationID: conversationID,
		Status:         "started",
		Participants:   participants,
	})
}

// handleStop requests a cooperative stop. The loop observes the flag before
// its next turn, so the response reports "stopping" rather than "stopped".
func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	a.orch.Stop(r.Context(), conversationID)
	a.writeJSON(w, http.StatusOK, conversationResponse{
		ConversationID: conversationID,
		Status:         "stopping",
	})
}

func (a *App) handleParticipants(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	a.writeJSON(w, http.StatusOK, conversationResponse{
		ConversationID: conversationID,
		Status:         "ok",
		Participants:   a.orch.Participants(r.Context(), conversationID),
	})
}

// handleMessages returns the most recent persisted messages, newest last.
func (a *App) handleMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	msgs, err := a.messages.Recent(r.Context(), conversationID, 50)
	if err != nil {
		slog.Error("message fetch failed", "conversation", conversationID, "err", err)
		a.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "message store unavailable"})
		return
	}
	a.writeJSON(w, http.StatusOK, msgs)
}

func (a *App) handlePersonas(w http.ResponseWriter, r *http.Request) {
	names := a.personas.Names()
	slices.Sort(names)
	infos := make([]personaInfo, 0, len(names))
	for _, n := range names {
		p := a.personas.Get(n)
		infos = append(infos, personaInfo{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			AvatarColor: p.AvatarColor,
		})
	}
	a.writeJSON(w, http.StatusOK, infos)
}

// handleProviders reports a live health snapshot of every registered backend.
func (a *App) handleProviders(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.sel.HealthSnapshot(r.Context()))
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}
