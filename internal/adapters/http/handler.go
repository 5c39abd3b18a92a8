package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/PabloGalante/twin-relay/internal/app/conversation"
	"github.com/PabloGalante/twin-relay/internal/config"
	"github.com/PabloGalante/twin-relay/internal/domain"
	"github.com/PabloGalante/twin-relay/internal/observability"
)

// maxBodyBytes caps request bodies; a chat message is small.
const maxBodyBytes = 1 << 20

type Server struct {
	mgr *conversation.Manager
}

func NewServer(mgr *conversation.Manager, cfg config.HTTPConfig) http.Handler {
	s := &Server{mgr: mgr}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	// POST /chat → run one turn
	mux.HandleFunc("POST /chat", s.handleChat)

	// GET /conversation/{session_id} → full stored history
	mux.HandleFunc("GET /conversation/{session_id}", s.handleGetConversation)

	return chainMiddlewares(mux,
		withRecover,
		withLogging,
		withRequestID,
		withCORS(cfg.CORSOrigins),
	)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type messageResponse struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type conversationResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []messageResponse `json:"messages"`
}

// ─────────────────────────────────────────────
// Concrete handlers
// ─────────────────────────────────────────────

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "AI Digital Twin API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		badRequest(w, "message is required")
		return
	}

	out, err := s.mgr.Chat(r.Context(), conversation.ChatInput{
		SessionKey: domain.SessionKey(req.SessionID),
		Message:    req.Message,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Response:  out.Response,
		SessionID: string(out.SessionKey),
	})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	key := domain.SessionKey(r.PathValue("session_id"))

	msgs, err := s.mgr.GetHistory(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, conversationResponse{
		SessionID: string(key),
		Messages:  toMessagesResponse(msgs),
	})
}

// ─────────────────────────────────────────────
// Conversation Helpers
// ─────────────────────────────────────────────

func toMessagesResponse(msgs []domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

// writeError maps domain errors to status codes. Storage and model details
// stay in the logs.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := http.StatusInternalServerError, "internal server error"

	switch {
	case errors.Is(err, domain.ErrInvalidSessionKey):
		status, msg = http.StatusBadRequest, "invalid session_id"
	case errors.Is(err, domain.ErrEmptyMessage):
		status, msg = http.StatusBadRequest, "message is required"
	case errors.Is(err, domain.ErrInvalidMessage):
		status, msg = http.StatusBadRequest, "invalid message"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, msg = http.StatusServiceUnavailable, "request timed out, try again"
	case errors.Is(err, domain.ErrStorageUnavailable):
		status, msg = http.StatusServiceUnavailable, "conversation storage unavailable"
	case errors.Is(err, domain.ErrStorageCorrupt):
		status, msg = http.StatusInternalServerError, "stored conversation is corrupt"
	case errors.Is(err, domain.ErrCompletionService):
		status, msg = http.StatusBadGateway, "completion service error"
	}

	if status >= http.StatusInternalServerError {
		log := observability.LoggerFromContext(r.Context())
		log.Error().Err(err).Int("status", status).Msg("request failed")
	}

	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}
