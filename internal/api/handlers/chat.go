package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cloo-solutions/ragchat/internal/api"
	"github.com/cloo-solutions/ragchat/internal/api/middleware"
	"github.com/cloo-solutions/ragchat/internal/domain"
	"github.com/cloo-solutions/ragchat/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SessionStore owns the live chat sessions.
type SessionStore interface {
	Create() *service.Session
	Get(id string) (*service.Session, error)
	Delete(id string) error
}

type ChatHandler struct {
	sessions SessionStore
	logger   *zap.Logger
}

func NewChatHandler(sessions SessionStore, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{sessions: sessions, logger: logger}
}

type SubmitTurnRequest struct {
	Query string `json:"query"`
}

type TurnResponse struct {
	ID           string             `json:"id"`
	Kind         string             `json:"kind"`
	Query        string             `json:"query"`
	Answer       string             `json:"answer,omitempty"`
	References   []domain.Reference `json:"references,omitempty"`
	ErrorCode    string             `json:"error_code,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Degraded     bool               `json:"degraded,omitempty"`
	Grounded     bool               `json:"grounded"`
	CreatedAt    string             `json:"created_at"`
}

type SessionResponse struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Turns      []TurnResponse `json:"turns,omitempty"`
	LastActive string         `json:"last_active,omitempty"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func turnToResponse(t domain.ConversationTurn) TurnResponse {
	return TurnResponse{
		ID:           t.ID,
		Kind:         string(t.Kind),
		Query:        t.Query,
		Answer:       t.Answer,
		References:   t.References,
		ErrorCode:    t.ErrorCode,
		ErrorMessage: t.ErrorMessage,
		Degraded:     t.Degraded,
		Grounded:     t.Prompt.Grounded,
		CreatedAt:    t.CreatedAt.Format(time.RFC3339),
	}
}

func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Create()
	h.logger.Info("session created",
		zap.String("session_id", s.ID()),
		zap.String("request_id", middleware.GetRequestID(r.Context())))

	api.Success(w, http.StatusCreated, SessionResponse{ID: s.ID(), State: string(s.State())})
}

func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	snap := s.Snapshot()
	turns := make([]TurnResponse, 0, len(snap.Turns))
	for _, t := range snap.Turns {
		turns = append(turns, turnToResponse(t))
	}
	api.Success(w, http.StatusOK, SessionResponse{
		ID:         snap.ID,
		State:      string(snap.State),
		Turns:      turns,
		LastActive: snap.LastActive.UTC().Format(time.RFC3339),
	})
}

func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitTurn runs one turn with the request context as the turn context, so
// a client disconnect cancels it. Failed turns are returned with 200 and
// kind "error".
func (h *ChatHandler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req SubmitTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			api.PayloadTooLarge(w)
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	turn, err := s.Submit(r.Context(), req.Query)
	if err != nil {
		if service.IsCancelled(err) && r.Context().Err() != nil {
			h.logger.Info("client went away, turn cancelled", zap.String("session_id", s.ID()))
			return
		}
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, turnToResponse(turn))
}

func (h *ChatHandler) CancelTurn(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, CancelResponse{Cancelled: s.Cancel()})
}
