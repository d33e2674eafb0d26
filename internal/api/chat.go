package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/agent"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
)

// Feed is told when a session is cleared.
type Feed interface {
	Reset(key chat.Key)
}

// ChatHandler serves the chat panel endpoints.
type ChatHandler struct {
	orch        *agent.Orchestrator
	store       *chat.Store
	feed        Feed
	rateLimiter *RateLimiter
	maxBodySize int64
	logger      *slog.Logger
}

// ChatOptions configures a ChatHandler.
type ChatOptions struct {
	Feed        Feed
	RateLimiter *RateLimiter
	MaxBodySize int64
	Logger      *slog.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(orch *agent.Orchestrator, store *chat.Store, opts ChatOptions) *ChatHandler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHandler{
		orch:        orch,
		store:       store,
		feed:        opts.Feed,
		rateLimiter: opts.RateLimiter,
		maxBodySize: opts.MaxBodySize,
		logger:      logger,
	}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/agents/status", h.Status)
	r.Get("/api/stats", h.Stats)
	r.Route("/api/chat", func(r chi.Router) {
		r.Put("/agents", h.SetAgents)
		r.Post("/send", h.Send)
		r.Post("/ask", h.Ask)
		r.Post("/coach", h.Coach)
		r.Get("/messages", h.Messages)
		r.Post("/clear", h.Clear)
	})
}

type sessionView struct {
	SessionID      string           `json:"session_id"`
	Mode           domain.ChatMode  `json:"mode"`
	SelectedAgents []string         `json:"selected_agents"`
	State          chat.State       `json:"state"`
	Messages       []domain.Message `json:"messages,omitempty"`
}

func viewOf(sess chat.Session, withMessages bool) sessionView {
	v := sessionView{
		SessionID:      sess.Key.SessionID,
		Mode:           sess.Mode,
		SelectedAgents: sess.SelectedAgents,
		State:          sess.State,
	}
	if v.SelectedAgents == nil {
		v.SelectedAgents = []string{}
	}
	if withMessages {
		v.Messages = sess.Messages
		if v.Messages == nil {
			v.Messages = []domain.Message{}
		}
	}
	return v
}

// Status returns the agent descriptors and opens the session.
func (h *ChatHandler) Status(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	descs, err := h.orch.RefreshStatus(r.Context(), key)
	resp := map[string]any{"agents": descs}
	if err != nil {
		resp["status_error"] = "agent status unavailable"
	}
	if sess, getErr := h.store.Get(key); getErr == nil {
		resp["session"] = viewOf(sess, false)
	}
	JSON(w, http.StatusOK, resp)
}

type setAgentsRequest struct {
	Agents []string `json:"agents"`
	Mode   string   `json:"mode"`
}

// SetAgents replaces the agent selection and mode.
func (h *ChatHandler) SetAgents(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	var req setAgentsRequest
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}
	mode, err := domain.ParseChatMode(req.Mode)
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_mode")
		return
	}

	h.store.Open(key)
	if _, err := h.store.SetAgents(key, req.Agents); err != nil {
		h.writeChatError(w, key, err)
		return
	}
	sess, err := h.store.SetMode(key, mode)
	if err != nil {
		h.writeChatError(w, key, err)
		return
	}
	JSON(w, http.StatusOK, viewOf(sess, false))
}

type sendRequest struct {
	Message string `json:"message"`
	Agent   string `json:"agent,omitempty"`
}

// Send fans a message out to the selected agents.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	h.turn(w, r, func(ctx context.Context, key chat.Key, req sendRequest) (agent.TurnResult, error) {
		return h.orch.Send(ctx, key, req.Message)
	})
}

// Ask sends a message to one agent.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	h.turn(w, r, func(ctx context.Context, key chat.Key, req sendRequest) (agent.TurnResult, error) {
		return h.orch.Ask(ctx, key, req.Agent, req.Message)
	})
}

// Coach sends a message to the student coach.
func (h *ChatHandler) Coach(w http.ResponseWriter, r *http.Request) {
	h.turn(w, r, func(ctx context.Context, key chat.Key, req sendRequest) (agent.TurnResult, error) {
		return h.orch.Coach(ctx, key, req.Message)
	})
}

func (h *ChatHandler) turn(w http.ResponseWriter, r *http.Request, run func(context.Context, chat.Key, sendRequest) (agent.TurnResult, error)) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	// Rate-limit by user only so rotating session ids does not help.
	if h.rateLimiter != nil && !h.rateLimiter.Allow(key.UserID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	var req sendRequest
	if !decodeJSON(w, r, h.maxBodySize, &req) {
		return
	}

	h.logger.Info("Chat request",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message),
	)
	res, err := run(r.Context(), key, req)
	if err != nil {
		h.writeChatError(w, key, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Messages returns the session with its messages.
func (h *ChatHandler) Messages(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, viewOf(h.store.Open(key), true))
}

// Clear empties the session. A reply still in flight is discarded.
func (h *ChatHandler) Clear(w http.ResponseWriter, r *http.Request) {
	key, ok := sessionKey(w, r)
	if !ok {
		return
	}
	h.store.Open(key)
	if _, err := h.store.Reset(key); err != nil {
		h.writeChatError(w, key, err)
		return
	}
	if h.feed != nil {
		h.feed.Reset(key)
	}
	sess, _ := h.store.Get(key)
	JSON(w, http.StatusOK, viewOf(sess, true))
}

// Stats returns turn counters.
func (h *ChatHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.orch.GetStats())
}

func (h *ChatHandler) writeChatError(w http.ResponseWriter, key chat.Key, err error) {
	switch {
	case errors.Is(err, agent.ErrNoAgentsSelected):
		Error(w, http.StatusBadRequest, "no_agents_selected")
	case errors.Is(err, agent.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, agent.ErrSendInProgress):
		Error(w, http.StatusConflict, "send_in_progress")
	case errors.Is(err, chat.ErrSessionNotFound):
		Error(w, http.StatusNotFound, "session not found")
	default:
		h.logger.Error("Chat request failed", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
