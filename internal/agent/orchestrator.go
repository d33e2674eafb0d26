package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/backend"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/normalize"
)

var errNoContent = errors.New("agent returned no content")

// Orchestrator runs chat turns: it appends the learner's message, makes one
// backend call and appends what came back. Each session has at most one
// turn in flight.
type Orchestrator struct {
	backend  Backend
	store    *chat.Store
	catalog  *Catalog
	pipeline *normalize.Pipeline
	cfg      Config
	logger   *slog.Logger

	settled   atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
}

// NewOrchestrator creates an orchestrator. A nil pipeline uses the default
// thresholds and math engine; a nil logger uses slog.Default().
func NewOrchestrator(b Backend, store *chat.Store, catalog *Catalog, pipeline *normalize.Pipeline, cfg Config, logger *slog.Logger) *Orchestrator {
	if pipeline == nil {
		pipeline = normalize.NewPipeline(nil, nil, logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize < 0 {
		cfg.HistorySize = 0
	}
	return &Orchestrator{
		backend:  b,
		store:    store,
		catalog:  catalog,
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
	}
}

// Catalog returns the agent catalog.
func (o *Orchestrator) Catalog() *Catalog {
	return o.catalog
}

// GetStats returns turn counters.
func (o *Orchestrator) GetStats() Stats {
	return Stats{
		Settled:   o.settled.Load(),
		Failed:    o.failed.Load(),
		Discarded: o.discarded.Load(),
	}
}

// Send fans text out to the session's selected agents in its current mode.
func (o *Orchestrator) Send(ctx context.Context, key chat.Key, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if sess := o.store.Open(key); len(sess.SelectedAgents) == 0 {
		return TurnResult{}, ErrNoAgentsSelected
	}

	return o.runTurn(ctx, key, text, func(ctx context.Context, turn chat.Turn, rc backend.RequestContext) (FanOutResult, error) {
		if len(turn.SelectedAgents) == 0 {
			return FanOutResult{}, ErrNoAgentsSelected
		}
		resp, err := o.backend.UnifiedChat(ctx, backend.UnifiedChatRequest{
			Message:        text,
			SelectedAgents: turn.SelectedAgents,
			ChatMode:       string(turn.Mode),
			Context:        rc,
		})
		if err != nil {
			return FanOutResult{}, err
		}
		return o.interpret(resp, turn)
	})
}

// Ask sends text to a single agent.
func (o *Orchestrator) Ask(ctx context.Context, key chat.Key, agentID, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if agentID == "" {
		return TurnResult{}, ErrNoAgentsSelected
	}
	o.store.Open(key)

	return o.runTurn(ctx, key, text, func(ctx context.Context, _ chat.Turn, rc backend.RequestContext) (FanOutResult, error) {
		resp, err := o.backend.FormattedChat(ctx, backend.FormattedChatRequest{
			Message:   text,
			AgentType: agentID,
			Context:   rc,
		})
		if err != nil {
			return FanOutResult{}, err
		}
		c := o.normalizeRaw(resp.Raw, o.catalog.FromInfo(agentID, resp.Agent))
		return FanOutResult{PerAgent: []AgentContent{c}}, nil
	})
}

// Coach sends text to the student coach.
func (o *Orchestrator) Coach(ctx context.Context, key chat.Key, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	o.store.Open(key)

	return o.runTurn(ctx, key, text, func(ctx context.Context, _ chat.Turn, rc backend.RequestContext) (FanOutResult, error) {
		resp, err := o.backend.StudentCoach(ctx, backend.CoachRequest{
			Message: text,
			Context: rc,
		})
		if err != nil {
			return FanOutResult{}, err
		}
		c := o.normalizeRaw(resp.Raw, o.catalog.Describe(CoachAgentID))
		return FanOutResult{PerAgent: []AgentContent{c}}, nil
	})
}

// RefreshStatus loads the backend's agent status into the catalog and opens
// the session. The descriptors are returned even when the status call
// fails, labelled as unknown.
func (o *Orchestrator) RefreshStatus(ctx context.Context, key chat.Key) ([]domain.AgentDescriptor, error) {
	o.store.Open(key)
	statuses, err := o.backend.Status(ctx)
	if err != nil {
		o.logger.Warn("failed to load agent status", "user_id", key.UserID, "session_id", key.SessionID, "error", err)
		return o.catalog.Descriptors(), fmt.Errorf("refresh agent status: %w", err)
	}
	o.catalog.Annotate(statuses)
	return o.catalog.Descriptors(), nil
}

type turnCall func(ctx context.Context, turn chat.Turn, rc backend.RequestContext) (FanOutResult, error)

// runTurn is the Idle → Sending → Settled|Failed → Idle cycle shared by
// every kind of send.
func (o *Orchestrator) runTurn(ctx context.Context, key chat.Key, text string, call turnCall) (TurnResult, error) {
	turn, err := o.store.BeginSend(ctx, key)
	if err != nil {
		return TurnResult{}, err
	}
	defer o.store.EndSend(key, turn)

	// History is taken before the new message so it is not sent twice.
	rc := o.requestContext(key)

	input, err := o.pipeline.NormalizeInput(text)
	if err != nil {
		o.logger.Warn("failed to normalize user input", "user_id", key.UserID, "error", err)
	}
	userMsg := domain.NewMessage(domain.RoleUser, input, nil)
	if err := o.store.Append(key, turn.Epoch, userMsg); err != nil {
		return o.appendFailed(key, err)
	}
	result := TurnResult{Status: TurnSettled, Messages: []domain.Message{userMsg}}

	fan, err := call(turn.Ctx, turn, rc)
	if err != nil {
		return o.fail(key, turn, result, err)
	}

	msgs := make([]domain.Message, 0, len(fan.Contents()))
	failures := 0
	for _, c := range fan.Contents() {
		agent := c.Agent
		m := domain.NewMessage(domain.RoleAgent, c.Content, &agent)
		if c.Err != nil {
			failures++
			m = m.WithMetadata("error", c.Err.Error())
			o.logger.Warn("agent reply could not be shown", "user_id", key.UserID, "session_id", key.SessionID, "agent_id", agent.ID, "error", c.Err)
		}
		msgs = append(msgs, m)
	}
	if err := o.store.Append(key, turn.Epoch, msgs...); err != nil {
		return o.appendFailed(key, err)
	}
	result.Messages = append(result.Messages, msgs...)

	if failures == len(msgs) {
		result.Status = TurnFailed
		result.Error = ErrAllAgentsFailed.Error()
		o.failed.Add(1)
		o.logger.Warn("chat turn failed", "user_id", key.UserID, "session_id", key.SessionID, "error", ErrAllAgentsFailed)
		return result, nil
	}

	o.settled.Add(1)
	o.logger.Info("chat turn settled",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"mode", turn.Mode,
		"messages", len(msgs),
		"failed_agents", failures,
	)
	return result, nil
}

// fail appends the single system notice for a turn that got no usable
// reply. The learner's message stays.
func (o *Orchestrator) fail(key chat.Key, turn chat.Turn, result TurnResult, cause error) (TurnResult, error) {
	retryable := backend.IsTransport(cause)
	notice := transportNotice
	if errors.Is(cause, ErrAllAgentsFailed) {
		notice = noReplyNotice
	}
	content, err := o.pipeline.NormalizeInput(notice)
	if err != nil {
		content = normalize.Failure(notice, err)
	}
	content.Error = cause.Error()

	m := domain.NewMessage(domain.RoleSystem, content, nil).
		WithMetadata("retryable", retryable).
		WithMetadata("error", cause.Error())
	if err := o.store.Append(key, turn.Epoch, m); err != nil {
		return o.appendFailed(key, err)
	}

	o.failed.Add(1)
	o.logger.Warn("chat turn failed",
		"user_id", key.UserID,
		"session_id", key.SessionID,
		"retryable", retryable,
		"error", cause,
	)
	result.Status = TurnFailed
	result.Error = cause.Error()
	result.Messages = append(result.Messages, m)
	return result, nil
}

// appendFailed handles an append refused by the store. A retired epoch
// means the session was reset mid-turn and the result is dropped.
func (o *Orchestrator) appendFailed(key chat.Key, err error) (TurnResult, error) {
	if errors.Is(err, chat.ErrStaleEpoch) {
		o.discarded.Add(1)
		o.logger.Info("dropping reply for reset session", "user_id", key.UserID, "session_id", key.SessionID)
		return TurnResult{Status: TurnDiscarded}, nil
	}
	return TurnResult{}, err
}

// interpret maps a unified reply to per-agent or merged content.
func (o *Orchestrator) interpret(resp *backend.UnifiedChatResponse, turn chat.Turn) (FanOutResult, error) {
	if turn.Mode == domain.ModeCollaboration && resp.HasCollaboration() {
		merged := o.normalizeRaw(resp.CollaborationResult, o.catalog.Collaboration(turn.SelectedAgents))
		return FanOutResult{Merged: &merged}, nil
	}
	if len(resp.Responses) > 0 {
		per := make([]AgentContent, 0, len(resp.Responses))
		for i, raw := range resp.Responses {
			per = append(per, o.normalizeEnvelope(i, raw, turn.SelectedAgents))
		}
		return FanOutResult{PerAgent: per}, nil
	}
	if resp.HasCollaboration() {
		merged := o.normalizeRaw(resp.CollaborationResult, o.catalog.Collaboration(turn.SelectedAgents))
		return FanOutResult{Merged: &merged}, nil
	}
	return FanOutResult{}, ErrAllAgentsFailed
}

// normalizeEnvelope isolates one agent's reply. A broken envelope is
// attributed to the agent selected at the same position.
func (o *Orchestrator) normalizeEnvelope(i int, raw json.RawMessage, selected []string) AgentContent {
	fallbackID := ""
	if i < len(selected) {
		fallbackID = selected[i]
	}

	env, err := backend.DecodeEnvelope(raw)
	if err != nil {
		return AgentContent{
			Agent:   o.catalog.Describe(fallbackID),
			Content: normalize.Failure(string(raw), err),
			Err:     err,
		}
	}
	if env.AgentType == "" {
		env.AgentType = fallbackID
	}
	agent := o.catalog.FromEnvelope(env)

	if text, ok := env.FormattedText(); ok && strings.TrimSpace(text) != "" {
		c, err := o.pipeline.NormalizeText(text)
		return o.checked(agent, c, err)
	}
	if env.HasFormattedPayload() {
		return o.normalizeRaw(env.FormattedContent, agent)
	}
	return o.normalizeRaw(env.Response, agent)
}

func (o *Orchestrator) normalizeRaw(raw json.RawMessage, agent domain.AgentDescriptor) AgentContent {
	c, err := o.pipeline.Normalize(raw)
	return o.checked(agent, c, err)
}

func (o *Orchestrator) checked(agent domain.AgentDescriptor, c domain.NormalizedContent, err error) AgentContent {
	if err != nil {
		return AgentContent{Agent: agent, Content: c, Err: err}
	}
	if strings.TrimSpace(c.Text) == "" {
		return AgentContent{Agent: agent, Content: normalize.Failure(c.RawText, errNoContent), Err: errNoContent}
	}
	return AgentContent{Agent: agent, Content: c}
}

// requestContext carries recent history. Local system notices are not
// part of the conversation.
func (o *Orchestrator) requestContext(key chat.Key) backend.RequestContext {
	rc := backend.RequestContext{SessionID: key.SessionID, UserID: key.UserID}
	for _, m := range o.store.Recent(key, o.cfg.HistorySize) {
		if m.Role == domain.RoleSystem {
			continue
		}
		rc.ConversationHistory = append(rc.ConversationHistory, backend.HistoryEntry{
			Role:    string(m.Role),
			Content: m.Content.SanitizedText,
			Agent:   m.AgentID(),
		})
	}
	return rc
}
