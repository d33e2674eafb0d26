// Package agent fans a learner's message out to the backend agents and
// turns their replies into chat messages.
package agent

import (
	"errors"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/chat"
	"github.com/cadamar1236/sistema-educativo-sub000/internal/domain"
)

var (
	// ErrNoAgentsSelected is returned by Send when the session has no agents.
	ErrNoAgentsSelected = errors.New("no agents selected")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrAllAgentsFailed is returned when no agent produced usable content.
	ErrAllAgentsFailed = errors.New("all agents failed")
	// ErrSendInProgress is returned while the session is sending.
	ErrSendInProgress = chat.ErrSendInProgress
)

// Notices shown to the learner. Kept in the portal's language.
const (
	transportNotice = "❌ No se pudo contactar con los agentes. Intenta de nuevo en unos momentos."
	noReplyNotice   = "⚠️ Ningún agente devolvió una respuesta."
)

// TurnStatus is how a send ended.
type TurnStatus string

const (
	// TurnSettled means agent messages were appended.
	TurnSettled TurnStatus = "settled"
	// TurnFailed means a system notice was appended instead.
	TurnFailed TurnStatus = "failed"
	// TurnDiscarded means the session was reset while waiting and the
	// result was dropped.
	TurnDiscarded TurnStatus = "discarded"
)

// AgentContent is one agent's normalized reply.
type AgentContent struct {
	Agent   domain.AgentDescriptor
	Content domain.NormalizedContent
	Err     error
}

// FanOutResult is the interpreted backend reply. Exactly one of PerAgent
// and Merged is set.
type FanOutResult struct {
	PerAgent []AgentContent
	Merged   *AgentContent
}

// Contents returns the result as a list, in display order.
func (r FanOutResult) Contents() []AgentContent {
	if r.Merged != nil {
		return []AgentContent{*r.Merged}
	}
	return r.PerAgent
}

// TurnResult is what a send appended.
type TurnResult struct {
	Status   TurnStatus       `json:"status"`
	Messages []domain.Message `json:"messages"`
	Error    string           `json:"error,omitempty"`
}

// Config holds orchestrator configuration.
type Config struct {
	// HistorySize is how many prior messages travel as context.
	HistorySize int
}

// DefaultConfig returns default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		HistorySize: 10,
	}
}

// Stats counts turns by outcome.
type Stats struct {
	Settled   int64 `json:"settled"`
	Failed    int64 `json:"failed"`
	Discarded int64 `json:"discarded"`
}
