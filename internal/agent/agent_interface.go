package agent

import (
	"context"

	"github.com/cadamar1236/sistema-educativo-sub000/internal/backend"
)

// Backend is the multi-agent service the orchestrator talks to.
// This interface is implemented by the HTTP client.
type Backend interface {
	// UnifiedChat fans one message out to the selected agents
	UnifiedChat(ctx context.Context, req backend.UnifiedChatRequest) (*backend.UnifiedChatResponse, error)

	// FormattedChat asks a single agent
	FormattedChat(ctx context.Context, req backend.FormattedChatRequest) (*backend.FormattedChatResponse, error)

	// StudentCoach asks the coaching agent
	StudentCoach(ctx context.Context, req backend.CoachRequest) (*backend.CoachResponse, error)

	// Status reports which agents are real
	Status(ctx context.Context) ([]backend.AgentStatus, error)
}

// Ensure Client implements Backend.
var _ Backend = (*backend.Client)(nil)
