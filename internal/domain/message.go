// Package domain contains core domain types for the chat pipeline.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	// RoleUser marks the learner's own input.
	RoleUser Role = "user"
	// RoleAgent marks a reply from a backend agent.
	RoleAgent Role = "agent"
	// RoleSystem marks a local notice such as a transport failure.
	RoleSystem Role = "system"
)

// ChatMode selects how a fan-out is answered.
type ChatMode string

const (
	// ModeIndividual yields one message per selected agent.
	ModeIndividual ChatMode = "individual"
	// ModeCollaboration yields one merged message.
	ModeCollaboration ChatMode = "collaboration"
)

// ParseChatMode validates a mode string. Empty selects individual mode.
func ParseChatMode(s string) (ChatMode, error) {
	switch ChatMode(s) {
	case "", ModeIndividual:
		return ModeIndividual, nil
	case ModeCollaboration:
		return ModeCollaboration, nil
	}
	return "", fmt.Errorf("unknown chat mode %q", s)
}

// AgentDescriptor identifies the agent that produced a message.
type AgentDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	IsReal      bool   `json:"is_real"`
	StatusLabel string `json:"status_label,omitempty"`
}

// Message is one entry of a chat session. Messages are values; the store
// never changes one after it has been appended.
type Message struct {
	ID        string            `json:"id"`
	Role      Role              `json:"role"`
	Content   NormalizedContent `json:"content"`
	Agent     *AgentDescriptor  `json:"agent,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// NewMessage returns a message with a fresh id and the current time.
func NewMessage(role Role, content NormalizedContent, agent *AgentDescriptor) Message {
	if agent != nil {
		a := *agent
		agent = &a
	}
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata returns a copy of m with key set in its metadata.
func (m Message) WithMetadata(key string, value any) Message {
	md := make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		md[k] = v
	}
	md[key] = value
	m.Metadata = md
	return m
}

// AgentID returns the id of the producing agent or an empty string.
func (m Message) AgentID() string {
	if m.Agent == nil {
		return ""
	}
	return m.Agent.ID
}
