// Package backend is the JSON client for the multi-agent backend.
package backend

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// HistoryEntry is one prior message sent as conversation context.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Agent   string `json:"agent,omitempty"`
}

// RequestContext travels with every chat request.
type RequestContext struct {
	SessionID           string         `json:"session_id,omitempty"`
	UserID              string         `json:"user_id,omitempty"`
	ConversationHistory []HistoryEntry `json:"conversation_history,omitempty"`
}

// UnifiedChatRequest is the body of POST /agents/unified-chat.
type UnifiedChatRequest struct {
	Message        string         `json:"message"`
	SelectedAgents []string       `json:"selected_agents"`
	ChatMode       string         `json:"chat_mode"`
	Context        RequestContext `json:"context"`
}

// UnifiedChatResponse keeps every envelope undecoded so one bad entry does
// not fail the whole response.
type UnifiedChatResponse struct {
	Responses           []json.RawMessage `json:"responses"`
	CollaborationResult json.RawMessage   `json:"collaboration_result,omitempty"`
}

// HasCollaboration reports whether a merged result is present.
func (r *UnifiedChatResponse) HasCollaboration() bool {
	return len(r.CollaborationResult) > 0 && string(r.CollaborationResult) != "null"
}

// AgentEnvelope is one per-agent entry of an individual-mode response.
// FormattedContent is usually a string but is kept raw so an agent that
// sends an object or a number still gets its payload extracted.
type AgentEnvelope struct {
	AgentType        string          `json:"agent_type"`
	AgentName        string          `json:"agent_name"`
	AgentIcon        string          `json:"agent_icon"`
	Response         json.RawMessage `json:"response"`
	FormattedContent json.RawMessage `json:"formatted_content"`
	IsRealAgent      bool            `json:"is_real_agent"`
}

// FormattedText returns formatted_content when it is a JSON string.
func (e AgentEnvelope) FormattedText() (string, bool) {
	v := gjson.ParseBytes(e.FormattedContent)
	if v.Type != gjson.String {
		return "", false
	}
	return v.Str, true
}

// HasFormattedPayload reports whether formatted_content holds a value other
// than a string or null.
func (e AgentEnvelope) HasFormattedPayload() bool {
	if len(e.FormattedContent) == 0 {
		return false
	}
	v := gjson.ParseBytes(e.FormattedContent)
	return v.Type != gjson.String && v.Type != gjson.Null
}

// DecodeEnvelope decodes one entry of UnifiedChatResponse.Responses.
func DecodeEnvelope(raw json.RawMessage) (AgentEnvelope, error) {
	var env AgentEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return AgentEnvelope{}, fmt.Errorf("decode agent envelope: %w", err)
	}
	return env, nil
}

// FormattedChatRequest is the body of POST /agents/chat/formatted.
type FormattedChatRequest struct {
	Message   string         `json:"message"`
	AgentType string         `json:"agent_type"`
	Context   RequestContext `json:"context"`
}

// AgentInfo is the agent block of a formatted chat response.
type AgentInfo struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	IsRealAgent bool   `json:"is_real_agent"`
}

// FormattedChatResponse is the reply of POST /agents/chat/formatted. Raw
// holds the whole body for content extraction.
type FormattedChatResponse struct {
	Agent       AgentInfo `json:"agent"`
	Interaction struct {
		ContainsMarkdown bool `json:"contains_markdown"`
	} `json:"interaction"`
	Raw json.RawMessage `json:"-"`
}

// CoachRequest is the body of POST /agents/student-coach.
type CoachRequest struct {
	Message string         `json:"message"`
	Context RequestContext `json:"context"`
}

// CoachResponse is the reply of POST /agents/student-coach.
type CoachResponse struct {
	ResponseMetadata struct {
		HasMarkdown bool `json:"has_markdown"`
	} `json:"response_metadata"`
	Raw json.RawMessage `json:"-"`
}

// AgentStatus is one entry of GET /agents/status.
type AgentStatus struct {
	Type        string `json:"type"`
	IsRealAgent bool   `json:"is_real_agent"`
	Status      string `json:"status,omitempty"`
}
