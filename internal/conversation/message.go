package conversation

import (
	"maps"
	"slices"

	"github.com/giantswarm/mcp-kubernetes-chat/internal/tools"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation history. The position of a message
// in the history is its only ordering.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls are the requests of an assistant message, in the order the
	// model issued them.
	ToolCalls []tools.ToolCallRequest `json:"tool_calls,omitempty"`

	// ToolCallID and Result are set on tool messages. A tool message answers
	// exactly one request.
	ToolCallID string                `json:"tool_call_id,omitempty"`
	Result     *tools.ToolCallResult `json:"result,omitempty"`
}

// SystemMessage returns a system prompt message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage returns a user message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns a final assistant answer.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// AssistantToolCallsMessage returns an assistant message carrying requests.
func AssistantToolCallsMessage(content string, calls []tools.ToolCallRequest) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolMessage returns the message answering result.CallID with the folded
// content.
func ToolMessage(result tools.ToolCallResult, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: result.CallID,
		Result:     &result,
	}
}

// HasToolCalls reports whether m is an assistant message with requests.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// CallIDs returns the request ids of an assistant message or the answered id
// of a tool message.
func (m Message) CallIDs() []string {
	if m.Role == RoleTool {
		return []string{m.ToolCallID}
	}
	ids := make([]string, len(m.ToolCalls))
	for i, c := range m.ToolCalls {
		ids[i] = c.ID
	}
	return ids
}

// Clone returns a copy that shares nothing mutable with m. Payloads inside
// results are treated as immutable and not copied.
func (m Message) Clone() Message {
	out := m
	if m.ToolCalls != nil {
		out.ToolCalls = make([]tools.ToolCallRequest, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			c.Arguments = maps.Clone(c.Arguments)
			out.ToolCalls[i] = c
		}
	}
	if m.Result != nil {
		r := *m.Result
		out.Result = &r
	}
	return out
}

func cloneMessages(msgs []Message) []Message {
	out := slices.Clone(msgs)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}
