// Package proposer talks to the natural-language model that suggests which
// tools to call. Its output is untrusted: the orchestrator validates every
// proposed invocation before acting on it.
package proposer

import (
	"context"

	"github.com/slotline/bookings-agent/internal/tools"
)

// Message is one entry of the conversational history, in the shape the chat
// completions API expects.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a proposed tool invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // raw JSON object
}

// Proposal is the model's answer for one completion: free text, proposed
// tool calls, or both.
type Proposal struct {
	Content   string
	ToolCalls []ToolCall
}

type Proposer interface {
	Propose(ctx context.Context, history []Message, catalog []tools.Schema) (*Proposal, error)
}
