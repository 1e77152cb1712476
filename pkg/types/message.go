// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the scienceai agents:
// conversation messages, the model-oracle wire contract, paper and analyst
// records, and stage configuration.
package types

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"

	// RoleFunctionCall marks a dry-run record of a validated tool call
	// that was never dispatched.
	RoleFunctionCall Role = "function_call"
)

// Status tracks whether a chat message still owes a response. At most one
// message in a conversation may be Pending at any time; the orchestration
// loop drives it to Processed before yielding control.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusProcessed Status = "Processed"
)

// ToolCallRef is a structured tool invocation attached to an assistant
// message, exactly as the model emitted it. Arguments is the raw string
// and may be malformed; the protocol engine validates it.
type ToolCallRef struct {
	// ID is the call identifier the tool result must echo back.
	ID string `json:"id" yaml:"id"`

	// Type is always "function".
	Type string `json:"type" yaml:"type"`

	// Function carries the invoked name and raw argument string.
	Function FunctionCall `json:"function" yaml:"function"`
}

// FunctionCall is the name/arguments pair inside a ToolCallRef.
type FunctionCall struct {
	Name      string `json:"name" yaml:"name"`
	Arguments string `json:"arguments" yaml:"arguments"`
}

// Message is one entry in an ordered, append-only conversation.
type Message struct {
	// Role is the message author: system, user, assistant, or tool.
	Role Role `json:"role" yaml:"role"`

	// Content is the message text. Empty for assistant messages that
	// only carry tool calls.
	Content string `json:"content" yaml:"content"`

	// Images holds page-image data URLs sent alongside Content on
	// vision requests. Only user messages carry images.
	Images []string `json:"images,omitempty" yaml:"images,omitempty"`

	// ToolCalls holds the tool invocations an assistant message requested.
	ToolCalls []ToolCallRef `json:"tool_calls,omitempty" yaml:"tool_calls,omitempty"`

	// ToolCallID links a tool result back to the call that produced it.
	ToolCallID string `json:"tool_call_id,omitempty" yaml:"tool_call_id,omitempty"`

	// Name is the tool name on tool and function_call messages.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Status is set only on chat-log messages; analyst context entries
	// leave it empty.
	Status Status `json:"status,omitempty" yaml:"status,omitempty"`

	// Time is the moment the message was appended to its log.
	Time time.Time `json:"time,omitempty" yaml:"time,omitempty"`

	// Hidden excludes internal bookkeeping entries from user-facing views.
	Hidden bool `json:"hidden,omitempty" yaml:"hidden,omitempty"`
}
