// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package protocol folds model tool-call responses back into conversation
// history. It validates each invocation against the declared tool set,
// dispatches to registered handlers (or records validated calls without
// dispatch), and converts every failure mode into corrective conversation
// messages. Tool failures are never fatal to the engine.
package protocol

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/elias-jhsph/scienceai/pkg/types"
)

// Handler executes one tool invocation with its parsed arguments and
// returns the result text fed back to the model.
type Handler func(args map[string]any) (string, error)

// Tool pairs a declaration with its implementation. The two are
// registered together so the declaration and the behavior cannot drift
// apart.
type Tool struct {
	Schema  types.ToolSchema
	Handler Handler
}

// Registry maps tool names to their schema and handler. It is built once
// per agent type and preserves registration order in its declarations.
type Registry struct {
	order []string
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Registering the same name twice replaces the
// handler but keeps the original declaration position.
func (r *Registry) Register(schema types.ToolSchema, handler Handler) {
	name := schema.Function.Name
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = Tool{Schema: schema, Handler: handler}
}

// Schemas returns the model-facing declarations in registration order.
func (r *Registry) Schemas() []types.ToolSchema {
	out := make([]types.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Schema)
	}
	return out
}

// Mode selects whether RunTurn dispatches handlers or only records
// validated calls.
type Mode int

const (
	// Execute dispatches each validated call to its handler.
	Execute Mode = iota

	// DryRun records validated calls without side effects. Used by
	// call sites that force a single tool call and only want its
	// parsed arguments.
	DryRun
)

// ValidCall is a dry-run record of a tool call that passed validation.
type ValidCall struct {
	Name   string
	Params map[string]any
}

// Turn is the outcome of folding one model response into history.
type Turn struct {
	// Messages holds the assistant's own message followed by tool
	// results and corrective messages, in that order. Empty in DryRun
	// mode.
	Messages []types.Message

	// ValidCalls holds the validated calls recorded in DryRun mode.
	ValidCalls []ValidCall

	// Called reports whether the response requested any tool calls.
	Called bool
}

// RunTurn processes the tool calls in resp against the registry. A nil
// response (the gateway's degraded result) yields an empty turn; callers
// treat it as no content and no tool calls.
func RunTurn(resp *types.ChatResponse, reg *Registry, mode Mode) Turn {
	if resp == nil {
		return Turn{}
	}

	turn := Turn{Called: len(resp.ToolCalls) > 0}

	if mode == Execute {
		// The assistant's own message is always recorded before any
		// tool result it triggered.
		assistant := types.Message{
			Role:      types.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		turn.Messages = append(turn.Messages, assistant)
	}

	var results, faults []types.Message
	for _, call := range resp.ToolCalls {
		name := call.Function.Name

		tool, known := reg.tools[name]
		if !known {
			faults = append(faults,
				types.Message{Role: types.RoleTool, Name: name, Content: "ERROR", ToolCallID: call.ID},
				types.Message{Role: types.RoleSystem, Content: "Only use a valid function in your function list."},
			)
			continue
		}

		args, parseErr := parseArguments(call.Function.Arguments)
		if parseErr != nil {
			faults = append(faults,
				types.Message{Role: types.RoleTool, Name: name, Content: "ERROR", ToolCallID: call.ID},
				argumentCorrection(call.Function.Arguments, tool.Schema),
			)
			continue
		}

		if mode == DryRun {
			turn.ValidCalls = append(turn.ValidCalls, ValidCall{Name: name, Params: args})
			continue
		}

		result, err := tool.Handler(args)
		if err != nil {
			faults = append(faults, types.Message{
				Role:       types.RoleTool,
				Name:       name,
				ToolCallID: call.ID,
				Content: fmt.Sprintf("Error calling %s function with passed arguments %s : %v",
					name, formatArgs(args), err),
			})
			continue
		}
		results = append(results, types.Message{
			Role:       types.RoleTool,
			Name:       name,
			Content:    result,
			ToolCallID: call.ID,
		})
	}

	if mode == Execute {
		turn.Messages = append(turn.Messages, results...)
		turn.Messages = append(turn.Messages, faults...)
	}
	return turn
}

// parseArguments decodes the raw argument string the model emitted.
func parseArguments(raw string) (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// argumentCorrection builds the system message steering the model back
// toward well-formed arguments: naming the required fields when the call
// was empty, or flagging invalid JSON otherwise.
func argumentCorrection(raw string, schema types.ToolSchema) types.Message {
	if raw == "" {
		return types.Message{
			Role: types.RoleSystem,
			Content: fmt.Sprintf(
				"Your function call did not include any arguments. Please try again with the correct arguments: %v",
				schema.Function.Parameters.Required),
		}
	}
	return types.Message{
		Role:    types.RoleSystem,
		Content: "Your function call did not parse as valid JSON. Please try again.",
	}
}

// formatArgs renders arguments with stable key order for error text.
func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %v", k, args[k])
	}
	return out + "}"
}
