// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Property describes one field of a tool's parameter object in the
// JSON-schema subset the model oracle understands.
type Property struct {
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description" yaml:"description"`

	// Items is set when Type is "array".
	Items *Property `json:"items,omitempty" yaml:"items,omitempty"`

	// Properties is set when Type is "object" (or on array item shapes).
	Properties map[string]Property `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Parameters is the parameter object of a tool declaration.
type Parameters struct {
	Type       string              `json:"type" yaml:"type"`
	Properties map[string]Property `json:"properties" yaml:"properties"`
	Required   []string            `json:"required,omitempty" yaml:"required,omitempty"`
}

// FunctionSchema is the name, description, and parameter shape of one tool.
type FunctionSchema struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description" yaml:"description"`
	Parameters  Parameters `json:"parameters" yaml:"parameters"`
}

// ToolSchema is a model-facing tool declaration.
type ToolSchema struct {
	Type     string         `json:"type" yaml:"type"`
	Function FunctionSchema `json:"function" yaml:"function"`
}

// NewToolSchema builds a function tool declaration.
func NewToolSchema(name, description string, properties map[string]Property, required []string) ToolSchema {
	return ToolSchema{
		Type: "function",
		Function: FunctionSchema{
			Name:        name,
			Description: description,
			Parameters: Parameters{
				Type:       "object",
				Properties: properties,
				Required:   required,
			},
		},
	}
}

// ToolChoice forces the model to call a named tool.
type ToolChoice struct {
	Type     string         `json:"type"`
	Function ToolChoiceName `json:"function"`
}

// ToolChoiceName names the forced tool inside a ToolChoice.
type ToolChoiceName struct {
	Name string `json:"name"`
}

// ForceTool returns a ToolChoice requiring the model to call name.
func ForceTool(name string) *ToolChoice {
	return &ToolChoice{Type: "function", Function: ToolChoiceName{Name: name}}
}

// ChatRequest is one request to the model oracle.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	ToolChoice  *ToolChoice  `json:"tool_choice,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

// ChatResponse is the oracle's reply: optional text content plus zero or
// more requested tool calls. The oracle is non-deterministic and may omit
// tool calls even when a ToolChoice forced one; call sites that depend on
// a forced call must retry on absence.
type ChatResponse struct {
	Content   string        `json:"content"`
	ToolCalls []ToolCallRef `json:"tool_calls"`
}
