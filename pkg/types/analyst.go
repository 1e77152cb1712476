// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ToolTrackerRef points at one extraction run's accumulation bucket.
type ToolTrackerRef struct {
	// ToolName is the collection name plus a timestamp suffix, unique
	// within the analyst.
	ToolName string `json:"tool_name" yaml:"tool_name"`

	// Key is the store key holding the per-paper extraction records.
	Key string `json:"key" yaml:"key"`

	// CSVPath is set once the frozen tracker has been flattened to CSV.
	CSVPath string `json:"csv_path,omitempty" yaml:"csv_path,omitempty"`

	// Hidden keeps in-progress trackers out of user-facing views.
	Hidden bool `json:"hidden" yaml:"hidden"`
}

// AnalystRecord is the persisted identity and outcome of one analyst
// agent. Identity is the (Name, Goal) pair and is immutable once created;
// a second delegation with the same pair resumes this record.
type AnalystRecord struct {
	Name string `json:"name" yaml:"name"`
	Goal string `json:"goal" yaml:"goal"`

	// Answer and Evidence are set when the analyst reaches a terminal
	// state. An exhausted analyst carries a synthetic pair so callers
	// always receive a non-empty answer.
	Answer   string `json:"answer,omitempty" yaml:"answer,omitempty"`
	Evidence string `json:"evidence,omitempty" yaml:"evidence,omitempty"`

	GoalAchieved bool `json:"goal_achieved" yaml:"goal_achieved"`

	Tools []ToolTrackerRef `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// Answered reports whether the analyst reached a terminal state.
func (a AnalystRecord) Answered() bool {
	return a.Answer != ""
}
