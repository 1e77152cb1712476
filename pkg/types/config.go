// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "scienceai/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ModelConfig holds shared settings for components that call the model oracle.
type ModelConfig struct {
	HTTPConfig `yaml:",inline"`

	// Model is the oracle model identifier (e.g. "gpt-4o").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the chat-completions endpoint base. Defaults to the
	// OpenAI API when empty.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// APIKey is the authentication key for the oracle API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for failed or
	// non-compliant oracle responses (default 5).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Temperature is passed on conversational turns. Zero means the
	// provider default.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// CallBudget caps the number of oracle calls per user turn
	// (default 200). Exhaustion degrades exactly like a transient
	// failure: the gateway returns an empty response.
	CallBudget int `json:"call_budget" yaml:"call_budget"`
}

// ProjectConfig holds settings for one research project.
type ProjectConfig struct {
	// StorageDir is the root directory holding scienceai_db/.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// IngestDir is the directory of PDFs to load into the project.
	IngestDir string `json:"ingest_dir" yaml:"ingest_dir"`

	// Attempts is the analyst completion-attempt budget (default 5).
	Attempts int `json:"attempts" yaml:"attempts"`

	// AutoPrune removes stored papers whose PDF has disappeared from
	// the ingest directory.
	AutoPrune bool `json:"auto_prune" yaml:"auto_prune"`
}

// ServerConfig holds settings for the local HTTP surface.
type ServerConfig struct {
	// Addr is the listen address (default "127.0.0.1:8642").
	Addr string `json:"addr" yaml:"addr"`

	// PollTimeout bounds the chat long-poll wait (default 25s).
	PollTimeout time.Duration `json:"poll_timeout" yaml:"poll_timeout"`
}

// Config groups all stage configurations.
type Config struct {
	Model   ModelConfig   `json:"model" yaml:"model"`
	Project ProjectConfig `json:"project" yaml:"project"`
	Server  ServerConfig  `json:"server" yaml:"server"`
}
