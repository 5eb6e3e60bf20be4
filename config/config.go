// Package config holds the Fabrica configuration, loaded with Viper from
// TOML files and FABRICA_* environment variables.
package config

import "time"

// Config represents the core Fabrica configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Git      GitConfig      `mapstructure:"git"`
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Server   ServerConfig   `mapstructure:"server"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// WorkerConfig configures the generation/review worker backend.
// A single injected struct replaces per-worker environment lookups, so every
// adapter sees the same provider routing.
type WorkerConfig struct {
	Provider       string  `mapstructure:"provider"` // "openrouter", "local", "anthropic"
	Model          string  `mapstructure:"model"`
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"` // bound to FABRICA_WORKER_API_KEY
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`

	// RequestsPerMinute bounds generation calls against provider rate limits
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// Timeout returns the per-call timeout for generation and review requests.
// Generation calls are long-running and get the longest timeout in the system.
func (w WorkerConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSeconds) * time.Second
}

// PipelineConfig configures execution scheduling behaviour
type PipelineConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"` // task dequeue poll cadence
}

// GitConfig configures the version-control adapter
type GitConfig struct {
	RepoPath    string `mapstructure:"repo_path"`
	Remote      string `mapstructure:"remote"`
	BaseBranch  string `mapstructure:"base_branch"`
	AuthorName  string `mapstructure:"author_name"`
	AuthorEmail string `mapstructure:"author_email"`
}

// DeployConfig configures the deployment adapter (shell CLI)
type DeployConfig struct {
	Command        string `mapstructure:"command"` // e.g. "sf project deploy start"
	TestCommand    string `mapstructure:"test_command"`
	WorkingDir     string `mapstructure:"working_dir"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-call timeout for deploy and test runs
func (d DeployConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// ServerConfig configures the event stream server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultServerPort is the event server's default listen port
const DefaultServerPort = 8741
