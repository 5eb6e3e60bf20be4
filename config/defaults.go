package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "fabrica.db")

	// Worker (generation agent) defaults
	v.SetDefault("worker.provider", "openrouter")
	v.SetDefault("worker.model", "anthropic/claude-sonnet-4")
	v.SetDefault("worker.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("worker.timeout_seconds", 600) // generation calls run long
	v.SetDefault("worker.max_tokens", 8192)
	v.SetDefault("worker.temperature", 0.2) // deterministic
	v.SetDefault("worker.requests_per_minute", 20)

	// Pipeline defaults
	v.SetDefault("pipeline.poll_interval_seconds", 2)

	// Git defaults
	v.SetDefault("git.repo_path", ".")
	v.SetDefault("git.remote", "origin")
	v.SetDefault("git.base_branch", "main")
	v.SetDefault("git.author_name", "fabrica")
	v.SetDefault("git.author_email", "fabrica@localhost")

	// Deploy defaults
	v.SetDefault("deploy.command", "sf project deploy start --json")
	v.SetDefault("deploy.test_command", "sf apex run test --json")
	v.SetDefault("deploy.working_dir", ".")
	v.SetDefault("deploy.timeout_seconds", 300)

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("worker.api_key", "FABRICA_WORKER_API_KEY")
}
