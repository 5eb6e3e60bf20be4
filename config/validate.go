package config

import "github.com/SamHATIT/fabrica/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "fabrica.db" per defaults.go

	if c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	if c.Pipeline.PollIntervalSeconds < 0 {
		return errors.Newf("pipeline.poll_interval_seconds must be >= 0, got %d", c.Pipeline.PollIntervalSeconds)
	}

	if c.Worker.Provider == "" {
		return errors.New("worker.provider cannot be empty")
	}
	if c.Worker.Model == "" {
		return errors.New("worker.model cannot be empty")
	}
	if c.Worker.TimeoutSeconds <= 0 {
		return errors.Newf("worker.timeout_seconds must be > 0, got %d", c.Worker.TimeoutSeconds)
	}
	if c.Worker.MaxTokens <= 0 {
		return errors.Newf("worker.max_tokens must be > 0, got %d", c.Worker.MaxTokens)
	}
	if c.Worker.Temperature < 0 || c.Worker.Temperature > 2 {
		return errors.Newf("worker.temperature must be in [0, 2], got %f", c.Worker.Temperature)
	}
	if c.Worker.RequestsPerMinute < 0 {
		return errors.Newf("worker.requests_per_minute must be >= 0, got %d", c.Worker.RequestsPerMinute)
	}

	if c.Deploy.TimeoutSeconds <= 0 {
		return errors.Newf("deploy.timeout_seconds must be > 0, got %d", c.Deploy.TimeoutSeconds)
	}

	return nil
}
