package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/config"
)

// ConfigCmd groups configuration operations.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the Fabrica configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println("Fabrica configuration")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("database.path:             %s\n", cfg.Database.Path)
	fmt.Printf("worker.provider:           %s\n", cfg.Worker.Provider)
	fmt.Printf("worker.model:              %s\n", cfg.Worker.Model)
	fmt.Printf("worker.base_url:           %s\n", cfg.Worker.BaseURL)
	fmt.Printf("worker.api_key:            %s\n", redact(cfg.Worker.APIKey))
	fmt.Printf("worker.timeout_seconds:    %d\n", cfg.Worker.TimeoutSeconds)
	fmt.Printf("worker.requests_per_minute:%d\n", cfg.Worker.RequestsPerMinute)
	fmt.Printf("pipeline.poll_interval:    %ds\n", cfg.Pipeline.PollIntervalSeconds)
	fmt.Printf("git.repo_path:             %s\n", cfg.Git.RepoPath)
	fmt.Printf("git.remote:                %s\n", cfg.Git.Remote)
	fmt.Printf("git.base_branch:           %s\n", cfg.Git.BaseBranch)
	fmt.Printf("deploy.command:            %s\n", cfg.Deploy.Command)
	fmt.Printf("deploy.test_command:       %s\n", cfg.Deploy.TestCommand)
	fmt.Printf("deploy.working_dir:        %s\n", cfg.Deploy.WorkingDir)
	fmt.Printf("server.port:               %d\n", cfg.Server.Port)
	fmt.Printf("server.allowed_origins:    %v\n", cfg.Server.AllowedOrigins)
	return nil
}

// redact hides all but the last four characters of a secret.
func redact(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}
