package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SamHATIT/fabrica/config"
	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/logger"
	"github.com/SamHATIT/fabrica/pipeline"
	"github.com/SamHATIT/fabrica/pipeline/state"
	"github.com/SamHATIT/fabrica/server"
)

// ServeCmd runs the build daemon: the websocket event stream plus a poll
// loop that picks up queued builds.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the build daemon with the event stream server",
	Long: `Run Fabrica as a daemon. Executions advanced to build_queued are
picked up and built in the background; state, task, and phase events
stream to websocket clients on /ws. Ctrl+C drains in-flight builds to
their next suspension point and exits.`,
	RunE: runServe,
}

var (
	servePort   int
	serveDBPath string
)

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	dbPath := cfg.Database.Path
	if serveDBPath != "" {
		dbPath = serveDBPath
	}

	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := server.NewHub(cfg.Server, logger.Logger)
	orch := buildOrchestrator(database, cfg, hub)

	port := cfg.Server.Port
	if port == 0 {
		port = config.DefaultServerPort
	}
	fmt.Printf("Fabrica daemon listening on :%d (ws at /ws)\n", port)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- hub.ListenAndServe(ctx, cfg.Server.Port)
	}()

	pollBuildQueue(ctx, orch, cfg.Pipeline)

	if err := <-serverErr; err != nil {
		return errors.Wrap(err, "event server failed")
	}
	fmt.Println("Fabrica daemon stopped")
	return nil
}

// pollBuildQueue runs queued builds one at a time until ctx is cancelled.
// Build failures are recorded on the execution and do not stop the daemon.
func pollBuildQueue(ctx context.Context, orch *pipeline.Orchestrator, cfg config.PipelineConfig) {
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		queued, err := orch.Machine().Store().ListByState(state.StateBuildQueued, 1)
		if err != nil {
			logger.Logger.Errorw("Failed to poll build queue", "error", err)
			continue
		}
		if len(queued) == 0 {
			continue
		}

		exec := queued[0]
		logger.Logger.Infow("Picking up queued build",
			"execution_id", exec.ID, "project", exec.Project)
		if err := orch.RunBuild(ctx, exec.ID); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Logger.Warnw("Build stopped",
				"execution_id", exec.ID, "error", err)
		}
	}
}
