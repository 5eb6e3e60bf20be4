package commands

import (
	"database/sql"

	"github.com/SamHATIT/fabrica/config"
	"github.com/SamHATIT/fabrica/db"
	"github.com/SamHATIT/fabrica/errors"
	"github.com/SamHATIT/fabrica/logger"
	"github.com/SamHATIT/fabrica/pipeline"
	"github.com/SamHATIT/fabrica/pipeline/event"
	"github.com/SamHATIT/fabrica/pipeline/wbs"
	"github.com/SamHATIT/fabrica/worker/gitvc"
	"github.com/SamHATIT/fabrica/worker/llm"
	"github.com/SamHATIT/fabrica/worker/shell"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, the configured path is used.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := config.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		if path == "" {
			dbPath = "fabrica.db"
		} else {
			dbPath = path
		}
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// buildOrchestrator wires the configured worker adapters over the given
// database. sink may be nil for commands that don't stream events.
func buildOrchestrator(database *sql.DB, cfg *config.Config, sink event.Sink) *pipeline.Orchestrator {
	client := llm.NewClient(cfg.Worker, logger.Logger)
	opts := pipeline.Options{
		BaseBranch: cfg.Git.BaseBranch,
	}
	if cfg.Deploy.TimeoutSeconds > 0 {
		opts.Timeouts = wbs.DefaultTimeouts()
		opts.Timeouts.Deploy = cfg.Deploy.Timeout()
	}
	if cfg.Worker.TimeoutSeconds > 0 {
		if opts.Timeouts == (wbs.Timeouts{}) {
			opts.Timeouts = wbs.DefaultTimeouts()
		}
		opts.Timeouts.Generate = cfg.Worker.Timeout()
	}
	return pipeline.New(
		database,
		llm.NewGenerator(client),
		llm.NewReviewer(client),
		shell.New(cfg.Deploy, logger.Logger),
		gitvc.New(cfg.Git, logger.Logger),
		opts,
		sink,
		logger.Logger,
	)
}

// withOrchestrator runs fn with an orchestrator over the configured
// database, closing the database afterwards.
func withOrchestrator(fn func(*pipeline.Orchestrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	return fn(buildOrchestrator(database, cfg, nil))
}

// loadConfig loads and validates the Fabrica configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
