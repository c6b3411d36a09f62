package project

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/db"
	"github.com/newhook/kb/internal/logging"
	"github.com/newhook/kb/internal/telemetry"
	"github.com/newhook/kb/internal/tracker"
)

const (
	// ConfigDir is the directory name for project configuration.
	ConfigDir = logging.ConfigDir
	// ConfigFile is the name of the project config file.
	ConfigFile = "config.toml"
	// TrackerDB is the name of the local tracker database file.
	TrackerDB = "tracker.db"
)

// ErrNoProject is returned by Find when no .kb directory exists above the
// starting directory.
var ErrNoProject = errors.New("no project found")

// Project is an initialized kb workspace.
type Project struct {
	Root   string  // Project directory path
	Config *Config // Parsed config.toml
	DB     *db.DB  // Local tracker database and bulk history
}

// Tracker is the backend bulk operations run against.
type Tracker interface {
	bulk.Submitter
	ListIssues(ctx context.Context, status string) ([]bulk.IssueSelection, error)
}

// Find finds a project from a flag value or current directory.
// If flagValue is non-empty, uses that path; otherwise uses cwd.
func Find(ctx context.Context, flagValue string) (*Project, error) {
	if flagValue != "" {
		return find(ctx, flagValue)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return find(ctx, cwd)
}

// find walks up from startDir looking for a .kb/ directory.
func find(ctx context.Context, startDir string) (*Project, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	for {
		configPath := filepath.Join(dir, ConfigDir, ConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return load(ctx, dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w (no %s directory); run 'kb init' first", ErrNoProject, ConfigDir)
		}
		dir = parent
	}
}

func load(ctx context.Context, root string) (*Project, error) {
	configPath := filepath.Join(root, ConfigDir, ConfigFile)
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	if err := logging.Init(root, cfg.Log.GetLevel()); err != nil {
		logging.Warn("failed to initialize logging", "error", err)
	}

	database, err := db.OpenPath(ctx, filepath.Join(root, ConfigDir, TrackerDB))
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker database: %w", err)
	}

	return &Project{Root: root, Config: cfg, DB: database}, nil
}

// Create initializes a new project at the given directory. An empty name
// uses the directory name.
func Create(ctx context.Context, dir, name string) (*Project, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	configDir := filepath.Join(absDir, ConfigDir)
	if _, err := os.Stat(filepath.Join(configDir, ConfigFile)); err == nil {
		return nil, fmt.Errorf("project already exists at %s", absDir)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}

	if name == "" {
		name = filepath.Base(absDir)
	}
	cfg := &Config{
		Project: ProjectConfig{
			Name:      name,
			CreatedAt: time.Now().UTC().Truncate(time.Second),
		},
	}
	configPath := filepath.Join(configDir, ConfigFile)
	if err := cfg.SaveDocumentedConfig(configPath); err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}

	database, err := db.OpenPath(ctx, filepath.Join(configDir, TrackerDB))
	if err != nil {
		os.Remove(configPath)
		return nil, fmt.Errorf("failed to initialize tracker database: %w", err)
	}
	database.Close()

	return load(ctx, absDir)
}

// DBPath returns the path of the local tracker database.
func (p *Project) DBPath() string {
	return filepath.Join(p.Root, ConfigDir, TrackerDB)
}

// Tracker returns the configured backend.
func (p *Project) Tracker() (Tracker, error) {
	switch p.Config.Tracker.GetBackend() {
	case BackendHTTP:
		client, err := tracker.NewHTTPClient(p.Config.Tracker.ClientConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create tracker client: %w", err)
		}
		return client, nil
	default:
		return localTracker{p.DB}, nil
	}
}

// localTracker adapts the project database to Tracker.
type localTracker struct {
	*db.DB
}

func (l localTracker) ListIssues(ctx context.Context, status string) ([]bulk.IssueSelection, error) {
	return l.DB.ListIssues(ctx, db.IssueFilter{Status: status})
}

// NewExecutor builds an executor over s using the bulk settings.
func (p *Project) NewExecutor(s bulk.Submitter) *bulk.Executor {
	return bulk.NewExecutor(s,
		bulk.WithBatchSize(p.Config.Bulk.GetBatchSize()),
		bulk.WithBatchDelay(p.Config.Bulk.GetBatchDelay()),
		bulk.WithMetrics(telemetry.NewBulkMetrics()),
	)
}

// NewController builds a controller over s seeded with the persisted
// history.
func (p *Project) NewController(ctx context.Context, s bulk.Submitter) (*bulk.Controller, error) {
	history, err := p.DB.LoadBulkHistory(ctx)
	if err != nil {
		return nil, err
	}
	return bulk.NewController(p.NewExecutor(s),
		bulk.WithValidator(p.Config.Bulk.Validator()),
		bulk.WithHistory(history),
		bulk.WithLargeThreshold(p.Config.Bulk.GetLargeThreshold()),
		bulk.WithCompletedDelay(p.Config.Bulk.GetCompletedDelay()),
	), nil
}

// SaveHistory persists the controller's current history.
func (p *Project) SaveHistory(ctx context.Context, snap bulk.Snapshot) error {
	return p.DB.SaveHistory(ctx, snap.History, snap.HistoryIndex)
}

// Close closes the database and the log file.
func (p *Project) Close() error {
	var errs []error
	if p.DB != nil {
		if err := p.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if err := logging.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing log: %w", err))
	}
	return errors.Join(errs...)
}
