package project

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/logging"
	"github.com/newhook/kb/internal/tracker"
)

//go:embed templates/config.tmpl
var configTemplateText string

// Tracker backends.
const (
	BackendLocal = "local"
	BackendHTTP  = "http"
)

// DefaultTokenEnv is the environment variable holding the tracker token
// when tracker.token_env is not set.
const DefaultTokenEnv = "KB_TRACKER_TOKEN"

// Config represents the project configuration stored in .kb/config.toml.
type Config struct {
	Project ProjectConfig `toml:"project"`
	Tracker TrackerConfig `toml:"tracker"`
	Bulk    BulkConfig    `toml:"bulk"`
	Log     LogConfig     `toml:"log"`
}

// ProjectConfig contains project metadata.
type ProjectConfig struct {
	Name      string    `toml:"name"`
	CreatedAt time.Time `toml:"created_at"`
}

// TrackerConfig selects and configures the issue tracker backend.
type TrackerConfig struct {
	// Backend is "local" (the project database) or "http".
	Backend  string `toml:"backend"`
	Endpoint string `toml:"endpoint"`
	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv        string `toml:"token_env"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	MaxRetrySeconds int    `toml:"max_retry_seconds"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

// GetBackend returns the configured backend, defaulting to local.
// Unknown values fall back to local.
func (t *TrackerConfig) GetBackend() string {
	if t.Backend == BackendHTTP {
		return BackendHTTP
	}
	return BackendLocal
}

// GetTokenEnv returns the token variable name.
func (t *TrackerConfig) GetTokenEnv() string {
	if t.TokenEnv == "" {
		return DefaultTokenEnv
	}
	return t.TokenEnv
}

// Token reads the bearer token from the environment.
func (t *TrackerConfig) Token() string {
	return os.Getenv(t.GetTokenEnv())
}

// GetTimeout returns the per-request timeout.
func (t *TrackerConfig) GetTimeout() time.Duration {
	return secondsOr(t.TimeoutSeconds, tracker.DefaultTimeout)
}

// GetMaxRetry returns how long failed requests are retried.
func (t *TrackerConfig) GetMaxRetry() time.Duration {
	return secondsOr(t.MaxRetrySeconds, tracker.DefaultMaxRetryElapsed)
}

// GetCacheTTL returns how long issue listings are cached.
func (t *TrackerConfig) GetCacheTTL() time.Duration {
	return secondsOr(t.CacheTTLSeconds, tracker.DefaultCacheTTL)
}

// ClientConfig builds the HTTP client configuration.
func (t *TrackerConfig) ClientConfig() tracker.Config {
	return tracker.Config{
		Endpoint:        t.Endpoint,
		Token:           t.Token(),
		Timeout:         t.GetTimeout(),
		MaxRetryElapsed: t.GetMaxRetry(),
		CacheTTL:        t.GetCacheTTL(),
	}
}

func secondsOr(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

// BulkConfig tunes batch execution and validation.
type BulkConfig struct {
	BatchSize      int `toml:"batch_size"`
	LargeThreshold int `toml:"large_threshold"`
	MaxSelection   int `toml:"max_selection"`
	// Pointers so that an explicit 0 can be told apart from unset.
	BatchDelayMS      *int     `toml:"batch_delay_ms"`
	CompletedDelayMS  *int     `toml:"completed_delay_ms"`
	AllowedStatuses   []string `toml:"allowed_statuses"`
	AllowedPriorities []string `toml:"allowed_priorities"`
}

// GetBatchSize returns the number of issues per batch request.
func (b *BulkConfig) GetBatchSize() int {
	if b.BatchSize <= 0 {
		return bulk.DefaultBatchSize
	}
	return b.BatchSize
}

// GetLargeThreshold returns the selection size above which execution is
// reported as batched.
func (b *BulkConfig) GetLargeThreshold() int {
	if b.LargeThreshold <= 0 {
		return bulk.DefaultLargeThreshold
	}
	return b.LargeThreshold
}

// GetMaxSelection returns the largest selection an operation may target.
func (b *BulkConfig) GetMaxSelection() int {
	if b.MaxSelection <= 0 {
		return bulk.DefaultMaxSelection
	}
	return b.MaxSelection
}

// GetBatchDelay returns the pause between batches.
func (b *BulkConfig) GetBatchDelay() time.Duration {
	if b.BatchDelayMS == nil || *b.BatchDelayMS < 0 {
		return bulk.DefaultBatchDelay
	}
	return time.Duration(*b.BatchDelayMS) * time.Millisecond
}

// GetCompletedDelay returns how long a completed operation stays on screen.
func (b *BulkConfig) GetCompletedDelay() time.Duration {
	if b.CompletedDelayMS == nil || *b.CompletedDelayMS < 0 {
		return bulk.DefaultCompletedDelay
	}
	return time.Duration(*b.CompletedDelayMS) * time.Millisecond
}

// Validator builds the rule validator described by the config.
func (b *BulkConfig) Validator() *bulk.RuleValidator {
	v := bulk.NewRuleValidator()
	v.MaxSelection = b.GetMaxSelection()
	v.AllowedStatuses = b.AllowedStatuses
	v.AllowedPriorities = b.AllowedPriorities
	return v
}

// LogConfig configures the debug log.
type LogConfig struct {
	Level string `toml:"level"`
}

// GetLevel returns the slog level. Defaults to debug.
func (l *LogConfig) GetLevel() slog.Level {
	return logging.ParseLevel(l.Level)
}

// LoadConfig reads and parses a config.toml file.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// SaveDocumentedConfig writes a fully documented config to the specified path.
func (c *Config) SaveDocumentedConfig(path string) error {
	content := c.GenerateDocumentedConfig()
	return os.WriteFile(path, []byte(content), 0600)
}

// configTemplateData holds the data used to render the config template.
type configTemplateData struct {
	ProjectName       string
	CreatedAt         string
	Backend           string
	Endpoint          string
	TokenEnv          string
	TimeoutSeconds    int
	MaxRetrySeconds   int
	CacheTTLSeconds   int
	BatchSize         int
	LargeThreshold    int
	MaxSelection      int
	BatchDelayMS      int64
	CompletedDelayMS  int64
	AllowedStatuses   []string
	AllowedPriorities []string
	LogLevel          string
}

// tomlString formats a string for TOML output with proper escaping.
func tomlString(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	escaped = strings.ReplaceAll(escaped, "\n", `\n`)
	escaped = strings.ReplaceAll(escaped, "\r", `\r`)
	escaped = strings.ReplaceAll(escaped, "\t", `\t`)
	return `"` + escaped + `"`
}

func tomlStrings(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = tomlString(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

var configTemplate = template.Must(template.New("config").Funcs(template.FuncMap{
	"tomlString":  tomlString,
	"tomlStrings": tomlStrings,
}).Parse(configTemplateText))

// GenerateDocumentedConfig renders the config with comments describing every
// option. Unset options are written with their effective defaults.
func (c *Config) GenerateDocumentedConfig() string {
	level := c.Log.Level
	if level == "" {
		level = "debug"
	}
	data := configTemplateData{
		ProjectName:       c.Project.Name,
		CreatedAt:         c.Project.CreatedAt.Format(time.RFC3339),
		Backend:           c.Tracker.GetBackend(),
		Endpoint:          c.Tracker.Endpoint,
		TokenEnv:          c.Tracker.GetTokenEnv(),
		TimeoutSeconds:    int(c.Tracker.GetTimeout() / time.Second),
		MaxRetrySeconds:   int(c.Tracker.GetMaxRetry() / time.Second),
		CacheTTLSeconds:   int(c.Tracker.GetCacheTTL() / time.Second),
		BatchSize:         c.Bulk.GetBatchSize(),
		LargeThreshold:    c.Bulk.GetLargeThreshold(),
		MaxSelection:      c.Bulk.GetMaxSelection(),
		BatchDelayMS:      c.Bulk.GetBatchDelay().Milliseconds(),
		CompletedDelayMS:  c.Bulk.GetCompletedDelay().Milliseconds(),
		AllowedStatuses:   c.Bulk.AllowedStatuses,
		AllowedPriorities: c.Bulk.AllowedPriorities,
		LogLevel:          level,
	}

	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, data); err != nil {
		return fmt.Sprintf("[project]\nname = %s\ncreated_at = %s\n", tomlString(c.Project.Name), data.CreatedAt)
	}
	return buf.String()
}
