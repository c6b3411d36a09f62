package project

import (
	"log/slog"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/tracker"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			Name:      "test-project",
			CreatedAt: time.Date(2026, 1, 26, 10, 30, 0, 0, time.UTC),
		},
	}
}

func TestGeneratedConfigIsValidTOML(t *testing.T) {
	content := testConfig().GenerateDocumentedConfig()

	var parsed map[string]any
	_, err := toml.Decode(content, &parsed)
	require.NoError(t, err, "Generated config is not valid TOML:\n%s", content)

	project := parsed["project"].(map[string]any)
	require.Equal(t, "test-project", project["name"])
	trackerSection := parsed["tracker"].(map[string]any)
	require.Equal(t, "local", trackerSection["backend"])
}

func TestGeneratedConfigRoundTrip(t *testing.T) {
	original := testConfig()
	delay := 0
	original.Tracker = TrackerConfig{Backend: BackendHTTP, Endpoint: "https://tracker.example.com", TokenEnv: "TRACKER_TOKEN", TimeoutSeconds: 5}
	original.Bulk = BulkConfig{
		BatchSize:         10,
		BatchDelayMS:      &delay,
		AllowedStatuses:   []string{"todo", "done"},
		AllowedPriorities: []string{"low", "high"},
	}
	original.Log.Level = "warn"

	var loaded Config
	_, err := toml.Decode(original.GenerateDocumentedConfig(), &loaded)
	require.NoError(t, err)

	require.Equal(t, original.Project.Name, loaded.Project.Name)
	require.True(t, loaded.Project.CreatedAt.Equal(original.Project.CreatedAt))
	require.Equal(t, BackendHTTP, loaded.Tracker.GetBackend())
	require.Equal(t, "https://tracker.example.com", loaded.Tracker.Endpoint)
	require.Equal(t, "TRACKER_TOKEN", loaded.Tracker.GetTokenEnv())
	require.Equal(t, 5*time.Second, loaded.Tracker.GetTimeout())
	require.Equal(t, 10, loaded.Bulk.GetBatchSize())
	require.Equal(t, time.Duration(0), loaded.Bulk.GetBatchDelay())
	require.Equal(t, []string{"todo", "done"}, loaded.Bulk.AllowedStatuses)
	require.Equal(t, []string{"low", "high"}, loaded.Bulk.AllowedPriorities)
	require.Equal(t, slog.LevelWarn, loaded.Log.GetLevel())
}

func TestGeneratedConfigWithSpecialCharacters(t *testing.T) {
	cfg := testConfig()
	cfg.Project.Name = "test \"quoted\" \\ project\twith tab"
	cfg.Tracker.Endpoint = "https://例え.jp/トラッカー"

	var parsed Config
	_, err := toml.Decode(cfg.GenerateDocumentedConfig(), &parsed)
	require.NoError(t, err)
	require.Equal(t, cfg.Project.Name, parsed.Project.Name)
	require.Equal(t, cfg.Tracker.Endpoint, parsed.Tracker.Endpoint)
}

func TestGeneratedConfigWritesDefaults(t *testing.T) {
	var parsed Config
	_, err := toml.Decode(testConfig().GenerateDocumentedConfig(), &parsed)
	require.NoError(t, err)

	require.NotNil(t, parsed.Bulk.BatchDelayMS)
	require.Equal(t, int(bulk.DefaultBatchDelay.Milliseconds()), *parsed.Bulk.BatchDelayMS)
	require.Equal(t, bulk.DefaultBatchSize, parsed.Bulk.BatchSize)
	require.Equal(t, DefaultTokenEnv, parsed.Tracker.TokenEnv)
	require.Empty(t, parsed.Bulk.AllowedStatuses)
}

func TestTrackerConfigDefaults(t *testing.T) {
	var cfg TrackerConfig
	require.Equal(t, BackendLocal, cfg.GetBackend())
	require.Equal(t, tracker.DefaultTimeout, cfg.GetTimeout())
	require.Equal(t, tracker.DefaultMaxRetryElapsed, cfg.GetMaxRetry())
	require.Equal(t, tracker.DefaultCacheTTL, cfg.GetCacheTTL())

	cfg.Backend = "carrier-pigeon"
	require.Equal(t, BackendLocal, cfg.GetBackend())
}

func TestTrackerConfigToken(t *testing.T) {
	t.Setenv("MY_TRACKER_TOKEN", "s3cret")
	cfg := TrackerConfig{TokenEnv: "MY_TRACKER_TOKEN", Endpoint: "https://t.example", MaxRetrySeconds: 7}
	cc := cfg.ClientConfig()
	require.Equal(t, "s3cret", cc.Token)
	require.Equal(t, "https://t.example", cc.Endpoint)
	require.Equal(t, 7*time.Second, cc.MaxRetryElapsed)
}

func TestBulkConfigGetters(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want func(t *testing.T, b *BulkConfig)
	}{
		{
			name: "defaults",
			toml: "",
			want: func(t *testing.T, b *BulkConfig) {
				require.Equal(t, bulk.DefaultBatchSize, b.GetBatchSize())
				require.Equal(t, bulk.DefaultLargeThreshold, b.GetLargeThreshold())
				require.Equal(t, bulk.DefaultMaxSelection, b.GetMaxSelection())
				require.Equal(t, bulk.DefaultBatchDelay, b.GetBatchDelay())
				require.Equal(t, bulk.DefaultCompletedDelay, b.GetCompletedDelay())
			},
		},
		{
			name: "explicit zero delays",
			toml: "[bulk]\nbatch_delay_ms = 0\ncompleted_delay_ms = 0\n",
			want: func(t *testing.T, b *BulkConfig) {
				require.Equal(t, time.Duration(0), b.GetBatchDelay())
				require.Equal(t, time.Duration(0), b.GetCompletedDelay())
			},
		},
		{
			name: "overrides",
			toml: "[bulk]\nbatch_size = 5\nlarge_threshold = 8\nmax_selection = 40\ncompleted_delay_ms = 1500\n",
			want: func(t *testing.T, b *BulkConfig) {
				require.Equal(t, 5, b.GetBatchSize())
				require.Equal(t, 8, b.GetLargeThreshold())
				require.Equal(t, 40, b.GetMaxSelection())
				require.Equal(t, 1500*time.Millisecond, b.GetCompletedDelay())
			},
		},
		{
			name: "negative values fall back",
			toml: "[bulk]\nbatch_size = -1\nbatch_delay_ms = -5\n",
			want: func(t *testing.T, b *BulkConfig) {
				require.Equal(t, bulk.DefaultBatchSize, b.GetBatchSize())
				require.Equal(t, bulk.DefaultBatchDelay, b.GetBatchDelay())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			_, err := toml.Decode(tt.toml, &cfg)
			require.NoError(t, err)
			tt.want(t, &cfg.Bulk)
		})
	}
}

func TestBulkConfigValidator(t *testing.T) {
	b := BulkConfig{MaxSelection: 2, AllowedStatuses: []string{"todo", "done"}}
	v := b.Validator()
	require.Equal(t, 2, v.MaxSelection)
	require.Equal(t, []string{"todo", "done"}, v.AllowedStatuses)
	require.Empty(t, v.AllowedPriorities)
}

func TestLogConfigLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, (&LogConfig{}).GetLevel())
	require.Equal(t, slog.LevelError, (&LogConfig{Level: "ERROR"}).GetLevel())
}
