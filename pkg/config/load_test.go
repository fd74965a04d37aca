package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoad_ValidFile(t *testing.T) {
	content := `
max_concurrent_fetches: 12
state_dir: "./state"
store:
  driver: badger
  gc_interval: 5m
notify:
  log: true
  telegram:
    chat_ids: ["1", "2"]
sites:
  athlon:
    root_sitemap_url: "https://example.com/sitemap.xml"
    strategy: short-circuit
    schedule: "0 7-21/2 * * MON-SAT"
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	cfg, err := Load(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxConcurrentFetches)
	assert.Equal(t, 5*time.Minute, cfg.Store.GCInterval)
	assert.True(t, cfg.Notify.Log)
	require.Contains(t, cfg.Sites, "athlon")
	assert.Equal(t, models.StrategyShortCircuit, cfg.Sites["athlon"].Strategy)
	assert.Equal(t, DefaultSchedule, cfg.Sites["athlon"].Schedule)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0644))

	_, err := Load(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Setenv(EnvRootSitemapURL, "https://example.com/sitemap.xml")
	t.Setenv(EnvTelegramToken, "123:abc")
	t.Setenv(EnvTelegramChatIDs, "10, 20")

	cfg, err := Load("")

	require.NoError(t, err)
	require.Contains(t, cfg.Sites, DefaultSiteKey)
	assert.Equal(t, "https://example.com/sitemap.xml", cfg.Sites[DefaultSiteKey].RootSitemapURL)
	assert.Equal(t, "123:abc", cfg.Notify.Telegram.Token)
	assert.Equal(t, []string{"10", "20"}, cfg.Notify.Telegram.ChatIDs)
}

func TestLoadEnvFiles_ExplicitFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "watcher.env")
	require.NoError(t, os.WriteFile(envPath, []byte("SITEMAP_WATCHER_TEST_VALUE=from-file\n"), 0644))
	t.Setenv("ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("SITEMAP_WATCHER_TEST_VALUE") })

	require.NoError(t, LoadEnvFiles())

	assert.Equal(t, "from-file", os.Getenv("SITEMAP_WATCHER_TEST_VALUE"))
}

func TestApplyEnv(t *testing.T) {
	t.Run("creates default site", func(t *testing.T) {
		cfg := &AppConfig{}
		ApplyEnv(cfg, envMap(map[string]string{EnvRootSitemapURL: " https://example.com/sitemap.xml "}))

		require.Contains(t, cfg.Sites, DefaultSiteKey)
		assert.Equal(t, "https://example.com/sitemap.xml", cfg.Sites[DefaultSiteKey].RootSitemapURL)
	})

	t.Run("overrides existing default site only", func(t *testing.T) {
		cfg := &AppConfig{Sites: map[string]*SiteConfig{
			DefaultSiteKey: {RootSitemapURL: "https://old.example.com/sitemap.xml", MaxDepth: 3},
			"other":        {RootSitemapURL: "https://other.example.com/sitemap.xml"},
		}}
		ApplyEnv(cfg, envMap(map[string]string{EnvRootSitemapURL: "https://new.example.com/sitemap.xml"}))

		assert.Equal(t, "https://new.example.com/sitemap.xml", cfg.Sites[DefaultSiteKey].RootSitemapURL)
		assert.Equal(t, 3, cfg.Sites[DefaultSiteKey].MaxDepth)
		assert.Equal(t, "https://other.example.com/sitemap.xml", cfg.Sites["other"].RootSitemapURL)
	})

	t.Run("strategy applies to all sites", func(t *testing.T) {
		cfg := &AppConfig{Sites: map[string]*SiteConfig{"a": {}, "b": {}}}
		ApplyEnv(cfg, envMap(map[string]string{EnvStrategy: "short_circuit"}))

		assert.Equal(t, models.StrategyShortCircuit, cfg.Sites["a"].Strategy)
		assert.Equal(t, models.StrategyShortCircuit, cfg.Sites["b"].Strategy)
	})

	t.Run("invalid strategy is kept for validation", func(t *testing.T) {
		cfg := &AppConfig{Sites: map[string]*SiteConfig{"a": {RootSitemapURL: "https://example.com/sitemap.xml"}}}
		ApplyEnv(cfg, envMap(map[string]string{EnvStrategy: "sideways"}))

		_, err := cfg.Sites["a"].Validate()
		assert.Error(t, err)
	})

	t.Run("store and telegram", func(t *testing.T) {
		cfg := &AppConfig{}
		ApplyEnv(cfg, envMap(map[string]string{
			EnvStoreDriver:     "postgres",
			EnvStoreDSN:        "postgres://localhost/watch",
			EnvTelegramChatIDs: "1,,2 ,",
			EnvStateDir:        "/var/lib/watcher",
		}))

		assert.Equal(t, "postgres", cfg.Store.Driver)
		assert.Equal(t, "postgres://localhost/watch", cfg.Store.DSN)
		assert.Equal(t, []string{"1", "2"}, cfg.Notify.Telegram.ChatIDs)
		assert.Equal(t, "/var/lib/watcher", cfg.StateDir)
	})

	t.Run("blank values ignored", func(t *testing.T) {
		cfg := &AppConfig{StateDir: "/keep"}
		ApplyEnv(cfg, envMap(map[string]string{EnvStateDir: "   ", EnvRootSitemapURL: ""}))

		assert.Equal(t, "/keep", cfg.StateDir)
		assert.Empty(t, cfg.Sites)
	})
}
