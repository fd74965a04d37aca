package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
)

// DefaultSiteKey names the site created from ROOT_SITEMAP_URL
const DefaultSiteKey = "default"

// Environment variables recognised by ApplyEnv
const (
	EnvRootSitemapURL  = "ROOT_SITEMAP_URL"
	EnvStrategy        = "SITEMAP_STRATEGY"
	EnvTelegramToken   = "TELEGRAM_TOKEN"
	EnvTelegramChatIDs = "TELEGRAM_CHAT_IDS"
	EnvStoreDriver     = "STORE_DRIVER"
	EnvStoreDSN        = "STORE_DSN"
	EnvStateDir        = "STATE_DIR"
)

// Load reads a YAML config file and applies environment variable overrides.
// An empty path builds the configuration from the environment alone.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}
	ApplyEnv(&cfg, os.LookupEnv)
	return &cfg, nil
}

// LoadEnvFiles loads .env files in priority order:
// 1. ENV_FILE environment variable (if set, loads only this file)
// 2. .env.local (if exists, overrides .env)
// 3. .env (default)
// Variables already present in the process environment are never overwritten.
func LoadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// ApplyEnv overrides config values from the environment using lookup.
// ROOT_SITEMAP_URL creates or replaces the root of the "default" site.
func ApplyEnv(cfg *AppConfig, lookup func(string) (string, bool)) {
	if v, ok := lookupNonEmpty(lookup, EnvRootSitemapURL); ok {
		if cfg.Sites == nil {
			cfg.Sites = make(map[string]*SiteConfig)
		}
		site, exists := cfg.Sites[DefaultSiteKey]
		if !exists || site == nil {
			site = &SiteConfig{}
			cfg.Sites[DefaultSiteKey] = site
		}
		site.RootSitemapURL = v
	}

	if v, ok := lookupNonEmpty(lookup, EnvStrategy); ok {
		strategy := models.Strategy(v)
		if parsed, err := models.ParseStrategy(v); err == nil {
			strategy = parsed
		}
		// Invalid values are kept so SiteConfig.Validate reports them
		for _, site := range cfg.Sites {
			if site != nil {
				site.Strategy = strategy
			}
		}
	}

	if v, ok := lookupNonEmpty(lookup, EnvTelegramToken); ok {
		cfg.Notify.Telegram.Token = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvTelegramChatIDs); ok {
		cfg.Notify.Telegram.ChatIDs = splitList(v)
	}
	if v, ok := lookupNonEmpty(lookup, EnvStoreDriver); ok {
		cfg.Store.Driver = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvStoreDSN); ok {
		cfg.Store.DSN = v
	}
	if v, ok := lookupNonEmpty(lookup, EnvStateDir); ok {
		cfg.StateDir = v
	}
}

func lookupNonEmpty(lookup func(string) (string, bool), key string) (string, bool) {
	v, ok := lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
