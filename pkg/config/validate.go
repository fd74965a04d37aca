package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/parse"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

const (
	defaultUserAgent          = "sitemap-watcher/1.0 (+https://github.com/Sriram-PR/sitemap-watcher)"
	defaultMaxConcurrent      = 16
	defaultMaxRequestsPerHost = 8
	defaultMaxDocumentBytes   = 50 << 20 // sitemaps.org caps uncompressed files at 50 MiB
	defaultStateDir           = "./sitemap_state"
	defaultWatchStateFile     = "watch_state.json"
	defaultGCInterval         = 10 * time.Minute
	defaultTelegramAPIBase    = "https://api.telegram.org"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = defaultUserAgent
	}

	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, setting to 0")
		c.DefaultDelayPerHost = 0
	}

	// MaxConcurrentFetches
	if c.MaxConcurrentFetches <= 0 {
		warnings = append(warnings, fmt.Sprintf("max_concurrent_fetches should be > 0, defaulting to %d", defaultMaxConcurrent))
		c.MaxConcurrentFetches = defaultMaxConcurrent
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, fmt.Sprintf("max_requests_per_host should be > 0, defaulting to %d", defaultMaxRequestsPerHost))
		c.MaxRequestsPerHost = defaultMaxRequestsPerHost
	}

	if c.MaxDocumentBytes <= 0 {
		c.MaxDocumentBytes = defaultMaxDocumentBytes
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, fmt.Sprintf("state_dir is empty, defaulting to '%s'", defaultStateDir))
		c.StateDir = defaultStateDir
	}
	if c.WatchStateFile == "" {
		c.WatchStateFile = defaultWatchStateFile
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	// InitialRetryDelay > MaxRetryDelay check
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalRunTimeout
	if c.GlobalRunTimeout < 0 {
		warnings = append(warnings, "global_run_timeout cannot be negative, disabling timeout")
		c.GlobalRunTimeout = 0
	}

	if err := c.validateStore(); err != nil {
		return warnings, err
	}
	warnings = append(warnings, c.validateNotify()...)

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	if len(c.Sites) == 0 {
		warnings = append(warnings, "no sites configured")
	}

	return warnings, nil
}

// validateStore applies store defaults and rejects unknown drivers.
func (c *AppConfig) validateStore() error {
	s := &c.Store
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	switch s.Driver {
	case "":
		s.Driver = StoreDriverBadger
	case StoreDriverBadger:
	case StoreDriverPostgres:
		if s.DSN == "" {
			return fmt.Errorf("%w: store driver 'postgres' needs a dsn", utils.ErrConfigValidation)
		}
	default:
		return fmt.Errorf("%w: unknown store driver '%s' (want %s or %s)",
			utils.ErrConfigValidation, s.Driver, StoreDriverBadger, StoreDriverPostgres)
	}
	if s.GCInterval <= 0 {
		s.GCInterval = defaultGCInterval
	}
	return nil
}

// validateNotify applies notifier defaults.
func (c *AppConfig) validateNotify() (warnings []string) {
	tg := &c.Notify.Telegram
	if tg.APIBase == "" {
		tg.APIBase = defaultTelegramAPIBase
	}
	tg.APIBase = strings.TrimRight(tg.APIBase, "/")

	ids := tg.ChatIDs[:0]
	for _, id := range tg.ChatIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	tg.ChatIDs = ids

	if tg.Token != "" && len(tg.ChatIDs) == 0 {
		warnings = append(warnings, "notify.telegram.token is set but chat_ids is empty, telegram delivery disabled")
	}
	if !tg.Enabled() && !c.Notify.Log {
		warnings = append(warnings, "no notifier enabled, new entries will only appear in run summaries")
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place (root URL canonicalisation, strategy defaults).
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: RootSitemapURL
	if strings.TrimSpace(c.RootSitemapURL) == "" {
		return nil, fmt.Errorf("%w: site has no root_sitemap_url", utils.ErrConfigValidation)
	}
	normalized, parsed, err := parse.ParseAndNormalize(c.RootSitemapURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid root_sitemap_url '%s': %v", utils.ErrConfigValidation, c.RootSitemapURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: root_sitemap_url must be http or https, got '%s'", utils.ErrConfigValidation, parsed.Scheme)
	}
	c.RootSitemapURL = normalized

	// Strategy
	if c.Strategy == models.StrategyUnset {
		c.Strategy = models.StrategyFullRescan
	} else {
		s, err := models.ParseStrategy(string(c.Strategy))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", utils.ErrConfigValidation, err)
		}
		c.Strategy = s
	}

	// OrderingCheck
	if c.OrderingCheck == models.OrderingCheckUnset {
		c.OrderingCheck = models.OrderingCheckWarn
	} else if !c.OrderingCheck.IsValid() {
		return nil, fmt.Errorf("%w: unknown ordering_check '%s' (want off, warn or fallback)", utils.ErrConfigValidation, c.OrderingCheck)
	}
	if c.Strategy == models.StrategyFullRescan && c.OrderingCheck == models.OrderingCheckFallback {
		warnings = append(warnings, "ordering_check only applies to the short-circuit strategy, ignoring 'fallback'")
	}

	if !parse.IsChildSitemap(c.RootSitemapURL) {
		warnings = append(warnings, fmt.Sprintf("root_sitemap_url '%s' does not end in '%s'", c.RootSitemapURL, parse.ChildSitemapSuffix))
	}

	if c.MaxConcurrentFetches < 0 {
		warnings = append(warnings, "max_concurrent_fetches cannot be negative, using the global value")
		c.MaxConcurrentFetches = 0
	}

	// MaxDepth
	if c.MaxDepth < 0 {
		warnings = append(warnings, "max_depth cannot be negative, setting to 0 (unbounded)")
		c.MaxDepth = 0
	}

	if c.DelayPerHost < 0 {
		warnings = append(warnings, "delay_per_host cannot be negative, using the global default")
		c.DelayPerHost = 0
	}

	if c.Schedule != "" && c.Interval != "" {
		warnings = append(warnings, "both schedule and interval are set, schedule wins")
	}

	return warnings, nil
}
