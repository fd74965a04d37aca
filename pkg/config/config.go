package config

import (
	"time"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
)

// DefaultSchedule runs at minute 0 of every second hour from 07:00 to 21:00, Monday to Saturday
const DefaultSchedule = "0 7-21/2 * * MON-SAT"

// SiteConfig holds configuration for a single watched sitemap root
type SiteConfig struct {
	RootSitemapURL       string               `yaml:"root_sitemap_url"`
	Strategy             models.Strategy      `yaml:"strategy,omitempty"`
	MaxConcurrentFetches int                  `yaml:"max_concurrent_fetches,omitempty"` // Overrides the global cap when > 0
	MaxDepth             int                  `yaml:"max_depth,omitempty"`              // 0 = unbounded
	OrderingCheck        models.OrderingCheck `yaml:"ordering_check,omitempty"`         // short-circuit only
	Schedule             string               `yaml:"schedule,omitempty"`               // Cron expression for watch mode
	Interval             string               `yaml:"interval,omitempty"`               // Fixed interval for watch mode (e.g. 6h, 1d)
	UserAgent            string               `yaml:"user_agent,omitempty"`
	DelayPerHost         time.Duration        `yaml:"delay_per_host,omitempty"`
	DisableNotify        bool                 `yaml:"disable_notify,omitempty"`
	RespectRobots        *bool                `yaml:"respect_robots,omitempty"` // nil inherits the global setting
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                 `yaml:"default_user_agent"`
	DefaultDelayPerHost     time.Duration          `yaml:"default_delay_per_host"`
	MaxConcurrentFetches    int                    `yaml:"max_concurrent_fetches"`
	MaxRequestsPerHost      int                    `yaml:"max_requests_per_host"`
	MaxDocumentBytes        int64                  `yaml:"max_document_bytes,omitempty"`
	RespectRobots           bool                   `yaml:"respect_robots,omitempty"`
	StateDir                string                 `yaml:"state_dir"`
	WatchStateFile          string                 `yaml:"watch_state_file,omitempty"`
	MaxRetries              int                    `yaml:"max_retries,omitempty"`
	InitialRetryDelay       time.Duration          `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration          `yaml:"max_retry_delay,omitempty"`
	SemaphoreAcquireTimeout time.Duration          `yaml:"semaphore_acquire_timeout,omitempty"`
	GlobalRunTimeout        time.Duration          `yaml:"global_run_timeout,omitempty"`
	Store                   StoreConfig            `yaml:"store,omitempty"`
	Notify                  NotifyConfig           `yaml:"notify,omitempty"`
	HTTPClientSettings      HTTPClientConfig       `yaml:"http_client_settings,omitempty"`
	Sites                   map[string]*SiteConfig `yaml:"sites"`
}

// StoreConfig selects and configures the watermark store backend
type StoreConfig struct {
	Driver     string        `yaml:"driver,omitempty"` // badger or postgres
	DSN        string        `yaml:"dsn,omitempty"`    // postgres only
	GCInterval time.Duration `yaml:"gc_interval,omitempty"`
}

// NotifyConfig configures delivery of new-entry messages
type NotifyConfig struct {
	Log      bool           `yaml:"log,omitempty"`
	Telegram TelegramConfig `yaml:"telegram,omitempty"`
}

// TelegramConfig holds Telegram Bot API credentials and recipients
type TelegramConfig struct {
	Token   string   `yaml:"token,omitempty"`
	ChatIDs []string `yaml:"chat_ids,omitempty"`
	APIBase string   `yaml:"api_base,omitempty"`
}

// Enabled reports whether messages can be delivered at all
func (t TelegramConfig) Enabled() bool {
	return t.Token != "" && len(t.ChatIDs) > 0
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

const (
	StoreDriverBadger   = "badger"
	StoreDriverPostgres = "postgres"
)

// GetEffectiveMaxConcurrentFetches returns the site override or the global cap
func GetEffectiveMaxConcurrentFetches(siteCfg *SiteConfig, appCfg *AppConfig) int {
	if siteCfg != nil && siteCfg.MaxConcurrentFetches > 0 {
		return siteCfg.MaxConcurrentFetches
	}
	return appCfg.MaxConcurrentFetches
}

// GetEffectiveUserAgent returns the site user agent, falling back to the global default
func GetEffectiveUserAgent(siteCfg *SiteConfig, appCfg *AppConfig) string {
	if siteCfg != nil && siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelayPerHost returns the site delay, falling back to the global default
func GetEffectiveDelayPerHost(siteCfg *SiteConfig, appCfg *AppConfig) time.Duration {
	if siteCfg != nil && siteCfg.DelayPerHost > 0 {
		return siteCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveRespectRobots reports whether robots.txt gates the site's sitemap fetches
func GetEffectiveRespectRobots(siteCfg *SiteConfig, appCfg *AppConfig) bool {
	if siteCfg != nil && siteCfg.RespectRobots != nil {
		return *siteCfg.RespectRobots
	}
	return appCfg.RespectRobots
}
