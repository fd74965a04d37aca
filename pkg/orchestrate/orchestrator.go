package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/config"
	"github.com/Sriram-PR/sitemap-watcher/pkg/crawler"
	"github.com/Sriram-PR/sitemap-watcher/pkg/detect"
	"github.com/Sriram-PR/sitemap-watcher/pkg/fetch"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/notify"
	"github.com/Sriram-PR/sitemap-watcher/pkg/run"
	"github.com/Sriram-PR/sitemap-watcher/pkg/storage"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// SiteResult contains the result of one run for a single site
type SiteResult struct {
	SiteKey       string
	Success       bool
	Error         error
	Run           models.RunResult
	Duration      time.Duration
	StoredEntries int    // Entries in the site's store after the run
	EntriesLog    string // Path of the written entries log, empty when none
}

// Orchestrator runs change detection for many sites in parallel
type Orchestrator struct {
	appCfg   *config.AppConfig
	log      *logrus.Entry
	siteKeys []string
	opener   storage.Opener
	strategy models.Strategy // Overrides every site's strategy when set
	logDir   string          // Entries logs are written here when set

	// Shared resources
	fetcher     *fetch.Fetcher
	rateLimiter *fetch.RateLimiter
	hostPool    *fetch.HostSemaphorePool
	notifier    notify.Notifier
	source      fetch.Source // Replaces the per-site HTTPSource when set

	// Results
	results   []SiteResult
	resultsMu sync.Mutex
}

// NewOrchestrator creates an orchestrator sharing one HTTP client, rate limiter,
// host semaphore pool and notifier between all sites
func NewOrchestrator(appCfg *config.AppConfig, siteKeys []string, opener storage.Opener, log *logrus.Entry) *Orchestrator {
	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(httpClient, appCfg, log)

	hostPool := fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, log)
	if appCfg.SemaphoreAcquireTimeout > 0 {
		hostPool.WithAcquireTimeout(appCfg.SemaphoreAcquireTimeout)
	}

	return &Orchestrator{
		appCfg:      appCfg,
		log:         log,
		siteKeys:    siteKeys,
		opener:      opener,
		fetcher:     fetcher,
		rateLimiter: fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log),
		hostPool:    hostPool,
		notifier:    notify.FromConfig(appCfg.Notify, fetcher, log.WithField("component", "notify")),
		results:     make([]SiteResult, 0, len(siteKeys)),
	}
}

// WithStrategy forces one strategy for every site
func (o *Orchestrator) WithStrategy(s models.Strategy) *Orchestrator {
	o.strategy = s
	return o
}

// WithEntriesLog writes every site's stored entries to dir after a successful run
func (o *Orchestrator) WithEntriesLog(dir string) *Orchestrator {
	o.logDir = dir
	return o
}

// WithNotifier replaces the notifier built from the config
func (o *Orchestrator) WithNotifier(n notify.Notifier) *Orchestrator {
	o.notifier = n
	return o
}

// WithSource makes every site read documents from src instead of HTTP
func (o *Orchestrator) WithSource(src fetch.Source) *Orchestrator {
	o.source = src
	return o
}

// Fetcher exposes the shared retrying fetcher
func (o *Orchestrator) Fetcher() *fetch.Fetcher {
	return o.fetcher
}

// RateLimiter exposes the shared per-host rate limiter
func (o *Orchestrator) RateLimiter() *fetch.RateLimiter {
	return o.rateLimiter
}

// SourceFor returns a document source using the shared fetch resources and
// the site's politeness settings. siteCfg may be nil for ad-hoc crawls.
func (o *Orchestrator) SourceFor(siteCfg *config.SiteConfig, log *logrus.Entry) fetch.Source {
	if o.source != nil {
		return o.source
	}
	userAgent := config.GetEffectiveUserAgent(siteCfg, o.appCfg)
	src := fetch.NewHTTPSource(o.fetcher, o.rateLimiter, o.hostPool, fetch.SourceOptions{
		UserAgent:        userAgent,
		DelayPerHost:     config.GetEffectiveDelayPerHost(siteCfg, o.appCfg),
		MaxDocumentBytes: o.appCfg.MaxDocumentBytes,
	}, log.WithField("component", "fetch"))
	if config.GetEffectiveRespectRobots(siteCfg, o.appCfg) {
		src.WithRobots(fetch.NewRobotsHandler(o.fetcher, o.rateLimiter, userAgent, log.WithField("component", "robots")))
	}
	return src
}

// Run executes one run per site in parallel and waits for all of them.
// A global_run_timeout bounds the whole batch.
func (o *Orchestrator) Run(ctx context.Context) []SiteResult {
	startTime := time.Now()
	o.log.Infof("Starting parallel run of %d sites: %v", len(o.siteKeys), o.siteKeys)

	if o.appCfg.GlobalRunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.appCfg.GlobalRunTimeout)
		defer cancel()
	}

	evictCtx, stopEviction := context.WithCancel(ctx)
	defer stopEviction()
	go o.hostPool.RunEviction(evictCtx, 0)

	o.resultsMu.Lock()
	o.results = o.results[:0]
	o.resultsMu.Unlock()

	var wg sync.WaitGroup
	for _, siteKey := range o.siteKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			result := o.RunSite(ctx, key)
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
		}(siteKey)
	}
	wg.Wait()

	o.resultsMu.Lock()
	sort.Slice(o.results, func(i, j int) bool { return o.results[i].SiteKey < o.results[j].SiteKey })
	results := append([]SiteResult(nil), o.results...)
	o.resultsMu.Unlock()

	o.logSummary(results, time.Since(startTime))
	return results
}

// RunSite opens the site's store, builds its pipeline and executes one run
func (o *Orchestrator) RunSite(ctx context.Context, siteKey string) SiteResult {
	startTime := time.Now()
	result := SiteResult{SiteKey: siteKey}
	siteLog := o.log.WithField("site", siteKey)

	siteCfg, exists := o.appCfg.Sites[siteKey]
	if !exists {
		result.Error = fmt.Errorf("site '%s' not found in configuration", siteKey)
		siteLog.Errorf("Site '%s' not found in configuration", siteKey)
		return result
	}

	store, err := o.opener.Open(ctx, siteKey)
	if err != nil {
		result.Error = fmt.Errorf("failed to open store for '%s': %w", siteKey, err)
		siteLog.Errorf("Failed to open store for site '%s': %v", siteKey, err)
		return result
	}

	siteCtx, siteCancel := context.WithCancel(ctx)
	var gcWG sync.WaitGroup
	if o.appCfg.Store.GCInterval > 0 {
		gcWG.Add(1)
		go func() {
			defer gcWG.Done()
			store.RunGC(siteCtx, o.appCfg.Store.GCInterval)
		}()
	}
	defer func() {
		siteCancel()
		gcWG.Wait()
		if err := store.Close(); err != nil {
			siteLog.Errorf("Failed to close store: %v", err)
		}
	}()

	ctrl, err := o.controller(siteKey, siteCfg, store, siteLog)
	if err != nil {
		result.Error = err
		siteLog.Errorf("Failed to build pipeline for site '%s': %v", siteKey, err)
		return result
	}

	runResult, err := ctrl.Run(siteCtx)
	result.Run = runResult
	result.Duration = time.Since(startTime)
	if err != nil {
		result.Error = err
		return result
	}
	result.Success = true
	o.recordStore(siteCtx, store, siteKey, &result, siteLog)
	return result
}

// recordStore counts the site's stored entries and writes its entries log.
// The run has already committed, so failures are only logged.
func (o *Orchestrator) recordStore(ctx context.Context, store storage.StoreAdmin, siteKey string, result *SiteResult, siteLog *logrus.Entry) {
	count, err := store.EntryCount(ctx)
	if err != nil {
		siteLog.Warnf("Failed to count stored entries: %v", err)
	} else {
		result.StoredEntries = count
	}

	if o.logDir == "" {
		return
	}
	if err := os.MkdirAll(o.logDir, 0o755); err != nil {
		siteLog.Errorf("Failed to create entries log directory %s: %v", o.logDir, err)
		return
	}
	logPath := filepath.Join(o.logDir, utils.SanitizeFilename(siteKey)+".entries.log")
	if err := store.WriteEntriesLog(ctx, logPath); err != nil {
		siteLog.Errorf("Failed to write entries log: %v", err)
		return
	}
	result.EntriesLog = logPath
}

func (o *Orchestrator) controller(siteKey string, siteCfg *config.SiteConfig, store storage.StateStore, siteLog *logrus.Entry) (*run.Controller, error) {
	c := crawler.New(o.SourceFor(siteCfg, siteLog), crawler.Options{
		MaxConcurrentFetches: config.GetEffectiveMaxConcurrentFetches(siteCfg, o.appCfg),
		MaxDepth:             siteCfg.MaxDepth,
	}, siteLog.WithField("component", "crawler"))

	name := siteCfg.Strategy
	if o.strategy != models.StrategyUnset {
		name = o.strategy
	}
	strategy, err := detect.New(name, c, store, siteCfg.OrderingCheck, siteLog.WithField("component", "detect"))
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier
	if !siteCfg.DisableNotify {
		notifier = o.notifier
	}
	return run.NewController(siteKey, siteCfg.RootSitemapURL, strategy, notifier, siteLog.WithField("component", "run")), nil
}

// Results returns a copy of the results of the last Run
func (o *Orchestrator) Results() []SiteResult {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	return append([]SiteResult(nil), o.results...)
}

// logSummary logs a summary of all site results
func (o *Orchestrator) logSummary(results []SiteResult, totalDuration time.Duration) {
	o.log.Info("============================================")
	o.log.Infof("Parallel run completed in %v", totalDuration)
	o.log.Info("Site Results:")

	totalNew := 0
	successCount := 0
	failCount := 0

	for _, r := range results {
		status := "SUCCESS"
		if !r.Success {
			status = "FAILED"
			failCount++
		} else {
			successCount++
		}
		if r.Run.NotifyFailed {
			status += " (notify failed)"
		}
		totalNew += len(r.Run.NewEntries)

		o.log.Infof("  %s: %s - %d new of %d seen, %d stored in %v", r.SiteKey, status, len(r.Run.NewEntries), r.Run.EntriesSeen, r.StoredEntries, r.Duration)
		if r.EntriesLog != "" {
			o.log.Infof("    Entries log: %s", r.EntriesLog)
		}
		if r.Error != nil {
			o.log.Infof("    Error: %v", r.Error)
		}
	}

	o.log.Info("--------------------------------------------")
	o.log.Infof("Total: %d sites (%d success, %d failed), %d new entries",
		len(results), successCount, failCount, totalNew)
	o.log.Info("============================================")
}

// FailedCount returns how many results did not succeed
func FailedCount(results []SiteResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}

// ValidateSiteKeys checks that all provided site keys exist in the config
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			return fmt.Errorf("site '%s' not found. Available sites: %v", key, GetAllSiteKeys(appCfg))
		}
	}
	return nil
}

// GetAllSiteKeys returns all site keys from the config in sorted order
func GetAllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
