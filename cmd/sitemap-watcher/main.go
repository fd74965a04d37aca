package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/sitemap-watcher/pkg/config"
	"github.com/Sriram-PR/sitemap-watcher/pkg/crawler"
	"github.com/Sriram-PR/sitemap-watcher/pkg/fetch"
	applog "github.com/Sriram-PR/sitemap-watcher/pkg/log"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/orchestrate"
	"github.com/Sriram-PR/sitemap-watcher/pkg/storage"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
	"github.com/Sriram-PR/sitemap-watcher/pkg/watch"
)

const version = "1.0.0"

// Output formats accepted by -format
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "crawl":
		runCrawl(os.Args[2:])
	case "discover":
		runDiscover(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-sites":
		runListSites(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("sitemap-watcher %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `sitemap-watcher - Incremental sitemap change detection

Usage:
  sitemap-watcher <command> [options]

Commands:
  run         Check sites once and notify about new entries
  watch       Check sites repeatedly on their schedules
  crawl       Print the leaf entries of a sitemap tree
  discover    List the sitemaps a site declares in robots.txt
  validate    Validate configuration file
  list-sites  List available site keys
  status      Show the last watch run of each site
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'sitemap-watcher <command> -h' for command-specific help.`)
}

// loadConfig loads the config file and applies .env files and environment overrides
func loadConfig(path string) (*config.AppConfig, error) {
	return config.Load(path)
}

// parseSiteSelection turns the -site, -sites and -all-sites flags into site keys.
// A nil slice with allSites set means every configured site.
func parseSiteSelection(siteKey, sites string, allSites bool) ([]string, error) {
	if allSites {
		return nil, nil
	}
	if sites != "" {
		var keys []string
		for _, s := range strings.Split(sites, ",") {
			if s = strings.TrimSpace(s); s != "" {
				keys = append(keys, s)
			}
		}
		if len(keys) == 0 {
			return nil, errors.New("-sites contains no site keys")
		}
		return keys, nil
	}
	if siteKey != "" {
		return []string{siteKey}, nil
	}
	return nil, errors.New("one of -site, -sites, or -all-sites is required")
}

// runRun handles the run subcommand
func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys to check in parallel")
	allSites := fs.Bool("all-sites", false, "Check all configured sites in parallel")
	strategy := fs.String("strategy", "", "Override every site's strategy (full-rescan, short-circuit)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	logFormat := fs.String("logformat", applog.FormatText, "Log format (text, json)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	entriesLog := fs.String("entries-log", "", "Directory for one <site>.entries.log of stored entries per site (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-watcher run [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sitemap-watcher run -site news\n")
		fmt.Fprintf(os.Stderr, "  sitemap-watcher run -sites news,blog -strategy full-rescan\n")
		fmt.Fprintf(os.Stderr, "  sitemap-watcher run -all-sites -entries-log ./logs\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	siteKeys, err := parseSiteSelection(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel, *logFormat)
	os.Exit(executeRun(*configFile, siteKeys, *allSites, *strategy, *entriesLog, *pprofAddr, log))
}

// executeRun checks the selected sites once. Returns 1 if any site failed.
func executeRun(configFile string, siteKeys []string, allSites bool, strategyFlag, entriesLogDir, pprofAddr string, log *logrus.Logger) int {
	var override models.Strategy
	if strategyFlag != "" {
		parsed, err := models.ParseStrategy(strategyFlag)
		if err != nil {
			log.Errorf("Invalid -strategy: %v", err)
			return 1
		}
		override = parsed
		log.Infof("Strategy override: %s", override)
	}

	appCfg, siteKeys, err := prepareSites(configFile, siteKeys, allSites, log)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	startPprof(pprofAddr, log)

	opener, err := storage.NewOpener(appCfg, applog.Component(log, "storage"))
	if err != nil {
		log.Errorf("Failed to initialize store: %v", err)
		return 1
	}
	defer opener.Close()

	orch := orchestrate.NewOrchestrator(appCfg, siteKeys, opener, applog.Component(log, "orchestrate"))
	if override != models.StrategyUnset {
		orch.WithStrategy(override)
	}
	if entriesLogDir != "" {
		orch.WithEntriesLog(entriesLogDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := handleSignals(cancel, log)
	defer stop()

	results := orch.Run(ctx)
	if failed := orchestrate.FailedCount(results); failed > 0 {
		log.Errorf("%d of %d sites failed", failed, len(results))
		return 1
	}
	return 0
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key from config (single site)")
	sites := fs.String("sites", "", "Comma-separated site keys")
	allSites := fs.Bool("all-sites", false, "Watch all configured sites")
	interval := fs.String("interval", "", "Check interval for sites without their own schedule (e.g., 30m, 2h, 1d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	logFormat := fs.String("logformat", applog.FormatText, "Log format (text, json)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-watcher watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nSites without schedule, interval or -interval use '%s'.\n", config.DefaultSchedule)
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sitemap-watcher watch -site news\n")
		fmt.Fprintf(os.Stderr, "  sitemap-watcher watch -sites news,blog -interval 2h\n")
		fmt.Fprintf(os.Stderr, "  sitemap-watcher watch -all-sites\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	siteKeys, err := parseSiteSelection(*siteKey, *sites, *allSites)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel, *logFormat)
	os.Exit(executeWatch(*configFile, siteKeys, *allSites, *interval, *pprofAddr, log))
}

// executeWatch runs the watch scheduler until a signal arrives
func executeWatch(configFile string, siteKeys []string, allSites bool, intervalStr, pprofAddr string, log *logrus.Logger) int {
	var interval time.Duration
	if intervalStr != "" {
		d, err := watch.ParseInterval(intervalStr)
		if err != nil {
			log.Errorf("Invalid interval: %v", err)
			return 1
		}
		interval = d
		log.Infof("Watch interval: %s", watch.FormatInterval(interval))
	}

	appCfg, siteKeys, err := prepareSites(configFile, siteKeys, allSites, log)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}
	startPprof(pprofAddr, log)

	opener, err := storage.NewOpener(appCfg, applog.Component(log, "storage"))
	if err != nil {
		log.Errorf("Failed to initialize store: %v", err)
		return 1
	}
	defer opener.Close()

	orch := orchestrate.NewOrchestrator(appCfg, siteKeys, opener, applog.Component(log, "orchestrate"))
	scheduler, err := watch.NewScheduler(appCfg, siteKeys, interval, orch, applog.Component(log, "watch"))
	if err != nil {
		log.Errorf("Watch setup failed: %v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := handleSignals(cancel, log)
	defer stop()

	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return 1
	}

	log.Info("Watch mode stopped")
	return 0
}

// runCrawl handles the crawl subcommand
func runCrawl(args []string) {
	fs := flag.NewFlagSet("crawl", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (optional, supplies fetch settings)")
	rootURL := fs.String("url", "", "Sitemap or sitemap index URL")
	recursive := fs.Bool("recursive", true, "Follow child sitemaps")
	format := fs.String("format", outputText, "Output format (text, json, yaml)")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-watcher crawl -url <sitemap> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *rootURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel, applog.FormatText)
	ctx, cancel := context.WithCancel(context.Background())
	stop := handleSignals(cancel, log)
	exitCode := doCrawl(ctx, *configFile, *rootURL, *recursive, *format, log, os.Stdout, os.Stderr)
	stop()
	cancel()
	os.Exit(exitCode)
}

// doCrawl crawls rootURL and writes its entries to stdout.
// Returns exit code (0 = success, 1 = error).
func doCrawl(ctx context.Context, configPath, rootURL string, recursive bool, format string, log *logrus.Logger, stdout, stderr io.Writer) int {
	if !validFormat(format) {
		fmt.Fprintf(stderr, "Error: unknown format '%s'\n", format)
		return 1
	}

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	orch := orchestrate.NewOrchestrator(appCfg, nil, nil, applog.Component(log, "orchestrate"))
	c := crawler.New(orch.SourceFor(nil, applog.Component(log, "crawl")), crawler.Options{
		MaxConcurrentFetches: appCfg.MaxConcurrentFetches,
	}, applog.Component(log, "crawler"))

	entries, err := c.Crawl(ctx, rootURL, recursive)
	if err != nil {
		fmt.Fprintf(stderr, "Error: [%s] %v\n", utils.CategorizeError(err), err)
		return 1
	}

	switch format {
	case outputJSON, outputYAML:
		if err := writeStructured(stdout, format, entries); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	default:
		for _, e := range entries {
			fmt.Fprintf(stdout, "%s\t%s\n", formatMillis(e.UpdatedDate), e.Site)
		}
		fmt.Fprintf(stdout, "\n%d entries\n", len(entries))
	}
	return 0
}

// runDiscover handles the discover subcommand
func runDiscover(args []string) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (optional, supplies fetch settings)")
	siteURL := fs.String("url", "", "Any URL on the site to inspect")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-watcher discover -url <site> [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *siteURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}

	log := setupLogger(*logLevel, applog.FormatText)
	os.Exit(doDiscover(context.Background(), *configFile, *siteURL, log, os.Stdout, os.Stderr))
}

// doDiscover prints one sitemap URL per line
func doDiscover(ctx context.Context, configPath, siteURL string, log *logrus.Logger, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	orch := orchestrate.NewOrchestrator(appCfg, nil, nil, applog.Component(log, "orchestrate"))
	robots := fetch.NewRobotsHandler(orch.Fetcher(), orch.RateLimiter(), appCfg.DefaultUserAgent, applog.Component(log, "robots"))
	sitemaps, err := robots.DiscoverSitemaps(ctx, siteURL)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for _, s := range sitemaps {
		fmt.Fprintln(stdout, s)
	}
	return 0
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-watcher validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, *siteKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, siteKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	keys := []string{siteKey}
	if siteKey == "" {
		keys = orchestrate.GetAllSiteKeys(appCfg)
	} else if _, ok := appCfg.Sites[siteKey]; !ok {
		fmt.Fprintf(stderr, "Error: site '%s' not found in config\n", siteKey)
		return 1
	}

	hasError := false
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		if siteCfg == nil {
			fmt.Fprintf(stderr, "ERROR: [%s] empty site configuration\n", key)
			hasError = true
			continue
		}
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		for _, w := range siteWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	// Building a scheduler parses every schedule and interval
	if _, err := watch.NewScheduler(appCfg, keys, 0, nil, applog.Component(logrus.New(), "watch")); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListSites handles the list-sites subcommand
func runListSites(args []string) {
	fs := flag.NewFlagSet("list-sites", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-watcher list-sites [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doListSites(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doListSites lists sites and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListSites(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Sites in %s:\n\n", configPath)
	for _, key := range orchestrate.GetAllSiteKeys(appCfg) {
		site := appCfg.Sites[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		if site == nil {
			fmt.Fprintln(stdout)
			continue
		}
		fmt.Fprintf(stdout, "    Root: %s\n", site.RootSitemapURL)
		strategy := site.Strategy
		if strategy == models.StrategyUnset {
			strategy = models.StrategyFullRescan
		}
		fmt.Fprintf(stdout, "    Strategy: %s\n", strategy)
		switch {
		case site.Schedule != "":
			fmt.Fprintf(stdout, "    Schedule: %s\n", site.Schedule)
		case site.Interval != "":
			fmt.Fprintf(stdout, "    Interval: %s\n", site.Interval)
		}
		if site.DisableNotify {
			fmt.Fprintln(stdout, "    Notify: disabled")
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// runStatus handles the status subcommand
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	siteKey := fs.String("site", "", "Site key to show (optional, shows all if empty)")
	interval := fs.String("interval", "", "Interval passed to watch, used to compute the next run")
	format := fs.String("format", outputText, "Output format (text, json, yaml)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sitemap-watcher status [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doStatus(*configFile, *siteKey, *interval, *format, os.Stdout, os.Stderr))
}

// statusView is the structured rendering of watch.SiteStatus
type statusView struct {
	SiteKey        string     `json:"site_key" yaml:"site_key"`
	Schedule       string     `json:"schedule" yaml:"schedule"`
	NeverRun       bool       `json:"never_run" yaml:"never_run"`
	LastRunTime    *time.Time `json:"last_run_time,omitempty" yaml:"last_run_time,omitempty"`
	LastRunSuccess bool       `json:"last_run_success" yaml:"last_run_success"`
	LastNewEntries int        `json:"last_new_entries" yaml:"last_new_entries"`
	ErrorMessage   string     `json:"error,omitempty" yaml:"error,omitempty"`
	NextRunTime    time.Time  `json:"next_run_time" yaml:"next_run_time"`
}

// doStatus prints the recorded watch state of each site.
// Returns exit code (0 = success, 1 = error).
func doStatus(configPath, siteKey, intervalStr, format string, stdout, stderr io.Writer) int {
	if !validFormat(format) {
		fmt.Fprintf(stderr, "Error: unknown format '%s'\n", format)
		return 1
	}

	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := appCfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var interval time.Duration
	if intervalStr != "" {
		if interval, err = watch.ParseInterval(intervalStr); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	keys := orchestrate.GetAllSiteKeys(appCfg)
	if siteKey != "" {
		if err := orchestrate.ValidateSiteKeys(appCfg, []string{siteKey}); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		keys = []string{siteKey}
	}

	scheduler, err := watch.NewScheduler(appCfg, keys, interval, nil, applog.Component(logrus.New(), "watch"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := scheduler.StateManager().Load(); err != nil {
		fmt.Fprintf(stderr, "Error: read watch state: %v\n", err)
		return 1
	}

	status := scheduler.GetStatus()
	views := make([]statusView, 0, len(keys))
	for _, key := range keys {
		st := status[key]
		v := statusView{
			SiteKey:        key,
			Schedule:       st.Schedule,
			NeverRun:       st.NeverRun,
			LastRunSuccess: st.LastRunSuccess,
			LastNewEntries: st.LastNewEntries,
			ErrorMessage:   st.ErrorMessage,
			NextRunTime:    st.NextRunTime,
		}
		if !st.NeverRun {
			last := st.LastRunTime
			v.LastRunTime = &last
		}
		views = append(views, v)
	}

	if format != outputText {
		if err := writeStructured(stdout, format, views); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "Watch state in %s:\n\n", scheduler.StateManager().Path())
	for _, v := range views {
		fmt.Fprintf(stdout, "  %s (%s)\n", v.SiteKey, v.Schedule)
		if v.NeverRun {
			fmt.Fprintln(stdout, "    Last run: never")
		} else {
			result := "ok"
			if !v.LastRunSuccess {
				result = "failed: " + v.ErrorMessage
			}
			fmt.Fprintf(stdout, "    Last run: %s (%s, %d new)\n", v.LastRunTime.Format(time.RFC3339), result, v.LastNewEntries)
		}
		fmt.Fprintf(stdout, "    Next run: %s\n\n", v.NextRunTime.Format(time.RFC3339))
	}
	return 0
}

func validFormat(format string) bool {
	switch format {
	case outputText, outputJSON, outputYAML:
		return true
	}
	return false
}

// writeStructured encodes v as JSON or YAML
func writeStructured(w io.Writer, format string, v interface{}) error {
	if format == outputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formatMillis renders epoch millis as RFC 3339, "-" for 0
func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// setupLogger creates a configured logrus.Logger writing to stderr
func setupLogger(level, format string) *logrus.Logger {
	return applog.Setup(level, format, os.Stderr)
}

// prepareSites loads and validates the config, resolves -all-sites and
// validates each selected site.
func prepareSites(configFile string, siteKeys []string, allSites bool, log *logrus.Logger) (*config.AppConfig, []string, error) {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}

	if allSites {
		siteKeys = orchestrate.GetAllSiteKeys(appCfg)
		log.Infof("All sites mode: found %d sites", len(siteKeys))
		if len(siteKeys) == 0 {
			return nil, nil, errors.New("no sites configured")
		}
	}

	if err := orchestrate.ValidateSiteKeys(appCfg, siteKeys); err != nil {
		return nil, nil, fmt.Errorf("invalid site keys: %w", err)
	}

	if err := validateSiteConfigs(appCfg, siteKeys, log); err != nil {
		return nil, nil, err
	}
	return appCfg, siteKeys, nil
}

// validateSiteConfigs validates the configuration for each site key and logs warnings.
func validateSiteConfigs(appCfg *config.AppConfig, siteKeys []string, log *logrus.Logger) error {
	keys := append([]string(nil), siteKeys...)
	sort.Strings(keys)
	for _, key := range keys {
		siteCfg := appCfg.Sites[key]
		if siteCfg == nil {
			return fmt.Errorf("site '%s' configuration error: empty site", key)
		}
		siteWarnings, err := siteCfg.Validate()
		if err != nil {
			return fmt.Errorf("site '%s' configuration error: %w", key, err)
		}
		for _, w := range siteWarnings {
			log.Warnf("[%s] %s", key, w)
		}
	}
	return nil
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// handleSignals cancels on the first SIGINT or SIGTERM and forces exit on a
// second one or when shutdown takes longer than 30s. The returned func stops listening.
func handleSignals(cancel context.CancelFunc, log *logrus.Logger) func() {
	sigChan := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}
