package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/sitemap-watcher/pkg/crawler"
	"github.com/Sriram-PR/sitemap-watcher/pkg/detect"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/orchestrate"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
	"github.com/Sriram-PR/sitemap-watcher/pkg/watch"
)

// handleListSites handles the list_sites tool
func (s *Server) handleListSites(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := orchestrate.GetAllSiteKeys(s.cfg.AppConfig)
	sites := make([]map[string]interface{}, 0, len(keys))

	history := watch.NewStateManager(watch.StatePath(s.cfg.AppConfig.WatchStateFile, s.cfg.AppConfig.StateDir))
	if err := history.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v", err)
	}

	for _, key := range keys {
		siteCfg := s.cfg.AppConfig.Sites[key]
		siteInfo := map[string]interface{}{
			"key":              key,
			"root_sitemap_url": siteCfg.RootSitemapURL,
			"strategy":         siteCfg.Strategy.String(),
			"max_depth":        siteCfg.MaxDepth,
		}
		if siteCfg.Schedule != "" {
			siteInfo["schedule"] = siteCfg.Schedule
		}
		if siteCfg.Interval != "" {
			siteInfo["interval"] = siteCfg.Interval
		}

		if state, ok := history.GetSiteState(key); ok {
			siteInfo["last_run"] = state.LastRunTime.Format(time.RFC3339)
			siteInfo["last_run_success"] = state.LastRunSuccess
			siteInfo["last_new_entries"] = state.LastNewEntries
		}

		if s.jobManager.IsRunning(key) {
			siteInfo["status"] = "running"
		}

		sites = append(sites, siteInfo)
	}

	result := map[string]interface{}{
		"sites":       sites,
		"config_path": s.cfg.ConfigPath,
		"total_sites": len(sites),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCheckSite handles the check_site tool
func (s *Server) handleCheckSite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return mcp.NewToolResultError("site_key parameter is required"), nil
	}

	if err := orchestrate.ValidateSiteKeys(s.cfg.AppConfig, []string{siteKey}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	strategy := models.StrategyUnset
	if raw := request.GetString("strategy", ""); raw != "" {
		parsed, err := models.ParseStrategy(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		strategy = parsed
	}

	job, created := s.jobManager.CreateJob(siteKey, strategy)
	if !created {
		result := map[string]interface{}{
			"status":   "already_running",
			"message":  "A check is already in progress for this site",
			"job_id":   job.ID,
			"site_key": siteKey,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runCheckJob(job.ID, siteKey, strategy)

	result := map[string]interface{}{
		"status":   "started",
		"message":  "Check started successfully",
		"job_id":   job.ID,
		"site_key": siteKey,
	}
	if strategy != models.StrategyUnset {
		result["strategy"] = strategy.String()
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runCheckJob runs one change-detection run in the background
func (s *Server) runCheckJob(jobID, siteKey string, strategy models.Strategy) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)

	orch := s.orch
	if strategy != models.StrategyUnset {
		orch = s.orchestratorWith(strategy)
	}

	result := orch.RunSite(jobCtx, siteKey)
	s.jobManager.SetResult(jobID, result.Run)

	switch {
	case result.Error == nil:
		s.jobManager.UpdateStatus(jobID, JobStatusCompleted, "")
	case errors.Is(result.Error, context.Canceled):
		s.jobManager.UpdateStatus(jobID, JobStatusCancelled, "")
	default:
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, result.Error.Error())
	}
}

// orchestratorWith builds an orchestrator forcing strategy, sharing the server's store backend
func (s *Server) orchestratorWith(strategy models.Strategy) *orchestrate.Orchestrator {
	orch := orchestrate.NewOrchestrator(s.cfg.AppConfig, nil, s.cfg.Opener, s.log).WithStrategy(strategy)
	if s.cfg.Source != nil {
		orch.WithSource(s.cfg.Source)
	}
	return orch
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":       job.ID,
		"site_key":     job.SiteKey,
		"status":       job.Status,
		"started_at":   job.StartedAt.Format(time.RFC3339),
		"entries_seen": job.EntriesSeen,
		"new_count":    len(job.NewEntries),
		"new_entries":  entriesJSON(job.NewEntries),
	}
	if job.Strategy != models.StrategyUnset {
		result["strategy"] = job.Strategy.String()
	}
	if job.NotifyFailed {
		result["notify_failed"] = true
	}

	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}

	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCrawlSitemap handles the crawl_sitemap tool
func (s *Server) handleCrawlSitemap(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rootURL := request.GetString("url", "")
	if rootURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}
	recursive := request.GetBool("recursive", true)
	maxResults := clamp(request.GetInt("max_results", 100), 100, 1000)

	startTime := time.Now()
	c := crawler.New(s.orch.SourceFor(nil, s.log), crawler.Options{
		MaxConcurrentFetches: s.cfg.AppConfig.MaxConcurrentFetches,
	}, s.log.WithField("component", "crawler"))

	entries, err := c.Crawl(ctx, rootURL, recursive)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("crawl failed (%s): %v", utils.CategorizeError(err), err)), nil
	}

	truncated := false
	if len(entries) > maxResults {
		entries = entries[:maxResults]
		truncated = true
	}

	result := map[string]interface{}{
		"url":           rootURL,
		"recursive":     recursive,
		"entries":       entriesJSON(entries),
		"returned":      len(entries),
		"truncated":     truncated,
		"max_updated":   formatMillis(detect.MaxUpdatedDate(entries)),
		"crawl_time_ms": time.Since(startTime).Milliseconds(),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListWatermarks handles the list_watermarks tool
func (s *Server) handleListWatermarks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteKey := request.GetString("site_key", "")
	if siteKey == "" {
		return mcp.NewToolResultError("site_key parameter is required"), nil
	}
	if err := orchestrate.ValidateSiteKeys(s.cfg.AppConfig, []string{siteKey}); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.jobManager.IsRunning(siteKey) {
		return mcp.NewToolResultError(fmt.Sprintf("a check is running for '%s', try again when it completes", siteKey)), nil
	}
	maxResults := clamp(request.GetInt("max_results", 50), 50, 1000)

	store, err := s.cfg.Opener.Open(ctx, siteKey)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open store: %v", err)), nil
	}
	defer store.Close()

	globalMax, err := store.GetGlobalMaxUpdatedDate(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	total, err := store.EntryCount(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := store.ListEntries(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].UpdatedDate > entries[j].UpdatedDate })
	if len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	result := map[string]interface{}{
		"site_key":      siteKey,
		"global_max":    formatMillis(globalMax),
		"total_records": total,
		"records":       entriesJSON(entries),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleDiscoverSitemaps handles the discover_sitemaps tool
func (s *Server) handleDiscoverSitemaps(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	siteURL := request.GetString("url", "")
	if siteURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	sitemaps, err := s.robots.DiscoverSitemaps(ctx, siteURL)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("discovery failed: %v", err)), nil
	}

	result := map[string]interface{}{
		"url":      siteURL,
		"sitemaps": sitemaps,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// entriesJSON renders entries with a readable lastmod next to the raw millis
func entriesJSON(entries []models.Entry) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]interface{}{
			"site":        e.Site,
			"updatedDate": e.UpdatedDate,
			"lastmod":     formatMillis(e.UpdatedDate),
		})
	}
	return out
}

// formatMillis renders epoch millis as RFC 3339, empty for 0
func formatMillis(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// clamp replaces non-positive values with def and caps at limit
func clamp(v, def, limit int) int {
	if v <= 0 {
		return def
	}
	if v > limit {
		return limit
	}
	return v
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
