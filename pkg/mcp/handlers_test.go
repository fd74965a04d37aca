package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-watcher/pkg/config"
	"github.com/Sriram-PR/sitemap-watcher/pkg/fetch/fetchtest"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/storage"
)

type toolHandler func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

const docsRoot = "https://docs.example.com/sitemap.xml"

func newTestServer(t *testing.T) (*Server, *fetchtest.Source) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	stateDir := t.TempDir()
	src := fetchtest.NewSource().
		Set(docsRoot, fetchtest.Index(
			fetchtest.Loc{URL: "https://docs.example.com/pages.xml", LastMod: fetchtest.Millis(300)},
		)).
		Set("https://docs.example.com/pages.xml", fetchtest.URLSet(
			fetchtest.Loc{URL: "https://docs.example.com/a", LastMod: fetchtest.Millis(100)},
			fetchtest.Loc{URL: "https://docs.example.com/b", LastMod: fetchtest.Millis(300)},
		))

	srv, err := NewServer(&ServerConfig{
		AppConfig: &config.AppConfig{
			StateDir:             stateDir,
			MaxConcurrentFetches: 4,
			Sites: map[string]*config.SiteConfig{
				"docs": {RootSitemapURL: docsRoot, Strategy: models.StrategyFullRescan, Interval: "6h"},
			},
		},
		ConfigPath: "config.yaml",
		Transport:  "stdio",
		Logger:     logger,
		Opener:     &storage.BadgerOpener{StateDir: stateDir, Log: logrus.NewEntry(logger)},
		Source:     src,
	})
	require.NoError(t, err)
	return srv, src
}

// callTool invokes handler and decodes its JSON text payload
func callTool(t *testing.T, handler toolHandler, args map[string]interface{}) (map[string]interface{}, *mcp.CallToolResult) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args

	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	if res.IsError {
		return map[string]interface{}{"error": text.Text}, res
	}

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &payload))
	return payload, res
}

func waitForJob(t *testing.T, srv *Server, jobID string) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.Eventually(t, func() bool {
		payload, _ = callTool(t, srv.handleGetJobStatus, map[string]interface{}{"job_id": jobID})
		return payload["status"] != string(JobStatusPending) && payload["status"] != string(JobStatusRunning)
	}, 10*time.Second, 20*time.Millisecond)
	return payload
}

func TestNewServer_RequiresAppConfig(t *testing.T) {
	_, err := NewServer(&ServerConfig{})
	assert.Error(t, err)
}

func TestHandleListSites(t *testing.T) {
	srv, _ := newTestServer(t)

	payload, _ := callTool(t, srv.handleListSites, nil)
	assert.Equal(t, float64(1), payload["total_sites"])
	sites := payload["sites"].([]interface{})
	site := sites[0].(map[string]interface{})
	assert.Equal(t, "docs", site["key"])
	assert.Equal(t, docsRoot, site["root_sitemap_url"])
	assert.Equal(t, "full-rescan", site["strategy"])
	assert.Equal(t, "6h", site["interval"])
	assert.NotContains(t, site, "last_run")
}

func TestHandleCheckSite_Validation(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name    string
		args    map[string]interface{}
		wantErr string
	}{
		{"missing key", map[string]interface{}{}, "site_key parameter is required"},
		{"unknown site", map[string]interface{}{"site_key": "nope"}, "not found"},
		{"bad strategy", map[string]interface{}{"site_key": "docs", "strategy": "sideways"}, "unknown strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, res := callTool(t, srv.handleCheckSite, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, payload["error"], tt.wantErr)
		})
	}
}

func TestHandleCheckSite_RunsAndPersists(t *testing.T) {
	srv, _ := newTestServer(t)

	started, _ := callTool(t, srv.handleCheckSite, map[string]interface{}{"site_key": "docs"})
	assert.Equal(t, "started", started["status"])
	jobID := started["job_id"].(string)
	require.NotEmpty(t, jobID)

	status := waitForJob(t, srv, jobID)
	assert.Equal(t, string(JobStatusCompleted), status["status"])
	assert.Equal(t, float64(2), status["new_count"])
	assert.Equal(t, "full-rescan", status["strategy"])
	assert.Contains(t, status, "completed_at")

	marks, _ := callTool(t, srv.handleListWatermarks, map[string]interface{}{"site_key": "docs"})
	assert.Equal(t, float64(2), marks["total_records"])
	assert.Equal(t, time.UnixMilli(300).UTC().Format(time.RFC3339), marks["global_max"])
	records := marks["records"].([]interface{})
	assert.Equal(t, "https://docs.example.com/b", records[0].(map[string]interface{})["site"], "newest first")

	// A second check over the unchanged tree finds nothing
	again, _ := callTool(t, srv.handleCheckSite, map[string]interface{}{"site_key": "docs"})
	status = waitForJob(t, srv, again["job_id"].(string))
	assert.Equal(t, string(JobStatusCompleted), status["status"])
	assert.Equal(t, float64(0), status["new_count"])
}

func TestHandleCheckSite_StrategyOverride(t *testing.T) {
	srv, src := newTestServer(t)

	started, _ := callTool(t, srv.handleCheckSite, map[string]interface{}{"site_key": "docs", "strategy": "short_circuit"})
	assert.Equal(t, "short-circuit", started["strategy"])
	status := waitForJob(t, srv, started["job_id"].(string))
	assert.Equal(t, string(JobStatusCompleted), status["status"])
	assert.Equal(t, "short-circuit", status["strategy"])

	// An unchanged first branch stops at the root
	src.Reset()
	again, _ := callTool(t, srv.handleCheckSite, map[string]interface{}{"site_key": "docs", "strategy": "short-circuit"})
	status = waitForJob(t, srv, again["job_id"].(string))
	assert.Equal(t, float64(0), status["new_count"])
	assert.Equal(t, []string{docsRoot}, src.Fetches())
}

func TestHandleCheckSite_FailedRun(t *testing.T) {
	srv, src := newTestServer(t)
	src.Fail(docsRoot, fmt.Errorf("connection reset"))

	started, _ := callTool(t, srv.handleCheckSite, map[string]interface{}{"site_key": "docs"})
	status := waitForJob(t, srv, started["job_id"].(string))
	assert.Equal(t, string(JobStatusFailed), status["status"])
	assert.Contains(t, status["error_message"], "connection reset")
}

func TestHandleGetJobStatus_Errors(t *testing.T) {
	srv, _ := newTestServer(t)

	payload, res := callTool(t, srv.handleGetJobStatus, map[string]interface{}{})
	assert.True(t, res.IsError)
	assert.Contains(t, payload["error"], "job_id parameter is required")

	payload, res = callTool(t, srv.handleGetJobStatus, map[string]interface{}{"job_id": "ghost"})
	assert.True(t, res.IsError)
	assert.Contains(t, payload["error"], "not found")
}

func TestHandleCrawlSitemap(t *testing.T) {
	srv, _ := newTestServer(t)

	t.Run("recursive", func(t *testing.T) {
		payload, _ := callTool(t, srv.handleCrawlSitemap, map[string]interface{}{"url": docsRoot})
		assert.Equal(t, float64(2), payload["returned"])
		assert.Equal(t, false, payload["truncated"])
	})

	t.Run("non-recursive returns index leaves only", func(t *testing.T) {
		payload, _ := callTool(t, srv.handleCrawlSitemap, map[string]interface{}{"url": docsRoot, "recursive": false})
		assert.Equal(t, float64(0), payload["returned"])
	})

	t.Run("truncated", func(t *testing.T) {
		payload, _ := callTool(t, srv.handleCrawlSitemap, map[string]interface{}{"url": docsRoot, "max_results": 1})
		assert.Equal(t, float64(1), payload["returned"])
		assert.Equal(t, true, payload["truncated"])
	})

	t.Run("crawl error", func(t *testing.T) {
		payload, res := callTool(t, srv.handleCrawlSitemap, map[string]interface{}{"url": "https://docs.example.com/missing.xml"})
		assert.True(t, res.IsError)
		assert.Contains(t, payload["error"], "missing.xml")
	})

	t.Run("missing url", func(t *testing.T) {
		_, res := callTool(t, srv.handleCrawlSitemap, map[string]interface{}{})
		assert.True(t, res.IsError)
	})
}

func TestHandleListWatermarks_EmptyStore(t *testing.T) {
	srv, _ := newTestServer(t)

	payload, _ := callTool(t, srv.handleListWatermarks, map[string]interface{}{"site_key": "docs"})
	assert.Equal(t, float64(0), payload["total_records"])
	assert.Equal(t, "", payload["global_max"])
}

func TestHandleDiscoverSitemaps(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprintf(w, "User-agent: *\nDisallow:\nSitemap: http://%s/sitemap_index.xml\n", r.Host)
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()

	srv, _ := newTestServer(t)
	payload, _ := callTool(t, srv.handleDiscoverSitemaps, map[string]interface{}{"url": ts.URL + "/docs/"})
	assert.Equal(t, []interface{}{ts.URL + "/sitemap_index.xml"}, payload["sitemaps"])
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 50, clamp(0, 50, 1000))
	assert.Equal(t, 50, clamp(-3, 50, 1000))
	assert.Equal(t, 7, clamp(7, 50, 1000))
	assert.Equal(t, 1000, clamp(5000, 50, 1000))
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "", formatMillis(0))
	assert.Equal(t, "2024-03-01T10:00:00Z", formatMillis(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()))
}
