package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/config"
	"github.com/Sriram-PR/sitemap-watcher/pkg/fetch"
	"github.com/Sriram-PR/sitemap-watcher/pkg/orchestrate"
	"github.com/Sriram-PR/sitemap-watcher/pkg/storage"
)

const (
	serverName    = "sitemap-watcher"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Opener     storage.Opener // Built from AppConfig.Store when nil
	Source     fetch.Source   // Replaces HTTP fetching when set
}

// Server exposes site checks and watermark inspection as MCP tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	orch       *orchestrate.Orchestrator
	robots     *fetch.RobotsHandler
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	log := cfg.Logger.WithField("component", "mcp")

	if cfg.Opener == nil {
		opener, err := storage.NewOpener(cfg.AppConfig, cfg.Logger.WithField("component", "storage"))
		if err != nil {
			return nil, err
		}
		cfg.Opener = opener
	}

	orch := orchestrate.NewOrchestrator(cfg.AppConfig, nil, cfg.Opener, cfg.Logger.WithField("component", "orchestrate"))
	if cfg.Source != nil {
		orch.WithSource(cfg.Source)
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        log,
		jobManager: NewJobManager(),
		orch:       orch,
		robots:     fetch.NewRobotsHandler(orch.Fetcher(), orch.RateLimiter(), cfg.AppConfig.DefaultUserAgent, log.WithField("component", "robots")),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	listSitesTool := mcp.NewTool("list_sites",
		mcp.WithDescription("List all configured sitemap sites with their strategy, schedule and last run"),
	)
	s.mcpServer.AddTool(listSitesTool, s.handleListSites)

	checkSiteTool := mcp.NewTool("check_site",
		mcp.WithDescription("Start a background change-detection run for a configured site. Returns immediately with a job ID."),
		mcp.WithString("site_key",
			mcp.Required(),
			mcp.Description("Site key from config file"),
		),
		mcp.WithString("strategy",
			mcp.Description("Override the site's strategy: full-rescan or short-circuit"),
		),
	)
	s.mcpServer.AddTool(checkSiteTool, s.handleCheckSite)

	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status and new entries of a check job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by check_site"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	crawlSitemapTool := mcp.NewTool("crawl_sitemap",
		mcp.WithDescription("Crawl a sitemap URL and return its leaf entries without touching any watermark"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The sitemap or sitemap index URL"),
		),
		mcp.WithBoolean("recursive",
			mcp.Description("Follow child sitemaps (default: true)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of entries to return (default: 100, max: 1000)"),
		),
	)
	s.mcpServer.AddTool(crawlSitemapTool, s.handleCrawlSitemap)

	listWatermarksTool := mcp.NewTool("list_watermarks",
		mcp.WithDescription("List the persisted watermark records of a site, newest first"),
		mcp.WithString("site_key",
			mcp.Required(),
			mcp.Description("Site key from config file"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of records to return (default: 50, max: 1000)"),
		),
	)
	s.mcpServer.AddTool(listWatermarksTool, s.handleListWatermarks)

	discoverTool := mcp.NewTool("discover_sitemaps",
		mcp.WithDescription("List the sitemap URLs a site advertises in robots.txt"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Any URL on the site"),
		),
	)
	s.mcpServer.AddTool(discoverTool, s.handleDiscoverSitemaps)

	s.log.Infof("Registered %d MCP tools", 6)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and releases the store backend
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()
	return s.cfg.Opener.Close()
}
