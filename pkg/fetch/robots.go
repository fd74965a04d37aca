package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/Sriram-PR/sitemap-watcher/pkg/parse"
)

// RobotsHandler fetches, parses and caches robots.txt per host
type RobotsHandler struct {
	fetcher     *Fetcher
	rateLimiter *RateLimiter
	userAgent   string
	cache       map[string]*robotstxt.RobotsData // host -> parsed data, nil when unavailable
	cacheMu     sync.Mutex
	log         *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher *Fetcher, rateLimiter *RateLimiter, userAgent string, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:     fetcher,
		rateLimiter: rateLimiter,
		userAgent:   userAgent,
		cache:       make(map[string]*robotstxt.RobotsData),
		log:         log,
	}
}

// RobotsData returns the parsed robots.txt for target's host, or nil if it could not be obtained.
// Failures are cached so each host is requested at most once.
func (rh *RobotsHandler) RobotsData(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host
	rh.cacheMu.Lock()
	data, found := rh.cache[host]
	rh.cacheMu.Unlock()
	if found {
		return data
	}

	data, err := rh.fetchRobots(ctx, target)
	hostLog := rh.log.WithField("host", host)
	if err != nil {
		hostLog.Warnf("robots.txt unavailable: %v", err)
	} else {
		hostLog.Debugf("Parsed robots.txt with %d sitemap directive(s)", len(data.Sitemaps))
	}

	rh.cacheMu.Lock()
	rh.cache[host] = data
	rh.cacheMu.Unlock()
	return data
}

func (rh *RobotsHandler) fetchRobots(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	scheme := target.Scheme
	if scheme != "http" && scheme != "https" {
		scheme = "https"
	}
	robotsURL := (&url.URL{Scheme: scheme, Host: target.Host, Path: "/robots.txt"}).String()

	if rh.rateLimiter != nil {
		rh.rateLimiter.ApplyDelay(ctx, target.Hostname(), 0)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, err
	}
	if rh.userAgent != "" {
		req.Header.Set("User-Agent", rh.userAgent)
	}

	resp, err := rh.fetcher.FetchWithRetry(ctx, req)
	if rh.rateLimiter != nil {
		rh.rateLimiter.UpdateLastRequestTime(target.Hostname())
	}
	if err != nil {
		drainAndClose(resp)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	return robotstxt.FromBytes(body)
}

// DiscoverSitemaps lists the canonical sitemap URLs declared in siteURL's robots.txt.
// With no Sitemap directive it falls back to /sitemap.xml on the same host.
func (rh *RobotsHandler) DiscoverSitemaps(ctx context.Context, siteURL string) ([]string, error) {
	_, target, err := parse.ParseAndNormalize(siteURL)
	if err != nil {
		return nil, err
	}
	if target.Host == "" {
		return nil, fmt.Errorf("site URL %q has no host", siteURL)
	}

	data := rh.RobotsData(ctx, target)
	seen := make(map[string]bool)
	var sitemaps []string
	if data != nil {
		for _, raw := range data.Sitemaps {
			loc := parse.CanonicalLocation(raw)
			if loc == "" || seen[loc] {
				continue
			}
			seen[loc] = true
			sitemaps = append(sitemaps, loc)
		}
	}
	if len(sitemaps) == 0 {
		scheme := target.Scheme
		if scheme == "" {
			scheme = "https"
		}
		sitemaps = append(sitemaps, (&url.URL{Scheme: scheme, Host: target.Host, Path: "/sitemap.xml"}).String())
	}
	return sitemaps, nil
}

// Allowed reports whether userAgent may fetch target. Missing robots data allows everything.
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL) bool {
	data := rh.RobotsData(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rh.userAgent)
}
