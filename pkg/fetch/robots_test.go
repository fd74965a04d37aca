package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRobots() *RobotsHandler {
	log := testLogger()
	return NewRobotsHandler(NewFetcher(testClient(), testConfig(0), log), NewRateLimiter(0, log), "sitemap-watcher-test", log)
}

func TestDiscoverSitemaps_FromDirectives(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/robots.txt", r.URL.Path)
		w.Write([]byte("User-agent: *\nDisallow: /private\n\n" +
			"Sitemap: https://example.com/sitemap.xml\n" +
			"Sitemap: https://EXAMPLE.com/news/sitemap.xml#frag\n" +
			"Sitemap: https://example.com/sitemap.xml\n"))
	}))
	t.Cleanup(server.Close)

	rh := newTestRobots()
	sitemaps, err := rh.DiscoverSitemaps(context.Background(), server.URL+"/docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/sitemap.xml", "https://example.com/news/sitemap.xml"}, sitemaps)

	_, err = rh.DiscoverSitemaps(context.Background(), server.URL)
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load(), "robots.txt should be cached per host")
}

func TestDiscoverSitemaps_FallbackWhenMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(server.Close)

	sitemaps, err := newTestRobots().DiscoverSitemaps(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{server.URL + "/sitemap.xml"}, sitemaps)
}

func TestDiscoverSitemaps_InvalidURL(t *testing.T) {
	_, err := newTestRobots().DiscoverSitemaps(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestAllowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	t.Cleanup(server.Close)

	rh := newTestRobots()
	open, _ := url.Parse(server.URL + "/sitemap.xml")
	closed, _ := url.Parse(server.URL + "/private/sitemap.xml")
	assert.True(t, rh.Allowed(context.Background(), open))
	assert.False(t, rh.Allowed(context.Background(), closed))
}
