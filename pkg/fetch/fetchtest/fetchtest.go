// Package fetchtest provides an in-memory fetch.Source and sitemap document builders for tests.
package fetchtest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// Source serves registered documents from memory and records every fetch
type Source struct {
	mu       sync.Mutex
	docs     map[string][]byte
	failures map[string]error
	fetches  []string
	Delay    time.Duration // Optional per-fetch delay, honours ctx
}

// NewSource returns an empty Source
func NewSource() *Source {
	return &Source{docs: make(map[string][]byte), failures: make(map[string]error)}
}

// Set registers body for url
func (s *Source) Set(url, body string) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[url] = []byte(body)
	return s
}

// Fail makes fetching url return err
func (s *Source) Fail(url string, err error) *Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[url] = err
	return s
}

// Fetch implements fetch.Source. Unknown URLs fail as a 404 FetchError.
func (s *Source) Fetch(ctx context.Context, url string) ([]byte, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, &utils.FetchError{URL: url, Err: ctx.Err()}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = append(s.fetches, url)
	if err, ok := s.failures[url]; ok {
		return nil, err
	}
	body, ok := s.docs[url]
	if !ok {
		return nil, &utils.FetchError{
			URL:        url,
			StatusCode: http.StatusNotFound,
			Err:        fmt.Errorf("%w: status 404", utils.ErrClientHTTPError),
		}
	}
	return body, nil
}

// Fetches returns the fetched URLs in call order
func (s *Source) Fetches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.fetches...)
}

// Count returns how many fetches were made
func (s *Source) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetches)
}

// Reset forgets recorded fetches
func (s *Source) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches = nil
}

// Loc is one <loc>/<lastmod> pair; an empty LastMod omits the element
type Loc struct {
	URL     string
	LastMod string
}

// Millis formats epoch milliseconds as an RFC 3339 lastmod in UTC
func Millis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}

// URLSet renders a <urlset> document
func URLSet(locs ...Loc) string {
	return render("urlset", "url", locs)
}

// Index renders a <sitemapindex> document
func Index(locs ...Loc) string {
	return render("sitemapindex", "sitemap", locs)
}

func render(root, child string, locs []Loc) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<` + root + ` xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">` + "\n")
	for _, l := range locs {
		b.WriteString("  <" + child + "><loc>" + l.URL + "</loc>")
		if l.LastMod != "" {
			b.WriteString("<lastmod>" + l.LastMod + "</lastmod>")
		}
		b.WriteString("</" + child + ">\n")
	}
	b.WriteString("</" + root + ">\n")
	return b.String()
}
