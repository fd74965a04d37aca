package crawler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/sitemap-watcher/pkg/fetch"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/parse"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// DefaultMaxConcurrentFetches caps in-flight document fetches when Options leaves it unset
const DefaultMaxConcurrentFetches = 16

// Options configures a Crawler
type Options struct {
	MaxConcurrentFetches int // In-flight fetches across the whole tree
	MaxDepth             int // Levels of child sitemaps below the root; 0 means unbounded
}

// Crawler expands a sitemap tree into its leaf entries
type Crawler struct {
	source   fetch.Source
	sem      *semaphore.Weighted
	maxDepth int
	log      *logrus.Entry
}

// New creates a Crawler reading documents from source
func New(source fetch.Source, opts Options, log *logrus.Entry) *Crawler {
	limit := opts.MaxConcurrentFetches
	if limit <= 0 {
		limit = DefaultMaxConcurrentFetches
	}
	return &Crawler{
		source:   source,
		sem:      semaphore.NewWeighted(int64(limit)),
		maxDepth: opts.MaxDepth,
		log:      log,
	}
}

// crawlState is shared by every branch of one Crawl call
type crawlState struct {
	mu      sync.Mutex
	visited map[string]bool
	fetched atomic.Int32
	skipped atomic.Int32
}

// markVisited reports whether loc is seen for the first time
func (s *crawlState) markVisited(loc string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.visited[loc] {
		return false
	}
	s.visited[loc] = true
	return true
}

// Nodes fetches and decodes one document, returning every node including child sitemap pointers
func (c *Crawler) Nodes(ctx context.Context, docURL string) ([]models.Node, error) {
	return c.document(ctx, docURL, nil)
}

// Crawl returns the leaf entries reachable from root.
// Non-recursive crawls ignore child sitemap pointers. Recursive crawls expand siblings concurrently and
// list each level's leaves before those of its children. Any failure aborts the whole crawl with a
// *utils.CrawlError naming the failing document; partial results are never returned.
func (c *Crawler) Crawl(ctx context.Context, root string, recursive bool) ([]models.Entry, error) {
	start := time.Now()
	state := &crawlState{visited: make(map[string]bool)}
	state.markVisited(parse.CanonicalLocation(root))

	crawlLog := c.log.WithFields(logrus.Fields{"root": root, "recursive": recursive})
	entries, err := c.expand(ctx, root, 0, recursive, state)
	if err != nil {
		crawlLog.WithField("error_type", utils.CategorizeError(err)).Errorf("Crawl failed: %v", err)
		return nil, err
	}

	entries = dedupeLastWins(entries)
	crawlLog.WithFields(logrus.Fields{
		"entries":   len(entries),
		"documents": state.fetched.Load(),
		"skipped":   state.skipped.Load(),
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("Crawl finished")
	return entries, nil
}

func (c *Crawler) expand(ctx context.Context, docURL string, depth int, recursive bool, state *crawlState) ([]models.Entry, error) {
	nodes, err := c.document(ctx, docURL, state)
	if err != nil {
		return nil, err
	}
	return c.expandNodes(ctx, docURL, nodes, depth, recursive, state)
}

func (c *Crawler) expandNodes(ctx context.Context, docURL string, nodes []models.Node, depth int, recursive bool, state *crawlState) ([]models.Entry, error) {
	var leaves []models.Entry
	var children []string
	for _, n := range nodes {
		if n.IsChildSitemap() {
			children = append(children, n.Location)
			continue
		}
		leaves = append(leaves, n.Entry())
	}
	if !recursive || len(children) == 0 {
		return leaves, nil
	}

	if c.maxDepth > 0 && depth+1 > c.maxDepth {
		return nil, &utils.CrawlError{
			URL: children[0],
			Err: fmt.Errorf("%w: %d levels below the root", utils.ErrMaxDepth, depth+1),
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]models.Entry, len(children))
	for i, child := range children {
		if !state.markVisited(child) {
			state.skipped.Add(1)
			c.log.WithFields(logrus.Fields{"sitemap": child, "parent": docURL}).Warn("Sitemap already visited in this crawl, skipping")
			continue
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					c.log.WithFields(logrus.Fields{
						"sitemap_url": child,
						"panic_info":  r,
						"stack_trace": string(debug.Stack()),
					}).Error("PANIC Recovered while crawling child sitemap")
					err = &utils.CrawlError{URL: child, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			entries, err := c.expand(gctx, child, depth+1, true, state)
			if err != nil {
				return err
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, r := range results {
		leaves = append(leaves, r...)
	}
	return leaves, nil
}

// document fetches and decodes docURL holding a fetch slot only for the transfer
func (c *Crawler) document(ctx context.Context, docURL string, state *crawlState) ([]models.Node, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, &utils.CrawlError{URL: docURL, Err: err}
	}
	body, err := c.source.Fetch(ctx, docURL)
	c.sem.Release(1)
	if state != nil {
		state.fetched.Add(1)
	}
	if err != nil {
		return nil, &utils.CrawlError{URL: docURL, Err: err}
	}

	nodes, err := parse.Decode(body)
	if err != nil {
		return nil, &utils.CrawlError{URL: docURL, Err: err}
	}
	c.log.WithFields(logrus.Fields{"url": docURL, "nodes": len(nodes)}).Debug("Decoded sitemap document")
	return nodes, nil
}

// dedupeLastWins keeps one entry per site: the last value seen, at the first position seen
func dedupeLastWins(entries []models.Entry) []models.Entry {
	if len(entries) < 2 {
		return entries
	}
	index := make(map[string]int, len(entries))
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if i, ok := index[e.Site]; ok {
			out[i] = e
			continue
		}
		index[e.Site] = len(out)
		out = append(out, e)
	}
	return out
}
