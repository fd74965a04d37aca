package detect

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/storage"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// TreeCrawler is the part of crawler.Crawler the strategies need
type TreeCrawler interface {
	Crawl(ctx context.Context, root string, recursive bool) ([]models.Entry, error)
	Nodes(ctx context.Context, docURL string) ([]models.Node, error)
}

// Detection is the outcome of Strategy.Detect, handed back to Strategy.Commit
type Detection struct {
	Root            string
	NewEntries      []models.Entry
	EntriesSeen     int
	ShortCircuited  bool
	OrderingAnomaly bool
	LastSeen        int64          // Watermark the new entries were compared against
	Pending         []models.Entry // Records Commit will write
	Committed       int            // Records actually written by Commit
}

// Strategy decides which entries are new and how the watermark moves
type Strategy interface {
	Name() models.Strategy
	Detect(ctx context.Context, root string) (*Detection, error)
	Commit(ctx context.Context, det *Detection) error
	// NotifiesBeforeCommit reports whether subscribers hear about entries before they are persisted
	NotifiesBeforeCommit() bool
}

// New builds the Strategy named by name
func New(name models.Strategy, crawler TreeCrawler, store storage.StateStore, ordering models.OrderingCheck, log *logrus.Entry) (Strategy, error) {
	switch name {
	case models.StrategyFullRescan, models.StrategyUnset:
		return NewFullRescan(crawler, NewGlobalWatermark(store), log), nil
	case models.StrategyShortCircuit:
		return NewShortCircuit(crawler, NewSiteWatermark(store, log), ordering, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", utils.ErrConfigValidation, name)
	}
}

// FullRescan crawls the whole tree and compares every leaf with the global watermark
type FullRescan struct {
	crawler   TreeCrawler
	watermark Watermark
	log       *logrus.Entry
}

// NewFullRescan creates the full-rescan strategy
func NewFullRescan(crawler TreeCrawler, watermark Watermark, log *logrus.Entry) *FullRescan {
	return &FullRescan{crawler: crawler, watermark: watermark, log: log}
}

func (s *FullRescan) Name() models.Strategy      { return models.StrategyFullRescan }
func (s *FullRescan) NotifiesBeforeCommit() bool { return false }

// Detect fails on a watermark read error since "new" cannot be decided without it
func (s *FullRescan) Detect(ctx context.Context, root string) (*Detection, error) {
	entries, err := s.crawler.Crawl(ctx, root, true)
	if err != nil {
		return nil, err
	}
	lastSeen, err := s.watermark.LastSeen(ctx, root)
	if err != nil {
		return nil, err
	}

	fresh := SelectNew(entries, lastSeen)
	s.log.WithFields(logrus.Fields{
		"entries": len(entries), "watermark": lastSeen, "new": len(fresh),
	}).Debug("Full rescan compared")
	return &Detection{
		Root:        root,
		NewEntries:  fresh,
		EntriesSeen: len(entries),
		LastSeen:    lastSeen,
		Pending:     fresh,
	}, nil
}

func (s *FullRescan) Commit(ctx context.Context, det *Detection) error {
	n, err := s.watermark.Advance(ctx, det.Pending...)
	det.Committed = n
	return err
}

// ShortCircuit trusts the root to list its most recent branch first and
// only descends into that branch when its lastmod beats the stored watermark
type ShortCircuit struct {
	crawler   TreeCrawler
	watermark Watermark
	ordering  models.OrderingCheck
	log       *logrus.Entry
}

// NewShortCircuit creates the short-circuit strategy
func NewShortCircuit(crawler TreeCrawler, watermark Watermark, ordering models.OrderingCheck, log *logrus.Entry) *ShortCircuit {
	if ordering == models.OrderingCheckUnset {
		ordering = models.OrderingCheckWarn
	}
	return &ShortCircuit{crawler: crawler, watermark: watermark, ordering: ordering, log: log}
}

func (s *ShortCircuit) Name() models.Strategy      { return models.StrategyShortCircuit }
func (s *ShortCircuit) NotifiesBeforeCommit() bool { return true }

func (s *ShortCircuit) Detect(ctx context.Context, root string) (*Detection, error) {
	nodes, err := s.crawler.Nodes(ctx, root)
	if err != nil {
		return nil, err
	}
	det := &Detection{Root: root}
	if len(nodes) == 0 {
		s.log.WithField("root", root).Info("Root sitemap lists no nodes")
		return det, nil
	}

	first := nodes[0]
	if newer, ok := newerThanFirst(nodes); ok {
		det.OrderingAnomaly = true
		anomalyLog := s.log.WithFields(logrus.Fields{
			"first": first.Location, "first_lastmod": first.LastModified,
			"newer": newer.Location, "newer_lastmod": newer.LastModified,
		})
		switch s.ordering {
		case models.OrderingCheckWarn:
			anomalyLog.Warn("Root sitemap is not ordered by recency; changes outside the first branch will be missed")
		case models.OrderingCheckFallback:
			anomalyLog.Warn("Root sitemap is not ordered by recency; checking every top-level branch")
			return s.detectAll(ctx, det, nodes)
		}
	}

	br, err := s.evaluate(ctx, first, nodes)
	if err != nil {
		return nil, err
	}
	det.LastSeen = br.lastKnown
	det.NewEntries = br.fresh
	det.EntriesSeen = br.seen
	det.ShortCircuited = !br.changed
	if br.changed {
		det.Pending = []models.Entry{first.Entry()}
	}
	return det, nil
}

type branchResult struct {
	lastKnown int64
	fresh     []models.Entry
	seen      int
	changed   bool // false when the short-circuit applied and nothing was fetched
}

// evaluate checks one top-level node against its own watermark
func (s *ShortCircuit) evaluate(ctx context.Context, node models.Node, siblings []models.Node) (branchResult, error) {
	br := branchResult{lastKnown: s.lastSeen(ctx, node.Location)}
	nodeLog := s.log.WithFields(logrus.Fields{"branch": node.Location, "lastmod": node.LastModified, "watermark": br.lastKnown})
	if node.LastModified <= br.lastKnown {
		nodeLog.Debug("Branch unchanged, short-circuiting")
		return br, nil
	}

	var branch []models.Entry
	if node.IsChildSitemap() {
		var err error
		branch, err = s.crawler.Crawl(ctx, node.Location, true)
		if err != nil {
			return br, err
		}
	} else {
		// A leaf first node means the root is a plain urlset; its own leaves are the branch
		for _, n := range siblings {
			if !n.IsChildSitemap() {
				branch = append(branch, n.Entry())
			}
		}
	}

	br.fresh = SelectNew(branch, br.lastKnown)
	br.seen = len(branch)
	br.changed = true
	nodeLog.WithFields(logrus.Fields{"entries": len(branch), "new": len(br.fresh)}).Debug("Branch changed")
	return br, nil
}

// detectAll treats every top-level node as a branch with its own watermark.
// Branches are independent subtrees and are evaluated concurrently; results keep document order.
func (s *ShortCircuit) detectAll(ctx context.Context, det *Detection, nodes []models.Node) (*Detection, error) {
	var branches []models.Node
	seenLoc := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seenLoc[n.Location] {
			continue
		}
		seenLoc[n.Location] = true
		branches = append(branches, n)
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([]branchResult, len(branches))
	for i, n := range branches {
		g.Go(func() error {
			br, err := s.evaluate(gctx, n, []models.Node{n})
			if err != nil {
				return err
			}
			results[i] = br
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fresh []models.Entry
	for i, br := range results {
		det.EntriesSeen += br.seen
		if br.changed {
			fresh = append(fresh, br.fresh...)
			det.Pending = append(det.Pending, branches[i].Entry())
		}
	}
	det.NewEntries = uniqueBySite(fresh)
	det.ShortCircuited = len(det.Pending) == 0
	return det, nil
}

// lastSeen reads the per-branch watermark, treating a read failure as no prior state
func (s *ShortCircuit) lastSeen(ctx context.Context, scope string) int64 {
	v, err := s.watermark.LastSeen(ctx, scope)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"scope": scope, "error_type": utils.CategorizeError(err),
		}).Warnf("Watermark read failed, treating as no prior state: %v", err)
		return 0
	}
	return v
}

func (s *ShortCircuit) Commit(ctx context.Context, det *Detection) error {
	n, err := s.watermark.Advance(ctx, det.Pending...)
	det.Committed = n
	return err
}

// newerThanFirst returns the first later node whose lastmod beats nodes[0]
func newerThanFirst(nodes []models.Node) (models.Node, bool) {
	for _, n := range nodes[1:] {
		if n.LastModified > nodes[0].LastModified {
			return n, true
		}
	}
	return models.Node{}, false
}

func uniqueBySite(entries []models.Entry) []models.Entry {
	index := make(map[string]int, len(entries))
	var out []models.Entry
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
