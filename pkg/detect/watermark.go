package detect

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/storage"
)

// Watermark yields the last-seen signal for a scope and records accepted entries
type Watermark interface {
	// LastSeen returns the high-water mark for scope, 0 when nothing is recorded
	LastSeen(ctx context.Context, scope string) (int64, error)

	// Advance persists entries and returns how many records were written
	Advance(ctx context.Context, entries ...models.Entry) (int, error)
}

// GlobalWatermark is one max across every stored entry. The scope is ignored.
type GlobalWatermark struct {
	store storage.StateStore
}

// NewGlobalWatermark wraps store
func NewGlobalWatermark(store storage.StateStore) *GlobalWatermark {
	return &GlobalWatermark{store: store}
}

func (w *GlobalWatermark) LastSeen(ctx context.Context, _ string) (int64, error) {
	return w.store.GetGlobalMaxUpdatedDate(ctx)
}

func (w *GlobalWatermark) Advance(ctx context.Context, entries ...models.Entry) (int, error) {
	written := 0
	for _, e := range entries {
		if err := w.store.Put(ctx, e); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// SiteWatermark keeps one record per scope, the scope being the entry's site
type SiteWatermark struct {
	store storage.StateStore
	log   *logrus.Entry
}

// NewSiteWatermark wraps store
func NewSiteWatermark(store storage.StateStore, log *logrus.Entry) *SiteWatermark {
	return &SiteWatermark{store: store, log: log}
}

func (w *SiteWatermark) LastSeen(ctx context.Context, scope string) (int64, error) {
	entry, found, err := w.store.GetBySite(ctx, scope)
	if err != nil || !found {
		return 0, err
	}
	return entry.UpdatedDate, nil
}

// Advance replaces each record unless that would move it backwards.
// A failed read is treated as no prior record.
func (w *SiteWatermark) Advance(ctx context.Context, entries ...models.Entry) (int, error) {
	written := 0
	for _, e := range entries {
		stored, found, err := w.store.GetBySite(ctx, e.Site)
		if err != nil {
			w.log.WithField("site", e.Site).Warnf("Reading watermark before write failed, writing anyway: %v", err)
		} else if found && stored.UpdatedDate > e.UpdatedDate {
			w.log.WithFields(logrus.Fields{
				"site": e.Site, "stored": stored.UpdatedDate, "candidate": e.UpdatedDate,
			}).Warn("Refusing to move watermark backwards")
			continue
		}
		if err := w.store.Put(ctx, e); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
