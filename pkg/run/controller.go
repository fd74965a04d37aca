package run

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/detect"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/notify"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

// Controller executes one change-detection run for a single site
type Controller struct {
	siteKey  string
	root     string
	strategy detect.Strategy
	notifier notify.Notifier
	log      *logrus.Entry
}

// NewController creates a Controller. A nil notifier disables delivery.
func NewController(siteKey, root string, strategy detect.Strategy, notifier notify.Notifier, log *logrus.Entry) *Controller {
	return &Controller{
		siteKey:  siteKey,
		root:     root,
		strategy: strategy,
		notifier: notifier,
		log:      log.WithFields(logrus.Fields{"site": siteKey, "strategy": strategy.Name().String()}),
	}
}

// Run detects new entries then persists and notifies in the strategy's order.
// Full rescan persists first so a lost notification never loses the watermark;
// short-circuit notifies first, so a crash before persisting repeats the notification next run.
// Notification failures are logged and flagged on the result but never fail the run.
func (c *Controller) Run(ctx context.Context) (models.RunResult, error) {
	result := models.RunResult{
		SiteKey:   c.siteKey,
		RootURL:   c.root,
		Strategy:  c.strategy.Name(),
		StartedAt: time.Now(),
	}
	c.log.WithField("root", c.root).Info("Run starting")

	det, err := c.strategy.Detect(ctx, c.root)
	if err != nil {
		return c.fail(result, err)
	}
	result.EntriesSeen = det.EntriesSeen
	result.ShortCircuited = det.ShortCircuited
	result.OrderingAnomaly = det.OrderingAnomaly

	if c.strategy.NotifiesBeforeCommit() {
		result.NotifyFailed = !c.notify(ctx, det.NewEntries)
		if err := c.strategy.Commit(ctx, det); err != nil {
			return c.fail(result, err)
		}
	} else {
		if err := c.strategy.Commit(ctx, det); err != nil {
			return c.fail(result, err)
		}
		result.NotifyFailed = !c.notify(ctx, det.NewEntries)
	}

	result.NewEntries = det.NewEntries
	result.WatermarkAdvanced = det.Committed > 0
	result.Duration = time.Since(result.StartedAt)

	c.log.WithFields(logrus.Fields{
		"new_entries":     len(result.NewEntries),
		"entries_seen":    result.EntriesSeen,
		"short_circuited": result.ShortCircuited,
		"watermark":       result.WatermarkAdvanced,
		"notify_failed":   result.NotifyFailed,
		"duration":        result.Duration.Round(time.Millisecond),
	}).Infof("Run succeeded: %d new entries", len(result.NewEntries))
	return result, nil
}

// notify reports whether delivery succeeded
func (c *Controller) notify(ctx context.Context, entries []models.Entry) bool {
	if c.notifier == nil || len(entries) == 0 {
		return true
	}
	err := c.notifier.NotifyNewEntries(ctx, entries)
	if err == nil {
		return true
	}
	if !errors.Is(err, utils.ErrNotify) {
		err = &utils.NotifyError{Notifier: "unknown", Err: err}
	}
	c.log.WithField("error_type", utils.CategorizeError(err)).Errorf("Notification failed, continuing: %v", err)
	return false
}

// fail drops any partial entries from the result
func (c *Controller) fail(result models.RunResult, err error) (models.RunResult, error) {
	result.NewEntries = nil
	result.Duration = time.Since(result.StartedAt)
	c.log.WithFields(logrus.Fields{
		"error_type": utils.CategorizeError(err),
		"duration":   result.Duration.Round(time.Millisecond),
	}).Errorf("Run failed: %v", err)
	return result, err
}
