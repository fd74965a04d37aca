package run

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-watcher/pkg/crawler"
	"github.com/Sriram-PR/sitemap-watcher/pkg/detect"
	"github.com/Sriram-PR/sitemap-watcher/pkg/fetch/fetchtest"
	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
	"github.com/Sriram-PR/sitemap-watcher/pkg/storage"
	"github.com/Sriram-PR/sitemap-watcher/pkg/utils"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// recorder tracks the order of commit and notify calls
type recorder struct {
	calls []string
}

type fakeStrategy struct {
	name      models.Strategy
	before    bool
	det       *detect.Detection
	detectErr error
	commitErr error
	rec       *recorder
}

func (f *fakeStrategy) Name() models.Strategy      { return f.name }
func (f *fakeStrategy) NotifiesBeforeCommit() bool { return f.before }

func (f *fakeStrategy) Detect(ctx context.Context, root string) (*detect.Detection, error) {
	f.rec.calls = append(f.rec.calls, "detect")
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return f.det, nil
}

func (f *fakeStrategy) Commit(ctx context.Context, det *detect.Detection) error {
	f.rec.calls = append(f.rec.calls, "commit")
	if f.commitErr != nil {
		return f.commitErr
	}
	det.Committed = len(det.Pending)
	return nil
}

type fakeNotifier struct {
	rec      *recorder
	err      error
	received []models.Entry
}

func (n *fakeNotifier) NotifyNewEntries(ctx context.Context, entries []models.Entry) error {
	n.rec.calls = append(n.rec.calls, "notify")
	n.received = append(n.received, entries...)
	return n.err
}

func detection(entries ...models.Entry) *detect.Detection {
	return &detect.Detection{Root: "https://x/root.xml", NewEntries: entries, Pending: entries, EntriesSeen: len(entries)}
}

func TestRun_FullRescanCommitsBeforeNotifying(t *testing.T) {
	rec := &recorder{}
	entries := []models.Entry{{Site: "https://x/a", UpdatedDate: 10}}
	strategy := &fakeStrategy{name: models.StrategyFullRescan, det: detection(entries...), rec: rec}
	notifier := &fakeNotifier{rec: rec}

	result, err := NewController("x", "https://x/root.xml", strategy, notifier, testLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"detect", "commit", "notify"}, rec.calls)
	assert.Equal(t, entries, result.NewEntries)
	assert.Equal(t, entries, notifier.received)
	assert.True(t, result.WatermarkAdvanced)
	assert.False(t, result.NotifyFailed)
	assert.Equal(t, models.StrategyFullRescan, result.Strategy)
}

func TestRun_ShortCircuitNotifiesBeforeCommitting(t *testing.T) {
	rec := &recorder{}
	strategy := &fakeStrategy{name: models.StrategyShortCircuit, before: true, rec: rec,
		det: detection(models.Entry{Site: "https://x/a", UpdatedDate: 10})}

	_, err := NewController("x", "https://x/root.xml", strategy, &fakeNotifier{rec: rec}, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"detect", "notify", "commit"}, rec.calls)
}

func TestRun_NotifyFailureIsNotFatal(t *testing.T) {
	for _, before := range []bool{false, true} {
		rec := &recorder{}
		strategy := &fakeStrategy{name: models.StrategyFullRescan, before: before, rec: rec,
			det: detection(models.Entry{Site: "https://x/a", UpdatedDate: 10})}
		notifier := &fakeNotifier{rec: rec, err: &utils.NotifyError{Notifier: "telegram", Err: errors.New("status 500")}}

		result, err := NewController("x", "https://x/root.xml", strategy, notifier, testLogger()).Run(context.Background())
		require.NoError(t, err)
		assert.True(t, result.NotifyFailed)
		assert.True(t, result.WatermarkAdvanced, "watermark must still advance")
		assert.Contains(t, rec.calls, "commit")
		assert.Len(t, result.NewEntries, 1)
	}
}

func TestRun_NoNewEntriesSkipsNotifier(t *testing.T) {
	rec := &recorder{}
	strategy := &fakeStrategy{name: models.StrategyFullRescan, det: detection(), rec: rec}

	result, err := NewController("x", "https://x/root.xml", strategy, &fakeNotifier{rec: rec}, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"detect", "commit"}, rec.calls)
	assert.False(t, result.WatermarkAdvanced)
	assert.Empty(t, result.NewEntries)
}

func TestRun_NilNotifier(t *testing.T) {
	rec := &recorder{}
	strategy := &fakeStrategy{name: models.StrategyFullRescan, det: detection(models.Entry{Site: "https://x/a"}), rec: rec}

	result, err := NewController("x", "https://x/root.xml", strategy, nil, testLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.NotifyFailed)
}

func TestRun_DetectErrorExposesNothing(t *testing.T) {
	rec := &recorder{}
	crawlErr := &utils.CrawlError{URL: "https://x/b.xml", Err: errors.New("boom")}
	strategy := &fakeStrategy{name: models.StrategyFullRescan, detectErr: crawlErr, rec: rec}

	result, err := NewController("x", "https://x/root.xml", strategy, &fakeNotifier{rec: rec}, testLogger()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrCrawl)
	assert.Nil(t, result.NewEntries)
	assert.Equal(t, []string{"detect"}, rec.calls)
}

func TestRun_CommitErrorExposesNothing(t *testing.T) {
	rec := &recorder{}
	storeErr := &utils.StoreError{Op: "Put", Err: errors.New("disk full")}
	strategy := &fakeStrategy{name: models.StrategyFullRescan, det: detection(models.Entry{Site: "https://x/a"}),
		commitErr: storeErr, rec: rec}

	result, err := NewController("x", "https://x/root.xml", strategy, &fakeNotifier{rec: rec}, testLogger()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrDatabase)
	assert.Nil(t, result.NewEntries)
	assert.Equal(t, []string{"detect", "commit"}, rec.calls, "full rescan must not notify when persisting fails")
}

// End to end over a real crawler and Badger store
func TestRun_Integration(t *testing.T) {
	const root = "https://example.com/sitemap.xml"
	src := fetchtest.NewSource().
		Set(root, fetchtest.URLSet(
			fetchtest.Loc{URL: "https://example.com/a", LastMod: fetchtest.Millis(100)},
			fetchtest.Loc{URL: "https://example.com/b", LastMod: fetchtest.Millis(200)},
		))

	for _, name := range []models.Strategy{models.StrategyFullRescan, models.StrategyShortCircuit} {
		t.Run(name.String(), func(t *testing.T) {
			store, err := storage.NewBadgerStore(t.TempDir(), "example", testLogger())
			require.NoError(t, err)
			defer store.Close()

			strategy, err := detect.New(name, crawler.New(src, crawler.Options{}, testLogger()), store, models.OrderingCheckWarn, testLogger())
			require.NoError(t, err)
			rec := &recorder{}
			notifier := &fakeNotifier{rec: rec}
			ctrl := NewController("example", root, strategy, notifier, testLogger())

			first, err := ctrl.Run(context.Background())
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"https://example.com/a", "https://example.com/b"}, sites(first.NewEntries))

			second, err := ctrl.Run(context.Background())
			require.NoError(t, err)
			assert.Empty(t, second.NewEntries, "second run over unchanged tree reports nothing")
			assert.Len(t, notifier.received, 2)
		})
	}
}

func sites(entries []models.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Site)
	}
	return out
}
