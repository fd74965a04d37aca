package mcp

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
)

func newCheck(t *testing.T, jm *JobManager, siteKey string) *Job {
	t.Helper()
	job, created := jm.CreateJob(siteKey, models.StrategyUnset)
	require.True(t, created, "expected a new job for %s", siteKey)
	return job
}

func TestJobStatus_IsActive(t *testing.T) {
	active := map[JobStatus]bool{
		JobStatusPending:   true,
		JobStatusRunning:   true,
		JobStatusCompleted: false,
		JobStatusFailed:    false,
		JobStatusCancelled: false,
	}
	for status, want := range active {
		assert.Equal(t, want, status.IsActive(), string(status))
	}
}

func TestCreateJob_NewCheck(t *testing.T) {
	jm := NewJobManager()
	assert.Empty(t, jm.ListJobs())

	job, created := jm.CreateJob("news", models.StrategyShortCircuit)

	require.True(t, created)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "news", job.SiteKey)
	assert.Equal(t, models.StrategyShortCircuit, job.Strategy)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.False(t, job.StartedAt.IsZero())
	assert.True(t, job.CompletedAt.IsZero())
	assert.Empty(t, job.NewEntries)
}

func TestCreateJob_OneActiveCheckPerSite(t *testing.T) {
	jm := NewJobManager()
	first := newCheck(t, jm, "news")

	again, created := jm.CreateJob("news", models.StrategyFullRescan)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, models.StrategyUnset, again.Strategy, "the active job keeps its own strategy")

	other := newCheck(t, jm, "blog")
	assert.NotEqual(t, first.ID, other.ID)

	jm.UpdateStatus(first.ID, JobStatusCompleted, "")
	next := newCheck(t, jm, "news")
	assert.NotEqual(t, first.ID, next.ID)
}

func TestCreateJob_ConcurrentCallersShareJob(t *testing.T) {
	jm := NewJobManager()
	ids := make(chan string, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, _ := jm.CreateJob("news", models.StrategyUnset)
			ids <- job.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.Len(t, jm.ListJobs(), 1)
}

func TestJobLifecycle(t *testing.T) {
	tests := []struct {
		name        string
		advance     func(jm *JobManager, id string)
		wantStatus  JobStatus
		wantRunning bool
		wantError   string
	}{
		{
			name:        "pending",
			advance:     func(*JobManager, string) {},
			wantStatus:  JobStatusPending,
			wantRunning: true,
		},
		{
			name:        "running",
			advance:     func(jm *JobManager, id string) { jm.UpdateStatus(id, JobStatusRunning, "") },
			wantStatus:  JobStatusRunning,
			wantRunning: true,
		},
		{
			name: "completed",
			advance: func(jm *JobManager, id string) {
				jm.UpdateStatus(id, JobStatusRunning, "")
				jm.UpdateStatus(id, JobStatusCompleted, "")
			},
			wantStatus: JobStatusCompleted,
		},
		{
			name:       "failed",
			advance:    func(jm *JobManager, id string) { jm.UpdateStatus(id, JobStatusFailed, "fetch sitemap: 503") },
			wantStatus: JobStatusFailed,
			wantError:  "fetch sitemap: 503",
		},
		{
			name: "cancel is terminal",
			advance: func(jm *JobManager, id string) {
				jm.CancelJob(id)
				jm.UpdateStatus(id, JobStatusCompleted, "")
			},
			wantStatus: JobStatusCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager()
			job := newCheck(t, jm, "news")
			tt.advance(jm, job.ID)

			got := jm.GetJob(job.ID)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantRunning, jm.IsRunning("news"))
			assert.Equal(t, tt.wantError, got.ErrorMessage)
			assert.Equal(t, !tt.wantRunning, !got.CompletedAt.IsZero())
			if tt.wantRunning {
				assert.Equal(t, job.ID, jm.GetJobBySite("news").ID)
			} else {
				assert.Nil(t, jm.GetJobBySite("news"))
			}
		})
	}
}

func TestJobManager_UnknownIDs(t *testing.T) {
	jm := NewJobManager()

	assert.Nil(t, jm.GetJob("missing"))
	assert.Nil(t, jm.GetJobBySite("missing"))
	assert.False(t, jm.IsRunning("missing"))
	assert.False(t, jm.CancelJob("missing"))
	assert.Equal(t, context.Background(), jm.GetContext("missing"))
	assert.NotPanics(t, func() {
		jm.UpdateStatus("missing", JobStatusRunning, "")
		jm.SetResult("missing", models.RunResult{EntriesSeen: 1})
	})
}

func TestSetResult(t *testing.T) {
	jm := NewJobManager()
	job := newCheck(t, jm, "news")
	entries := []models.Entry{{Site: "https://example.com/a", UpdatedDate: 10}}

	jm.SetResult(job.ID, models.RunResult{
		Strategy:     models.StrategyFullRescan,
		EntriesSeen:  42,
		NewEntries:   entries,
		NotifyFailed: true,
	})

	got := jm.GetJob(job.ID)
	assert.Equal(t, 42, got.EntriesSeen)
	assert.Equal(t, entries, got.NewEntries)
	assert.True(t, got.NotifyFailed)
	assert.Equal(t, models.StrategyFullRescan, got.Strategy)

	entries[0].Site = "mutated"
	got.NewEntries[0].UpdatedDate = 99
	stored := jm.GetJob(job.ID).NewEntries[0]
	assert.Equal(t, "https://example.com/a", stored.Site)
	assert.Equal(t, int64(10), stored.UpdatedDate)
}

func TestCancelJob(t *testing.T) {
	jm := NewJobManager()
	job := newCheck(t, jm, "news")
	ctx := jm.GetContext(job.ID)
	require.NoError(t, ctx.Err())

	assert.True(t, jm.CancelJob(job.ID))
	assert.Error(t, ctx.Err())
	assert.False(t, jm.CancelJob(job.ID), "already cancelled")

	done := newCheck(t, jm, "blog")
	jm.UpdateStatus(done.ID, JobStatusCompleted, "")
	assert.False(t, jm.CancelJob(done.ID))
}

func TestCancelAll(t *testing.T) {
	jm := NewJobManager()
	a := newCheck(t, jm, "site-a")
	b := newCheck(t, jm, "site-b")
	c := newCheck(t, jm, "site-c")
	jm.UpdateStatus(b.ID, JobStatusRunning, "")
	jm.UpdateStatus(c.ID, JobStatusCompleted, "")

	jm.CancelAll()

	assert.Equal(t, JobStatusCancelled, jm.GetJob(a.ID).Status)
	assert.Equal(t, JobStatusCancelled, jm.GetJob(b.ID).Status)
	assert.Equal(t, JobStatusCompleted, jm.GetJob(c.ID).Status)

	ids := make([]string, 0, 3)
	for _, j := range jm.ListJobs() {
		ids = append(ids, j.ID)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, ids)

	again := newCheck(t, jm, "site-a")
	assert.NotEqual(t, a.ID, again.ID)
}
