package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
)

// JobStatus represents the current state of a check job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsActive reports whether the job has not reached a terminal status
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background change-detection run for one site
type Job struct {
	ID           string          `json:"id"`
	SiteKey      string          `json:"site_key"`
	Strategy     models.Strategy `json:"strategy,omitempty"` // Empty means the site's configured strategy
	Status       JobStatus       `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  time.Time       `json:"completed_at,omitempty"`
	EntriesSeen  int             `json:"entries_seen"`
	NewEntries   []models.Entry  `json:"new_entries,omitempty"`
	NotifyFailed bool            `json:"notify_failed,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
}

// JobManager manages background check jobs
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	bysite map[string]string // siteKey -> jobID for running jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:   make(map[string]*Job),
		bysite: make(map[string]string),
	}
}

// CreateJob creates a new job for a site. While one is active for the site it
// is returned instead, with created=false.
func (m *JobManager) CreateJob(siteKey string, strategy models.Strategy) (job *Job, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existingJobID, exists := m.bysite[siteKey]; exists {
		existingJob := m.jobs[existingJobID]
		if existingJob != nil && existingJob.Status.IsActive() {
			return existingJob.snapshot(), false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:        uuid.New().String(),
		SiteKey:   siteKey,
		Strategy:  strategy,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}

	m.jobs[job.ID] = job
	m.bysite[siteKey] = job.ID

	return job.snapshot(), true
}

// snapshot copies the job so callers never share its mutable fields
func (j *Job) snapshot() *Job {
	cp := *j
	cp.NewEntries = append([]models.Entry(nil), j.NewEntries...)
	return &cp
}

// GetJob retrieves a copy of a job by ID
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.snapshot()
	}
	return nil
}

// GetJobBySite retrieves the current job for a site
func (m *JobManager) GetJobBySite(siteKey string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bysite[siteKey]; exists {
		if job, ok := m.jobs[jobID]; ok {
			return job.snapshot()
		}
	}
	return nil
}

// IsRunning checks if a job is currently active for a site
func (m *JobManager) IsRunning(siteKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if jobID, exists := m.bysite[siteKey]; exists {
		job := m.jobs[jobID]
		return job != nil && job.Status.IsActive()
	}
	return false
}

// UpdateStatus updates the status of a job. A cancelled job keeps its status.
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, exists := m.jobs[jobID]
	if !exists || job.Status == JobStatusCancelled {
		return
	}
	job.Status = status
	if !status.IsActive() {
		job.CompletedAt = time.Now()
		// Remove from bysite to allow new jobs
		delete(m.bysite, job.SiteKey)
	}
	if errorMsg != "" {
		job.ErrorMessage = errorMsg
	}
}

// SetResult copies the outcome of a run onto the job
func (m *JobManager) SetResult(jobID string, result models.RunResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.EntriesSeen = result.EntriesSeen
		job.NewEntries = append([]models.Entry(nil), result.NewEntries...)
		job.NotifyFailed = result.NotifyFailed
		if result.Strategy != models.StrategyUnset {
			job.Strategy = result.Strategy
		}
	}
}

// CancelJob cancels an active job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists && job.Status.IsActive() {
		job.cancel()
		job.Status = JobStatusCancelled
		job.CompletedAt = time.Now()
		delete(m.bysite, job.SiteKey)
		return true
	}
	return false
}

// CancelAll cancels all active jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.IsActive() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.bysite = make(map[string]string)
}

// ListJobs returns copies of all jobs
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	return jobs
}

// GetContext returns the context a job's run must use
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}
