package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sriram-PR/sitemap-watcher/pkg/models"
)

const (
	// DefaultStateFileName is used under state_dir when watch_state_file is unset
	DefaultStateFileName = "watch_state.json"
	maxHistory           = 20
)

// RunRecord is one entry of a site's run history
type RunRecord struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	NewEntries   int           `json:"new_entries"`
	EntriesSeen  int           `json:"entries_seen"`
	NotifyFailed bool          `json:"notify_failed,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// SiteState contains the last run information for a site
type SiteState struct {
	LastRunTime    time.Time   `json:"last_run_time"`
	LastRunSuccess bool        `json:"last_run_success"`
	LastNewEntries int         `json:"last_new_entries"`
	TotalNew       int64       `json:"total_new_entries"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	History        []RunRecord `json:"history,omitempty"` // Newest last
}

// WatchState contains the persistent state for the watch scheduler
type WatchState struct {
	Sites     map[string]SiteState `json:"sites"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// StateManager handles persisting and loading watch state
type StateManager struct {
	statePath string
	state     WatchState
	mu        sync.RWMutex
}

// StatePath resolves the watch state file. Relative names live under stateDir.
func StatePath(stateFile, stateDir string) string {
	if stateFile == "" {
		stateFile = DefaultStateFileName
	}
	if filepath.IsAbs(stateFile) {
		return stateFile
	}
	return filepath.Join(stateDir, stateFile)
}

// NewStateManager creates a state manager backed by statePath
func NewStateManager(statePath string) *StateManager {
	return &StateManager{
		statePath: statePath,
		state: WatchState{
			Sites: make(map[string]SiteState),
		},
	}
}

// Path returns the state file location
func (m *StateManager) Path() string {
	return m.statePath
}

// Load loads the state from disk. A missing file is an empty state.
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = WatchState{
				Sites: make(map[string]SiteState),
			}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	if m.state.Sites == nil {
		m.state.Sites = make(map[string]SiteState)
	}

	return nil
}

// Save writes the state to a temp file and renames it over the old one
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(m.statePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := m.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, m.statePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// GetSiteState returns the state for a specific site
func (m *StateManager) GetSiteState(siteKey string) (SiteState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.state.Sites[siteKey]
	return state, ok
}

// RecordRun stores the outcome of one run and trims the history
func (m *StateManager) RecordRun(siteKey string, success bool, result models.RunResult, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	startedAt := result.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	state := m.state.Sites[siteKey]
	state.LastRunTime = startedAt
	state.LastRunSuccess = success
	state.LastNewEntries = len(result.NewEntries)
	state.TotalNew += int64(len(result.NewEntries))
	state.ErrorMessage = errorMsg
	state.History = append(state.History, RunRecord{
		StartedAt:    startedAt,
		Duration:     result.Duration,
		Success:      success,
		NewEntries:   len(result.NewEntries),
		EntriesSeen:  result.EntriesSeen,
		NotifyFailed: result.NotifyFailed,
		ErrorMessage: errorMsg,
	})
	if len(state.History) > maxHistory {
		state.History = append([]RunRecord(nil), state.History[len(state.History)-maxHistory:]...)
	}
	m.state.Sites[siteKey] = state
}

// ShouldRun reports whether the site has never run or its next scheduled time has passed
func (m *StateManager) ShouldRun(siteKey string, next NextFunc) bool {
	return !m.GetNextRunTime(siteKey, next).After(time.Now())
}

// GetNextRunTime returns when the site should next run, now if it never has
func (m *StateManager) GetNextRunTime(siteKey string, next NextFunc) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.state.Sites[siteKey]
	if !ok {
		return time.Now()
	}
	return next(state.LastRunTime)
}

// GetAllSiteStates returns a copy of all site states
func (m *StateManager) GetAllSiteStates() map[string]SiteState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]SiteState, len(m.state.Sites))
	for k, v := range m.state.Sites {
		result[k] = v
	}
	return result
}

// NextFunc returns the first activation time after t
type NextFunc func(t time.Time) time.Time
