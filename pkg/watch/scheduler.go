package watch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/sitemap-watcher/pkg/config"
	"github.com/Sriram-PR/sitemap-watcher/pkg/orchestrate"
)

// SiteRunner executes one run for a site. *orchestrate.Orchestrator satisfies it.
type SiteRunner interface {
	RunSite(ctx context.Context, siteKey string) orchestrate.SiteResult
}

// cronParser accepts standard 5-field expressions plus descriptors such as @every 6h
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// siteSchedule is the resolved schedule of one watched site
type siteSchedule struct {
	spec     string
	schedule cron.Schedule
}

// Scheduler triggers site runs on cron schedules and records each outcome
type Scheduler struct {
	appCfg       *config.AppConfig
	siteKeys     []string
	interval     time.Duration
	runner       SiteRunner
	log          *logrus.Entry
	stateManager *StateManager

	cron      *cron.Cron
	schedules map[string]siteSchedule
	running   map[string]*sync.Mutex // Held for the duration of a site's run
	wg        sync.WaitGroup
}

// NewScheduler creates a watch scheduler. interval applies to sites without
// their own schedule or interval; zero falls back to config.DefaultSchedule.
func NewScheduler(appCfg *config.AppConfig, siteKeys []string, interval time.Duration, runner SiteRunner, log *logrus.Entry) (*Scheduler, error) {
	s := &Scheduler{
		appCfg:       appCfg,
		siteKeys:     siteKeys,
		interval:     interval,
		runner:       runner,
		log:          log,
		stateManager: NewStateManager(StatePath(appCfg.WatchStateFile, appCfg.StateDir)),
		schedules:    make(map[string]siteSchedule, len(siteKeys)),
		running:      make(map[string]*sync.Mutex, len(siteKeys)),
	}

	for _, siteKey := range siteKeys {
		spec, err := s.scheduleSpec(siteKey)
		if err != nil {
			return nil, err
		}
		schedule, err := cronParser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: site '%s': invalid schedule '%s': %v", ErrInvalidSchedule, siteKey, spec, err)
		}
		s.schedules[siteKey] = siteSchedule{spec: spec, schedule: schedule}
		s.running[siteKey] = &sync.Mutex{}
	}

	cronLog := cron.PrintfLogger(log.WithField("component", "cron"))
	s.cron = cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.Recover(cronLog)),
	)
	return s, nil
}

// ErrInvalidSchedule is returned for unparseable site schedules or intervals
var ErrInvalidSchedule = errors.New("invalid watch schedule")

// scheduleSpec picks the site schedule, then the site interval, then the
// scheduler interval, then the default schedule
func (s *Scheduler) scheduleSpec(siteKey string) (string, error) {
	siteCfg := s.appCfg.Sites[siteKey]
	if siteCfg == nil {
		return "", fmt.Errorf("site '%s' not found in configuration", siteKey)
	}
	if siteCfg.Schedule != "" {
		return siteCfg.Schedule, nil
	}
	if siteCfg.Interval != "" {
		d, err := ParseInterval(siteCfg.Interval)
		if err != nil {
			return "", fmt.Errorf("%w: site '%s': %v", ErrInvalidSchedule, siteKey, err)
		}
		return everySpec(d), nil
	}
	if s.interval > 0 {
		return everySpec(s.interval), nil
	}
	return config.DefaultSchedule, nil
}

func everySpec(d time.Duration) string {
	return "@every " + d.String()
}

// StateManager exposes the run history
func (s *Scheduler) StateManager() *StateManager {
	return s.stateManager
}

// Run registers every site with cron and blocks until ctx is done.
// Sites whose scheduled time passed while the scheduler was down run immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.stateManager.Load(); err != nil {
		s.log.Warnf("Failed to load watch state: %v (starting fresh)", err)
	}

	s.log.Infof("Starting watch mode for %d sites", len(s.siteKeys))
	for _, siteKey := range s.siteKeys {
		key := siteKey
		if _, err := s.cron.AddFunc(s.schedules[key].spec, func() { s.runSite(ctx, key) }); err != nil {
			return fmt.Errorf("%w: site '%s': %v", ErrInvalidSchedule, key, err)
		}
	}
	s.logSchedule()

	for _, siteKey := range s.dueSites() {
		key := siteKey
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runSite(ctx, key)
		}()
	}

	s.cron.Start()
	<-ctx.Done()

	s.log.Info("Watch scheduler shutting down...")
	<-s.cron.Stop().Done()
	s.wg.Wait()
	return nil
}

// runSite executes one run and persists its outcome. A trigger that fires
// while the previous run of the same site is still going is skipped.
func (s *Scheduler) runSite(ctx context.Context, siteKey string) {
	if ctx.Err() != nil {
		return
	}
	lock := s.running[siteKey]
	if !lock.TryLock() {
		s.log.WithField("site", siteKey).Warn("Previous run still in progress, skipping this trigger")
		return
	}
	defer lock.Unlock()

	result := s.runner.RunSite(ctx, siteKey)

	errorMsg := ""
	if result.Error != nil {
		errorMsg = result.Error.Error()
	}
	s.stateManager.RecordRun(siteKey, result.Success, result.Run, errorMsg)
	if err := s.stateManager.Save(); err != nil {
		s.log.Errorf("Failed to save watch state: %v", err)
	}

	siteLog := s.log.WithField("site", siteKey)
	if result.Success {
		siteLog.Infof("Run finished: %d new entries", len(result.Run.NewEntries))
	} else {
		siteLog.Warnf("Run failed: %v", result.Error)
	}
	s.logNextRun()
}

// dueSites returns sites that never ran or missed a scheduled run
func (s *Scheduler) dueSites() []string {
	var due []string
	for _, siteKey := range s.siteKeys {
		if s.stateManager.ShouldRun(siteKey, s.schedules[siteKey].schedule.Next) {
			due = append(due, siteKey)
		}
	}
	return due
}

// logSchedule logs the current schedule
func (s *Scheduler) logSchedule() {
	s.log.Info("Watch schedule:")
	for _, siteKey := range s.siteKeys {
		sched := s.schedules[siteKey]
		state, exists := s.stateManager.GetSiteState(siteKey)
		if !exists {
			s.log.Infof("  %s [%s]: never run, will run immediately", siteKey, sched.spec)
			continue
		}
		status := "success"
		if !state.LastRunSuccess {
			status = "failed"
		}
		s.log.Infof("  %s [%s]: last run %v (%s, %d new), next run %v",
			siteKey,
			sched.spec,
			state.LastRunTime.Format(time.RFC3339),
			status,
			state.LastNewEntries,
			s.stateManager.GetNextRunTime(siteKey, sched.schedule.Next).Format(time.RFC3339))
	}
}

// logNextRun logs when the next run will occur
func (s *Scheduler) logNextRun() {
	status := s.GetStatus()
	if len(status) == 0 {
		return
	}
	next := make([]SiteStatus, 0, len(status))
	for _, st := range status {
		next = append(next, st)
	}
	sort.Slice(next, func(i, j int) bool {
		return next[i].NextRunTime.Before(next[j].NextRunTime)
	})

	until := time.Until(next[0].NextRunTime)
	if until < 0 {
		until = 0
	}
	s.log.Infof("Next run: %s in %v (at %s)", next[0].SiteKey, until.Round(time.Second), next[0].NextRunTime.Format("15:04:05"))
}

// GetStatus returns the current status of all watched sites
func (s *Scheduler) GetStatus() map[string]SiteStatus {
	status := make(map[string]SiteStatus, len(s.siteKeys))
	now := time.Now()

	for _, siteKey := range s.siteKeys {
		sched := s.schedules[siteKey]
		state, exists := s.stateManager.GetSiteState(siteKey)
		nextRun := sched.schedule.Next(now)
		if exists {
			if due := sched.schedule.Next(state.LastRunTime); due.Before(nextRun) {
				nextRun = due
			}
		}

		status[siteKey] = SiteStatus{
			SiteKey:        siteKey,
			Schedule:       sched.spec,
			LastRunTime:    state.LastRunTime,
			LastRunSuccess: state.LastRunSuccess,
			LastNewEntries: state.LastNewEntries,
			ErrorMessage:   state.ErrorMessage,
			NextRunTime:    nextRun,
			NeverRun:       !exists,
		}
	}

	return status
}

// SiteStatus contains the status of a watched site
type SiteStatus struct {
	SiteKey        string
	Schedule       string
	LastRunTime    time.Time
	LastRunSuccess bool
	LastNewEntries int
	ErrorMessage   string
	NextRunTime    time.Time
	NeverRun       bool
}

// FormatInterval formats a duration for display
func FormatInterval(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		hours := int(d.Hours())
		mins := int(d.Minutes()) % 60
		if mins > 0 {
			return fmt.Sprintf("%dh%dm", hours, mins)
		}
		return fmt.Sprintf("%dh", hours)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	if hours > 0 {
		return fmt.Sprintf("%dd%dh", days, hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ParseInterval parses a duration string with support for days
func ParseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("interval must be positive: %s", s)
		}
		return d, nil
	}

	if idx := strings.Index(s, "d"); idx > 0 {
		days, err := strconv.Atoi(s[:idx])
		if err == nil && days > 0 {
			d = time.Duration(days) * 24 * time.Hour
			if remaining := s[idx+1:]; remaining != "" {
				extra, err := time.ParseDuration(remaining)
				if err != nil {
					return 0, fmt.Errorf("invalid interval format: %s", s)
				}
				d += extra
			}
			return d, nil
		}
	}

	return 0, fmt.Errorf("invalid interval format: %s (examples: 30m, 1h, 24h, 7d)", s)
}
