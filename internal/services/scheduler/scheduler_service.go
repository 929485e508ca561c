package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/labnex/internal/common"
	"github.com/ternarybob/labnex/internal/interfaces"
)

// jobEntry is a registered job and its bookkeeping
type jobEntry struct {
	name       string
	schedule   string
	projectRef string
	handler    func() error
	enabled    bool
	cronID     cron.EntryID
	lastRun    *time.Time
	lastRunID  string
	isRunning  bool
	lastError  string
}

// Service implements interfaces.SchedulerService on robfig/cron with seconds precision
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	jobMu   sync.Mutex
	jobs    map[string]*jobEntry
	running bool
}

var _ interfaces.SchedulerService = (*Service)(nil)

// NewService creates a stopped scheduler
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(cron.WithSeconds()),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// Start begins firing registered jobs
func (s *Service) Start() error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs to return
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.jobMu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning reports whether Start has been called without a matching Stop
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

// RegisterJob adds an enabled job under a unique name
func (s *Service) RegisterJob(name, schedule string, handler func() error) error {
	return s.register(&jobEntry{name: name, schedule: schedule, handler: handler, enabled: true})
}

func (s *Service) register(entry *jobEntry) error {
	if entry.name == "" {
		return fmt.Errorf("job name is required")
	}
	if err := common.ValidateSchedule(entry.schedule); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", entry.name, err)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[entry.name]; exists {
		return fmt.Errorf("job %s already registered", entry.name)
	}

	if entry.enabled {
		if err := s.addToCron(entry); err != nil {
			return err
		}
	}
	s.jobs[entry.name] = entry

	s.logger.Info().
		Str("job_name", entry.name).
		Str("schedule", entry.schedule).
		Bool("enabled", entry.enabled).
		Msg("Job registered")

	return nil
}

// addToCron schedules the entry (jobMu held)
func (s *Service) addToCron(entry *jobEntry) error {
	name := entry.name
	cronID, err := s.cron.AddFunc(entry.schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}
	entry.cronID = cronID
	return nil
}

// EnableJob puts a disabled job back on its schedule
func (s *Service) EnableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if entry.enabled {
		return nil
	}
	if err := s.addToCron(entry); err != nil {
		return err
	}
	entry.enabled = true

	s.logger.Info().Str("job_name", name).Msg("Job enabled")
	return nil
}

// DisableJob removes a job from the schedule without forgetting it
func (s *Service) DisableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if !entry.enabled {
		return nil
	}
	s.cron.Remove(entry.cronID)
	entry.enabled = false

	s.logger.Info().Str("job_name", name).Msg("Job disabled")
	return nil
}

// TriggerNow runs a job in the background outside its schedule
func (s *Service) TriggerNow(name string) error {
	s.jobMu.Lock()
	_, exists := s.jobs[name]
	s.jobMu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}

	common.SafeGo(s.logger, "schedule:"+name, func() {
		s.executeJob(name)
	})
	return nil
}

// GetJobStatus returns a job's bookkeeping and next fire time
func (s *Service) GetJobStatus(name string) (*interfaces.ScheduleStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return s.statusLocked(entry), nil
}

// GetAllJobStatuses returns every job's status keyed by name
func (s *Service) GetAllJobStatuses() map[string]*interfaces.ScheduleStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	out := make(map[string]*interfaces.ScheduleStatus, len(s.jobs))
	for name, entry := range s.jobs {
		out[name] = s.statusLocked(entry)
	}
	return out
}

func (s *Service) statusLocked(entry *jobEntry) *interfaces.ScheduleStatus {
	var nextRun *time.Time
	if entry.enabled {
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			nextRun = &next
		}
	}
	var lastRun *time.Time
	if entry.lastRun != nil {
		t := *entry.lastRun
		lastRun = &t
	}
	return &interfaces.ScheduleStatus{
		Name:       entry.name,
		Enabled:    entry.enabled,
		Schedule:   entry.schedule,
		ProjectRef: entry.projectRef,
		LastRun:    lastRun,
		NextRun:    nextRun,
		LastRunID:  entry.lastRunID,
		LastError:  entry.lastError,
	}
}

// executeJob runs a handler with panic recovery. Overlapping firings of the
// same job are skipped.
func (s *Service) executeJob(name string) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Warn().Str("job_name", name).Msg("Job still running, skipping this firing")
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.jobMu.Unlock()

	started := time.Now()
	var err error
	func() {
		defer common.RecoverGoroutine(s.logger, "schedule:"+name, func(r interface{}) {
			err = fmt.Errorf("panic: %v", r)
		})
		err = handler()
	}()

	s.jobMu.Lock()
	entry.isRunning = false
	finished := time.Now()
	entry.lastRun = &finished
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", time.Since(started)).
			Msg("Job execution failed")
		return
	}
	s.logger.Info().
		Str("job_name", name).
		Dur("duration", time.Since(started)).
		Msg("Job execution completed")
}

func (s *Service) setLastRunID(name, runID string) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	if entry, ok := s.jobs[name]; ok {
		entry.lastRunID = runID
	}
}
