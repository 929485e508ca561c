package interfaces

import "time"

// ScheduleStatus represents the current status of a scheduled run entry
type ScheduleStatus struct {
	Name       string
	Enabled    bool
	Schedule   string
	ProjectRef string
	LastRun    *time.Time
	NextRun    *time.Time
	LastRunID  string
	LastError  string
}

// SchedulerService manages cron-based recurring runs
type SchedulerService interface {
	Start() error
	Stop() error
	IsRunning() bool

	// RegisterJob registers a named handler on a cron schedule (seconds precision)
	RegisterJob(name, schedule string, handler func() error) error

	EnableJob(name string) error
	DisableJob(name string) error

	// TriggerNow runs the named job immediately, outside its schedule
	TriggerNow(name string) error

	GetJobStatus(name string) (*ScheduleStatus, error)
	GetAllJobStatuses() map[string]*ScheduleStatus
}
