package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of housekeeping work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function into a Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Maintenance runs housekeeping jobs on cron schedules.
type Maintenance struct {
	cron       *cron.Cron
	log        zerolog.Logger
	jobTimeout time.Duration
}

// NewMaintenance builds an idle maintenance runner.
func NewMaintenance(logger zerolog.Logger) *Maintenance {
	return &Maintenance{
		cron:       cron.New(),
		log:        logger.With().Str("component", "maintenance").Logger(),
		jobTimeout: 5 * time.Minute,
	}
}

// AddJob registers job under a standard cron expression or a descriptor such as "@daily".
func (m *Maintenance) AddJob(schedule string, job Job) error {
	_, err := m.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.jobTimeout)
		defer cancel()
		_ = m.RunNow(ctx, job)
	})
	if err != nil {
		return err
	}

	m.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (m *Maintenance) RunNow(ctx context.Context, job Job) error {
	m.log.Debug().Str("job", job.Name()).Msg("running job")
	if err := job.Run(ctx); err != nil {
		m.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
		return err
	}
	m.log.Debug().Str("job", job.Name()).Msg("job completed")
	return nil
}

// Start begins firing registered jobs.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.log.Info().Int("jobs", len(m.cron.Entries())).Msg("maintenance started")
}

// Stop halts the schedule and waits for running jobs.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
	m.log.Info().Msg("maintenance stopped")
}
