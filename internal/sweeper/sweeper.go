// Package sweeper runs warden's periodic maintenance jobs (auto-escalation
// and stale cluster deactivation) on cron schedules.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/warden/internal/alerting"
	"github.com/linnemanlabs/warden/internal/postgres"
)

// Job is one scheduled sweep. Run receives the scheduled wall-clock time.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context, now time.Time) error
}

// Sweeper owns the cron scheduler. Overlapping runs of the same job are
// skipped, never queued.
type Sweeper struct {
	cron   *cron.Cron
	logger log.Logger
	jobs   map[string]Job
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]bool
}

// New validates every schedule and registers the jobs. Nothing runs until Start.
func New(logger log.Logger, jobs ...Job) (*Sweeper, error) {
	if logger == nil {
		logger = log.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sweeper{
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cronLogger{logger})),
		logger:  logger,
		jobs:    make(map[string]Job, len(jobs)),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool, len(jobs)),
	}

	var errs []error
	for _, j := range jobs {
		if j.Run == nil {
			panic(xerrors.New("sweeper job " + j.Name + " has no Run func"))
		}
		if _, dup := s.jobs[j.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate job %q", j.Name))
			continue
		}
		sched, err := cron.ParseStandard(j.Schedule)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: schedule %q: %w", j.Name, j.Schedule, err))
			continue
		}
		s.jobs[j.Name] = j
		name := j.Name
		s.cron.Schedule(sched, cron.FuncJob(func() { _ = s.RunNow(s.ctx, name) }))
	}
	if err := errors.Join(errs...); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	for name, j := range s.jobs {
		s.logger.Info(s.ctx, "sweep scheduled", "job", name, "schedule", j.Schedule)
	}
}

// Stop cancels running jobs and waits for them to return or for ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper stop: %w", ctx.Err())
	}
}

// ErrBusy is returned by RunNow when the job is already running.
var ErrBusy = errors.New("sweep already running")

// RunNow runs the named job synchronously. Scheduled runs go through here too.
func (s *Sweeper) RunNow(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown sweep %q", name)
	}

	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.Warn(ctx, "sweep still running, skipping", "job", name)
		return ErrBusy
	}
	s.running[name] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running[name] = false
		s.mu.Unlock()
	}()

	ctx = log.WithContext(ctx, s.logger.With("job", name))
	ctx = postgres.WithQuerySource(ctx, "sweep:"+name)

	start := time.Now()
	err := j.Run(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error(ctx, err, "sweep failed", "job", name, "duration", time.Since(start).Seconds())
		return err
	}
	return nil
}

// EscalationJob auto-escalates NEW alerts past their severity's delay.
func EscalationJob(schedule string, x *alerting.Escalator) Job {
	return Job{
		Name:     "auto_escalation",
		Schedule: schedule,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := x.AutoEscalate(ctx, now)
			return err
		},
	}
}

// ClusterJob closes clusters past the staleness horizon.
func ClusterJob(schedule string, c *alerting.Clusterer, store alerting.Store) Job {
	return Job{
		Name:     "cluster_deactivation",
		Schedule: schedule,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := c.DeactivateStale(ctx, store, now)
			return err
		},
	}
}

// cronLogger routes the scheduler's own messages to the structured logger.
type cronLogger struct {
	l log.Logger
}

// Info drops the scheduler's per-tick chatter.
func (cronLogger) Info(string, ...any) {}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(context.Background(), err, "cron: "+msg, keysAndValues...)
}
