// Package scheduler runs background jobs on cron schedules. Each job is
// single-flight: a run is skipped while the previous one is still going in
// this process or holds the job's distributed lock in another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/phantomtrade/internal/domain"
	"github.com/alanyoungcy/phantomtrade/internal/metrics"
)

// Job is a named unit of scheduled work.
type Job struct {
	Name string
	// Spec is a standard five-field cron expression.
	Spec string
	Run  func(ctx context.Context) error
	// LockTTL bounds how long a crashed run can block other replicas.
	LockTTL time.Duration
	// RunOnStart also triggers the job once as soon as Run starts.
	RunOnStart bool
}

type entry struct {
	job     Job
	running atomic.Bool
}

// Scheduler owns a cron instance and the jobs registered on it.
type Scheduler struct {
	cron    *cron.Cron
	locks   domain.LockManager
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	// base is the context handed to job runs once Run starts.
	base context.Context
}

// New creates a Scheduler evaluating cron specs in the named timezone.
// locks may be nil, which limits single-flight to this process.
func New(timezone string, locks domain.LockManager, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", timezone, err)
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		locks:   locks,
		metrics: m,
		logger:  logger.With(slog.String("component", "scheduler")),
		entries: make(map[string]*entry),
		base:    context.Background(),
	}, nil
}

// Add registers job. It must be called before Run.
func (s *Scheduler) Add(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("scheduler: job %s has no run func", job.Name)
	}
	if job.LockTTL <= 0 {
		job.LockTTL = 10 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[job.Name]; dup {
		return fmt.Errorf("scheduler: job %s already registered", job.Name)
	}
	e := &entry{job: job}
	if _, err := s.cron.AddFunc(job.Spec, func() { s.trigger(e) }); err != nil {
		return fmt.Errorf("scheduler: job %s spec %q: %w", job.Name, job.Spec, err)
	}
	s.entries[job.Name] = e
	s.logger.Info("job registered", slog.String("job", job.Name), slog.String("spec", job.Spec))
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled, then waits for
// in-flight jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", slog.Int("jobs", len(s.entries)))

	var startup sync.WaitGroup
	for _, name := range s.startupJobs() {
		startup.Add(1)
		go func() {
			defer startup.Done()
			if _, err := s.RunNow(name); err != nil {
				s.logger.WarnContext(ctx, "startup run failed", slog.String("job", name), slog.String("error", err.Error()))
			}
		}()
	}
	<-ctx.Done()

	<-s.cron.Stop().Done()
	startup.Wait()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) startupJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, e := range s.entries {
		if e.job.RunOnStart {
			names = append(names, name)
		}
	}
	return names
}

// RunNow triggers a registered job immediately, subject to the same
// single-flight rules as a scheduled run. It reports whether the job ran.
func (s *Scheduler) RunNow(name string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("scheduler: unknown job %s", name)
	}
	return s.trigger(e), nil
}

func (s *Scheduler) trigger(e *entry) bool {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Debug("job still running, skipped", slog.String("job", e.job.Name))
		return false
	}
	defer e.running.Store(false)

	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()

	ran, err := WithLock(ctx, s.locks, "job:"+e.job.Name, e.job.LockTTL, e.job.Run)
	if !ran {
		if err != nil {
			s.logger.WarnContext(ctx, "job lock unavailable",
				slog.String("job", e.job.Name),
				slog.String("error", err.Error()),
			)
		}
		return false
	}
	s.metrics.JobRun(e.job.Name, err)
	if err != nil {
		s.logger.ErrorContext(ctx, "job failed",
			slog.String("job", e.job.Name),
			slog.String("error", err.Error()),
		)
	}
	return true
}

// WithLock runs fn while holding the named distributed lock. It reports
// false without running fn when another holder owns the lock. A nil locks
// runs fn unguarded.
func WithLock(ctx context.Context, locks domain.LockManager, name string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	if locks == nil {
		return true, fn(ctx)
	}
	unlock, err := locks.Acquire(ctx, name, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return false, nil
		}
		return false, err
	}
	defer unlock()
	return true, fn(ctx)
}
