package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ogulcanaydogan/heatwatch/pkg/metrics"
)

var (
	// ErrUnknownJob is returned by RunNow for an unregistered name.
	ErrUnknownJob = errors.New("unknown job")
	// ErrBusy is returned by RunNow when the job is already in flight.
	ErrBusy = errors.New("job already running")
)

// JobFunc is one run of a periodic task.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	running  atomic.Bool
}

// Scheduler runs registered jobs on their own intervals. A tick that arrives while the
// previous run of the same job is still in flight is skipped, not queued.
type Scheduler struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	jobs    map[string]*job
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler. A nil clock uses the real clock.
func NewScheduler(clock clockwork.Clock, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:   clock,
		logger:  logger,
		metrics: m,
		jobs:    make(map[string]*job),
	}
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	s.jobs[name] = &job{name: name, interval: interval, fn: fn}
	return nil
}

// Jobs returns the registered job names in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches one ticker loop per job. It returns immediately. A stopped
// scheduler can be started again.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.stop = make(chan struct{})
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j, s.stop)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop ends the ticker loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// RunNow runs a job synchronously, honouring the same skip-if-busy guard as ticks.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	ran, err := s.run(ctx, j)
	if !ran {
		return fmt.Errorf("%s: %w", name, ErrBusy)
	}
	return err
}

func (s *Scheduler) loop(ctx context.Context, j *job, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				_, _ = s.run(ctx, j)
			}()
		}
	}
}

// run executes j unless it is already running. Panics are recovered and reported as errors.
func (s *Scheduler) run(ctx context.Context, j *job) (ran bool, err error) {
	if !j.running.CompareAndSwap(false, true) {
		s.metrics.JobSkipped(j.name)
		s.logger.Warn("job still running, tick skipped", "job", j.name)
		return false, nil
	}
	defer j.running.Store(false)

	s.metrics.JobRun(j.name)
	start := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			ran = true
			err = fmt.Errorf("job %s panicked: %v", j.name, r)
			s.metrics.JobFailed(j.name)
			s.logger.Error("job panicked", "job", j.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err = j.fn(ctx); err != nil {
		s.metrics.JobFailed(j.name)
		s.logger.Error("job failed", "job", j.name, "duration", s.clock.Since(start), "error", err)
		return true, err
	}
	s.logger.Debug("job finished", "job", j.name, "duration", s.clock.Since(start))
	return true, nil
}
