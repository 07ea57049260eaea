// internal/service/sweep/scheduler.go

package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"spark/internal/logging"
	"spark/internal/metrics"
)

// TaskFunc is one unit of periodic work
type TaskFunc func(ctx context.Context) error

// Locker guards a task across replicas. Acquire returns ok=false when
// another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
}

// Scheduler runs named tasks on fixed intervals. A run is skipped while the
// previous run of the same task is still going.
type Scheduler struct {
	scheduler gocron.Scheduler
	locker    Locker
	logger    *slog.Logger

	mu      sync.RWMutex
	tasks   map[string]*task
	running map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. locker may be nil for single-instance
// deployments.
func NewScheduler(locker Locker, logger *slog.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: s,
		locker:    locker,
		logger:    logging.Component(logger, "scheduler"),
		tasks:     make(map[string]*task),
		running:   make(map[string]bool),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a task. Tasks must be registered before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("task name and function are required")
	}
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s already registered", name)
	}

	t := &task{name: name, interval: interval, fn: fn}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if err := s.run(s.ctx, t); err != nil {
				s.logger.Error("task failed", "task", t.name, "error", err)
			}
		}),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", name, err)
	}

	s.tasks[name] = t
	s.logger.Info("registered task", "task", name, "interval", interval)
	return nil
}

// Tasks returns the registered task names
func (s *Scheduler) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running tasks on their intervals
func (s *Scheduler) Start() {
	s.scheduler.Start()
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop cancels in-flight tasks and shuts the scheduler down
func (s *Scheduler) Stop() error {
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// RunNow runs a task immediately, outside its timer
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown task %s", name)
	}
	return s.run(ctx, t)
}

func (s *Scheduler) run(ctx context.Context, t *task) error {
	if !s.begin(t.name) {
		s.logger.Debug("task still running, skipping", "task", t.name)
		metrics.SweepRuns.WithLabelValues(t.name, "skipped").Inc()
		return nil
	}
	defer s.end(t.name)

	if s.locker != nil {
		key := "spark:sweep:" + t.name
		token, ok, err := s.locker.Acquire(ctx, key, t.interval)
		if err != nil {
			metrics.SweepRuns.WithLabelValues(t.name, "error").Inc()
			return fmt.Errorf("failed to acquire lock: %w", err)
		}
		if !ok {
			metrics.SweepRuns.WithLabelValues(t.name, "skipped").Inc()
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.Background(), key, token); err != nil {
				s.logger.Warn("failed to release lock", "task", t.name, "error", err)
			}
		}()
	}

	start := time.Now()
	err := t.fn(ctx)
	metrics.SweepDuration.WithLabelValues(t.name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.SweepRuns.WithLabelValues(t.name, "error").Inc()
		return err
	}
	metrics.SweepRuns.WithLabelValues(t.name, "ok").Inc()
	return nil
}

func (s *Scheduler) begin(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) end(name string) {
	s.mu.Lock()
	delete(s.running, name)
	s.mu.Unlock()
}
