package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ipsix/scamshield/internal/logging"
)

// Job run statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
	StatusPanic   = "panic"
	StatusSkipped = "skipped"
)

var ErrUnknownJob = errors.New("unknown job")

type Task func(ctx context.Context) error

type JobConfig struct {
	Name         string
	Schedule     string
	Timeout      time.Duration
	AllowOverlap bool
	RunOnStart   bool
	Task         Task
}

type Recorder interface {
	ObserveJob(job, status string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveJob(string, string) {}

type Scheduler struct {
	logger   *logging.Logger
	recorder Recorder
	cron     *cron.Cron

	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(logger *logging.Logger, recorder Recorder) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Scheduler{
		logger:   logger,
		recorder: recorder,
		cron:     cron.New(),
		jobs:     make(map[string]*job),
	}
}

// AddJob registers a job. Schedules accept standard five-field cron
// expressions and descriptors such as "@every 1h". An empty schedule
// registers a job that only runs on start or on demand.
func (s *Scheduler) AddJob(cfg JobConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if cfg.Task == nil {
		return fmt.Errorf("job %q has no task", cfg.Name)
	}
	var sched cron.Schedule
	if strings.TrimSpace(cfg.Schedule) != "" {
		parsed, err := cron.ParseStandard(cfg.Schedule)
		if err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", cfg.Name, cfg.Schedule, err)
		}
		sched = parsed
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[cfg.Name]; exists {
		return fmt.Errorf("job %q already exists", cfg.Name)
	}
	s.jobs[cfg.Name] = &job{cfg: cfg, schedule: sched}
	return nil
}

// Start schedules every registered job. Runs derive their context from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx = runCtx
	s.cancel = cancel

	for _, j := range s.jobs {
		j := j
		if j.schedule != nil && j.entry == 0 {
			j.entry = s.cron.Schedule(j.schedule, cron.FuncJob(func() {
				s.executeJob(s.currentCtx(), j)
			}))
		}
		if j.cfg.RunOnStart {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.executeJob(runCtx, j)
			}()
		}
	}
	s.cron.Start()
}

func (s *Scheduler) currentCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
}

// RunNow executes the named job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.executeJob(ctx, j), nil
}

type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule,omitempty"`
	Next     time.Time `json:"next,omitempty"`
	LastRun  time.Time `json:"lastRun,omitempty"`
	Status   string    `json:"lastStatus,omitempty"`
	Running  bool      `json:"running"`
}

func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{
			Name:     j.cfg.Name,
			Schedule: j.cfg.Schedule,
			Running:  j.running.Load(),
		}
		if s.started && j.schedule != nil {
			info.Next = s.cron.Entry(j.entry).Next
		}
		j.mu.Lock()
		info.LastRun = j.lastRun
		info.Status = j.lastStatus
		j.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Scheduler) executeJob(ctx context.Context, j *job) (status string) {
	if !j.cfg.AllowOverlap {
		if !j.running.CompareAndSwap(false, true) {
			s.logger.Warn("job skipped due to overlap", logging.F("job", j.cfg.Name))
			s.recorder.ObserveJob(j.cfg.Name, StatusSkipped)
			return StatusSkipped
		}
		defer j.running.Store(false)
	}

	runCtx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panic recovered",
				logging.F("job", j.cfg.Name),
				logging.F("panic", r),
				logging.F("stack", string(debug.Stack())),
			)
			status = StatusPanic
		}
		j.finish(started, status)
		s.recorder.ObserveJob(j.cfg.Name, status)
	}()

	err := j.cfg.Task(runCtx)
	duration := time.Since(started)
	if err != nil {
		status = StatusFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			status = StatusTimeout
		}
		s.logger.Error("job failed",
			logging.F("job", j.cfg.Name),
			logging.F("status", status),
			logging.F("duration", duration.String()),
			logging.Err(err),
		)
		return status
	}

	s.logger.Info("job completed",
		logging.F("job", j.cfg.Name),
		logging.F("duration", duration.String()),
	)
	return StatusSuccess
}

type job struct {
	cfg      JobConfig
	schedule cron.Schedule
	entry    cron.EntryID
	running  atomic.Bool

	mu         sync.Mutex
	lastRun    time.Time
	lastStatus string
}

func (j *job) finish(started time.Time, status string) {
	j.mu.Lock()
	j.lastRun = started
	j.lastStatus = status
	j.mu.Unlock()
}
