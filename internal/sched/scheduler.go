package sched

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pmorton/custodian/internal/config"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Task priorities, highest first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

var priorityRank = map[string]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// Task is one schedulable maintenance job.
type Task struct {
	ID                string
	Type              string
	Description       string
	Priority          string
	EstimatedDuration time.Duration
	DailyOnce         bool
	Tags              []string

	// Run executes the task body. It receives the scheduler's context and
	// must honor cancellation.
	Run func(ctx context.Context) error

	Status            string
	Attempts          int
	MaxAttempts       int
	ScheduledAt       time.Time
	LastExecutionDate string // YYYY-MM-DD of the last successful run
	LastError         string
}

// TaskSnapshot is the read-only view Status exposes.
type TaskSnapshot struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	Description       string `json:"description"`
	Priority          string `json:"priority"`
	Status            string `json:"status"`
	Attempts          int    `json:"attempts"`
	MaxAttempts       int    `json:"max_attempts"`
	DailyOnce         bool   `json:"daily_once"`
	LastExecutionDate string `json:"last_execution_date,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// SchedulerStatus is the full scheduler snapshot.
type SchedulerStatus struct {
	Running       bool           `json:"running"`
	StartedAt     time.Time      `json:"started_at"`
	InStartupHold bool           `json:"in_startup_hold"`
	CurrentWindow string         `json:"current_window,omitempty"`
	Tasks         []TaskSnapshot `json:"tasks"`
}

// Scheduler runs registered tasks inside their execution windows. Tasks
// execute one at a time on the tick goroutine.
type Scheduler struct {
	cfg    config.SchedulerConfig
	eval   *Evaluator
	prober LoadProber

	mu        sync.Mutex
	tasks     []*Task
	running   bool
	startedAt time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a scheduler. prober may be nil, which disables the
// system-idle window (the load check fails closed at full load).
func NewScheduler(cfg config.SchedulerConfig, eval *Evaluator, prober LoadProber) *Scheduler {
	if prober == nil {
		prober = StaticProber{Snapshot: LoadSnapshot{CPUPercent: 100, MemoryPercent: 100}}
	}
	return &Scheduler{
		cfg:    cfg,
		eval:   eval,
		prober: prober,
	}
}

// Submit registers a task. A zero MaxAttempts inherits the configured
// default; a missing ID gets a generated one.
func (s *Scheduler) Submit(t *Task) string {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = s.cfg.MaxAttempts
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	t.Status = TaskPending
	t.ScheduledAt = time.Now()

	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.sortLocked()
	s.mu.Unlock()

	log.Info().Str("task", t.ID).Str("type", t.Type).Str("priority", t.Priority).Msg("task submitted")
	return t.ID
}

// Start launches the tick loop. It returns immediately; Stop shuts the loop
// down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
	log.Info().Int("tick_seconds", s.cfg.TickSeconds).Int("startup_delay_minutes", s.cfg.StartupDelayMinutes).Msg("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	tick := time.Duration(s.cfg.TickSeconds) * time.Second
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, time.Now())
		}
	}
}

// tick runs every task the current window admits, highest priority first.
// Keeping execution on the tick goroutine means a long task naturally delays
// the next dispatch.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.inStartupHold(now) {
		return
	}

	load := s.prober.Sample()
	window, open := s.eval.BestWindow(now, load)
	if !open {
		return
	}

	for _, task := range s.eligibleTasks(now, window) {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, task, now)
	}
}

func (s *Scheduler) inStartupHold(now time.Time) bool {
	if !s.cfg.SkipExecutionOnStartup {
		return false
	}
	hold := time.Duration(s.cfg.StartupDelayMinutes) * time.Minute
	return now.Sub(s.startedAt) < hold
}

// eligibleTasks collects the pending tasks the current window admits, in
// priority order, applying the daily-once guards.
func (s *Scheduler) eligibleTasks(now time.Time, window WindowKind) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Task
	for _, t := range s.tasks {
		if t.Status != TaskPending {
			continue
		}
		if t.Attempts >= t.MaxAttempts {
			continue
		}
		if t.DailyOnce && !s.dailyOnceClearLocked(t, now) {
			continue
		}
		if !s.windowAdmits(window, t) {
			continue
		}
		due = append(due, t)
	}
	return due
}

// dailyOnceClearLocked applies both daily-once guards: the task must not
// have run today, and the cooldown since it was scheduled must have elapsed.
// The guards are independent so clock changes cannot defeat both at once.
func (s *Scheduler) dailyOnceClearLocked(t *Task, now time.Time) bool {
	if t.LastExecutionDate == now.Format("2006-01-02") {
		return false
	}
	cooldown := time.Duration(s.cfg.DailyOnceCooldownHours) * time.Hour
	return now.Sub(t.ScheduledAt) >= cooldown
}

// windowAdmits maps windows to the tasks they may run. The rest window takes
// everything; idle time takes background work only; collaboration windows run
// tagged tasks; the micro window takes only short jobs.
func (s *Scheduler) windowAdmits(window WindowKind, t *Task) bool {
	switch window {
	case WindowUserRest:
		return true
	case WindowSystemIdle:
		return t.Priority != PriorityHigh
	case WindowCollaboration:
		for _, tag := range t.Tags {
			if tag == "collaboration" {
				return true
			}
		}
		return false
	case WindowRealTimeMicro:
		return t.EstimatedDuration > 0 && t.EstimatedDuration <= s.eval.MicroCeiling()
	default:
		return false
	}
}

func (s *Scheduler) execute(ctx context.Context, t *Task, now time.Time) {
	s.mu.Lock()
	t.Status = TaskRunning
	t.Attempts++
	s.mu.Unlock()

	log.Info().Str("task", t.ID).Str("type", t.Type).Int("attempt", t.Attempts).Msg("task executing")

	err := s.runGuarded(ctx, t)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		t.LastError = err.Error()
		if t.Attempts >= t.MaxAttempts {
			t.Status = TaskFailed
			log.Error().Err(err).Str("task", t.ID).Int("attempts", t.Attempts).Msg("task failed permanently")
		} else {
			t.Status = TaskPending
			log.Warn().Err(err).Str("task", t.ID).Int("attempts", t.Attempts).Msg("task failed, will retry")
		}
		return
	}

	t.LastError = ""
	t.LastExecutionDate = now.Format("2006-01-02")
	if t.DailyOnce {
		// Re-arm for tomorrow; the ran-today guard blocks reruns until then.
		t.Status = TaskPending
		t.Attempts = 0
	} else {
		t.Status = TaskCompleted
	}
	log.Info().Str("task", t.ID).Str("type", t.Type).Msg("task completed")
}

// runGuarded converts a panicking task into a failed attempt instead of
// taking down the tick loop.
func (s *Scheduler) runGuarded(ctx context.Context, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if t.Run == nil {
		return fmt.Errorf("task %s has no body", t.ID)
	}
	return t.Run(ctx)
}

// Stop shuts the tick loop down, waiting up to the given bound for an
// in-progress task to finish. A missed join is logged, not fatal.
func (s *Scheduler) Stop(wait time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	select {
	case <-done:
		log.Info().Msg("scheduler stopped")
	case <-time.After(wait):
		log.Warn().Dur("waited", wait).Msg("scheduler stop timed out, task still running")
	}
}

// Status returns a point-in-time snapshot of the scheduler and its tasks.
func (s *Scheduler) Status(now time.Time, load LoadSnapshot) SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := SchedulerStatus{
		Running:       s.running,
		StartedAt:     s.startedAt,
		InStartupHold: s.running && s.inStartupHold(now),
	}
	if window, open := s.eval.BestWindow(now, load); open {
		st.CurrentWindow = string(window)
	}
	for _, t := range s.tasks {
		st.Tasks = append(st.Tasks, TaskSnapshot{
			ID:                t.ID,
			Type:              t.Type,
			Description:       t.Description,
			Priority:          t.Priority,
			Status:            t.Status,
			Attempts:          t.Attempts,
			MaxAttempts:       t.MaxAttempts,
			DailyOnce:         t.DailyOnce,
			LastExecutionDate: t.LastExecutionDate,
			LastError:         t.LastError,
		})
	}
	return st
}

func (s *Scheduler) sortLocked() {
	sort.SliceStable(s.tasks, func(i, j int) bool {
		return priorityRank[s.tasks[i].Priority] < priorityRank[s.tasks[j].Priority]
	})
}
