package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotRunning is returned by RunNow when the scheduler is stopped.
var ErrNotRunning = errors.New("scheduler not running")

// defaultInterval is used when no interval is configured.
const defaultInterval = time.Hour

// Task is the unit of work the scheduler runs.
type Task func(ctx context.Context) CycleReport

// State is the current state of the scheduler loop.
type State int

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Status is a snapshot of scheduler activity.
type Status struct {
	State      State        `json:"-"`
	Runs       int          `json:"runs"`
	LastRun    time.Time    `json:"last_run"`
	LastReport *CycleReport `json:"last_report,omitempty"`
}

// Scheduler runs a Task once at start and then on every interval tick. All
// runs, including those requested through RunNow, happen on one goroutine
// so cycles never overlap.
type Scheduler struct {
	task     Task
	interval time.Duration
	log      *zap.Logger

	triggerCh chan chan CycleReport
	stopCh    chan struct{}
	doneCh    chan struct{}
	cancel    context.CancelFunc

	mu      sync.Mutex
	running bool
	status  Status
}

// NewScheduler creates a Scheduler for task.
func NewScheduler(task Task, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Scheduler{
		task:      task,
		interval:  interval,
		log:       log.With(zap.String("component", "scheduler")),
		triggerCh: make(chan chan CycleReport),
	}
}

// Start launches the scheduling goroutine. The first cycle runs
// immediately. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	s.log.Info("scheduler started", zap.Duration("interval", s.interval))

	go s.loop(ctx, s.stopCh, s.doneCh)
}

// Stop halts the loop and waits for an in-flight cycle to return. The
// cycle's context is cancelled.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.cancel()
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.log.Info("scheduler stopped")
}

// RunNow asks the scheduling goroutine for an immediate cycle and waits for
// its report. If a cycle is in progress the request runs right after it.
func (s *Scheduler) RunNow(ctx context.Context) (CycleReport, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return CycleReport{}, ErrNotRunning
	}
	stop := s.stopCh
	s.mu.Unlock()

	reply := make(chan CycleReport, 1)

	select {
	case s.triggerCh <- reply:
	case <-stop:
		return CycleReport{}, ErrNotRunning
	case <-ctx.Done():
		return CycleReport{}, ctx.Err()
	}

	select {
	case report := <-reply:
		return report, nil
	case <-ctx.Done():
		return CycleReport{}, ctx.Err()
	}
}

// Status returns the current scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// loop runs the initial cycle, then waits for ticks and manual triggers.
func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.run(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx)
		case reply := <-s.triggerCh:
			reply <- s.run(ctx)
		}
	}
}

// run executes the task once. A panic is logged and reported as an error
// so the loop keeps going.
func (s *Scheduler) run(ctx context.Context) (report CycleReport) {
	s.setState(StateRunning, nil)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("cycle panicked", zap.Any("panic", r), zap.Stack("stack"))
			report = CycleReport{Error: fmt.Sprintf("cycle panicked: %v", r)}
		}
		s.setState(StateIdle, &report)
	}()

	return s.task(ctx)
}

// setState records the loop state and, when a cycle finished, its report.
func (s *Scheduler) setState(state State, report *CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.State = state
	if report != nil {
		r := *report
		s.status.Runs++
		s.status.LastRun = time.Now()
		s.status.LastReport = &r
	}
}
