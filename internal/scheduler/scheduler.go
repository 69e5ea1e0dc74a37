// Package scheduler runs a task on a recurring trigger.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Task is one scheduled unit of work.
type Task func(ctx context.Context)

// Scheduler starts the task on every tick in its own goroutine. It never
// queues: overlapping runs are left to the task's own single-flight guard.
type Scheduler struct {
	ticker     Ticker
	task       Task
	logger     hclog.Logger
	runOnStart bool

	stop     chan struct{}
	stopOnce sync.Once
	loop     sync.WaitGroup
	inFlight sync.WaitGroup
}

type Option func(*Scheduler)

// WithRunOnStart runs the task immediately when the scheduler starts.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) { s.runOnStart = enabled }
}

func New(ticker Ticker, task Task, logger hclog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		ticker: ticker,
		task:   task,
		logger: logger,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins listening for ticks. It returns immediately; the loop ends on
// Stop or when ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		defer s.ticker.Stop()

		if s.runOnStart {
			s.launch(ctx, time.Now())
		}
		for {
			select {
			case <-s.stop:
				s.logger.Info("scheduler stopped")
				return
			case <-ctx.Done():
				s.logger.Info("scheduler context done", "error", ctx.Err())
				return
			case t := <-s.ticker.C():
				s.launch(ctx, t)
			}
		}
	}()
}

func (s *Scheduler) launch(ctx context.Context, t time.Time) {
	s.logger.Debug("tick", "at", t)
	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		s.task(ctx)
	}()
}

// Stop prevents future runs. Runs already started are not interrupted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait blocks until the loop has exited and every started run has returned.
func (s *Scheduler) Wait() {
	s.loop.Wait()
	s.inFlight.Wait()
}
