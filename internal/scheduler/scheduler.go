package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// TickFunc is one unit of scheduled work. A returned error is logged and
// reported; it never stops the scheduler.
type TickFunc func(context.Context) error

type Scheduler struct {
	interval time.Duration
	tickFn   TickFunc
	log      *slog.Logger
	observe  func(status string)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, tickFn TickFunc) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		log:      slog.Default(),
		observe:  func(string) {},
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) WithLogger(l *slog.Logger) *Scheduler {
	if l != nil {
		s.log = l
	}
	return s
}

// WithObserver receives "ok", "error" or "panic" after every tick.
func (s *Scheduler) WithObserver(fn func(status string)) *Scheduler {
	if fn != nil {
		s.observe = fn
	}
	return s
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("scheduler started", "interval", s.interval.String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.log.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) safeTick(ctx context.Context) {
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			s.log.Error("scheduler tick panic recovered", "panic", r)
		}
		s.observe(status)
	}()

	start := time.Now()
	if err := s.tickFn(ctx); err != nil {
		status = "error"
		s.log.Warn("scheduler tick failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	s.log.Info("scheduler tick completed", "duration_ms", time.Since(start).Milliseconds())
}
