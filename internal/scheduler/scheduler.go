package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs tickFn once on Start and then every interval until Stop.
// Each tick gets a context that is canceled on Stop and bounded by interval.
type Scheduler struct {
	interval time.Duration
	tickFn   func(context.Context)
	log      *slog.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, tickFn func(context.Context), log *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		tickFn:   tickFn,
		log:      log,
	}, nil
}

// Start reports false if the scheduler was already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.log.Info("scheduler started", "interval", s.interval.String())
	return true
}

// Stop waits for an in-flight tick to return. It reports false if the
// scheduler was not running.
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

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.safeTick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler tick panic recovered", "panic", r)
		}
	}()

	tickCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	s.tickFn(tickCtx)
}
