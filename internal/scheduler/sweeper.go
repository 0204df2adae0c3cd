package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// Expirer removes credit holds whose dispatch never settled.
type Expirer interface {
	ExpireReservations(ctx context.Context) (int64, error)
}

// Sweeper periodically expires stale reservations so that a crash between
// reserving and settling cannot lock an account's credit forever.
type Sweeper struct {
	*Scheduler

	expirer Expirer
	log     *slog.Logger
	swept   atomic.Int64
}

func NewSweeper(interval time.Duration, expirer Expirer, log *slog.Logger) (*Sweeper, error) {
	if expirer == nil {
		return nil, errors.New("expirer must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "reservation_sweeper")

	s := &Sweeper{expirer: expirer, log: log}
	sched, err := New(interval, s.sweep, log)
	if err != nil {
		return nil, err
	}
	s.Scheduler = sched
	return s, nil
}

// Swept is the number of reservations expired since the sweeper was created.
func (s *Sweeper) Swept() int64 {
	return s.swept.Load()
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	n, err := s.expirer.ExpireReservations(ctx)
	if err != nil {
		s.log.Error("sweep failed", "err", err)
		return
	}
	s.swept.Add(n)
	if n > 0 {
		s.log.Info("expired reservations", "count", n, "duration_ms", time.Since(start).Milliseconds())
	}
}
