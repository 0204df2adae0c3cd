package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

// Gateway sends one message to one or more numbers in a single call.
type Gateway interface {
	Send(ctx context.Context, numbers []string, message string) (remoteMessageID string, err error)
}

// BatchHook runs before every batch after the first. An error stops the
// dispatch: that batch and all later ones fail with ReasonHoldLost and no
// gateway call.
type BatchHook func(ctx context.Context) error

const (
	ReasonTimeout       = "timeout"
	ReasonCanceled      = "canceled"
	ReasonInvalidNumber = "invalid phone number"
	ReasonHoldLost      = "credit hold lost"
)

type DispatcherConfig struct {
	Strategy    model.Strategy
	BatchSize   int
	FanOut      int
	BatchDelay  time.Duration
	CallTimeout time.Duration
	// Normalize maps a stored phone to the number handed to the gateway.
	// Nil passes the trimmed phone through.
	Normalize func(raw string) (string, error)
}

// Dispatcher turns (recipients, message) into an Outcome. It never aborts:
// every recipient ends up either sent or failed.
type Dispatcher struct {
	gw  Gateway
	cfg DispatcherConfig
	log *slog.Logger
}

func NewDispatcher(gw Gateway, cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if !cfg.Strategy.Valid() {
		cfg.Strategy = model.PerRecipient
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.FanOut <= 0 {
		cfg.FanOut = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.Normalize == nil {
		cfg.Normalize = func(raw string) (string, error) { return strings.TrimSpace(raw), nil }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{gw: gw, cfg: cfg, log: log.With("component", "dispatcher")}
}

func (d *Dispatcher) Strategy() model.Strategy { return d.cfg.Strategy }

func (d *Dispatcher) Dispatch(ctx context.Context, recipients []model.Recipient, message string, hooks ...BatchHook) model.Outcome {
	results := make([]model.RecipientOutcome, len(recipients))
	it := newBatchIterator(recipients, d.cfg.BatchSize)

	var stopped string
	for n := 0; ; n++ {
		start, batch, ok := it.Next()
		if !ok {
			break
		}
		out := results[start : start+len(batch)]
		if stopped != "" {
			failAll(out, batch, stopped)
			continue
		}

		if n > 0 && d.cfg.BatchDelay > 0 {
			_ = sleepCtx(ctx, d.cfg.BatchDelay)
		}
		if ctx.Err() != nil {
			failAll(out, batch, ReasonCanceled)
			continue
		}
		if n > 0 {
			if err := runHooks(ctx, hooks); err != nil {
				d.log.Warn("dispatch stopped before batch", "batch", n, "err", err)
				stopped = ReasonHoldLost
				failAll(out, batch, stopped)
				continue
			}
		}

		batchStart := time.Now()
		switch d.cfg.Strategy {
		case model.Bulk:
			d.sendBulk(ctx, batch, message, out)
		default:
			d.sendEach(ctx, batch, message, out)
		}
		d.log.Debug("batch dispatched",
			"batch", n,
			"size", len(batch),
			"duration_ms", time.Since(batchStart).Milliseconds(),
		)
	}

	for _, r := range results {
		recipientOutcomesTotal.WithLabelValues(string(d.cfg.Strategy), string(r.State)).Inc()
	}
	return model.Outcome{Results: results}
}

// sendEach fans a batch out as one call per recipient, at most FanOut in flight.
func (d *Dispatcher) sendEach(ctx context.Context, batch []model.Recipient, message string, out []model.RecipientOutcome) {
	var g errgroup.Group
	g.SetLimit(d.cfg.FanOut)

	for i, rc := range batch {
		g.Go(func() error {
			out[i] = d.sendOne(ctx, rc, message)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) sendOne(ctx context.Context, rc model.Recipient, message string) model.RecipientOutcome {
	number, err := d.cfg.Normalize(rc.Phone)
	if err != nil || number == "" {
		return failed(rc, rc.Phone, ReasonInvalidNumber)
	}
	if ctx.Err() != nil {
		return failed(rc, number, ReasonCanceled)
	}

	remoteID, err := d.call(ctx, []string{number}, message)
	if err != nil {
		return failed(rc, number, d.reason(ctx, err))
	}
	return model.RecipientOutcome{
		RecipientID:     rc.ID,
		Phone:           number,
		State:           model.Sent,
		RemoteMessageID: remoteID,
	}
}

// sendBulk submits the whole batch in one call. The gateway gives no
// per-number breakdown, so its result applies to every number in the call.
func (d *Dispatcher) sendBulk(ctx context.Context, batch []model.Recipient, message string, out []model.RecipientOutcome) {
	numbers := make([]string, 0, len(batch))
	idx := make([]int, 0, len(batch))

	for i, rc := range batch {
		number, err := d.cfg.Normalize(rc.Phone)
		if err != nil || number == "" {
			out[i] = failed(rc, rc.Phone, ReasonInvalidNumber)
			continue
		}
		out[i] = model.RecipientOutcome{RecipientID: rc.ID, Phone: number}
		numbers = append(numbers, number)
		idx = append(idx, i)
	}
	if len(numbers) == 0 {
		return
	}

	remoteID, err := d.call(ctx, numbers, message)
	for _, i := range idx {
		if err != nil {
			out[i].State = model.Failed
			out[i].Reason = d.reason(ctx, err)
			continue
		}
		out[i].State = model.Sent
		out[i].RemoteMessageID = remoteID
	}
}

func (d *Dispatcher) call(ctx context.Context, numbers []string, message string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	remoteID, err := d.gw.Send(callCtx, numbers, message)
	gatewayCallDuration.WithLabelValues(string(d.cfg.Strategy)).Observe(time.Since(start).Seconds())

	if err != nil {
		d.log.Warn("gateway call failed", "numbers", len(numbers), "err", err)
	}
	return remoteID, err
}

func (d *Dispatcher) reason(parent context.Context, err error) string {
	switch {
	case parent.Err() != nil:
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return err.Error()
	}
}

func failed(rc model.Recipient, phone, reason string) model.RecipientOutcome {
	return model.RecipientOutcome{
		RecipientID: rc.ID,
		Phone:       phone,
		State:       model.Failed,
		Reason:      reason,
	}
}

func failAll(out []model.RecipientOutcome, batch []model.Recipient, reason string) {
	for i, rc := range batch {
		out[i] = failed(rc, rc.Phone, reason)
	}
}

func runHooks(ctx context.Context, hooks []BatchHook) error {
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// batchIterator walks a recipient slice in fixed-size windows.
type batchIterator struct {
	items []model.Recipient
	size  int
	pos   int
}

func newBatchIterator(items []model.Recipient, size int) *batchIterator {
	return &batchIterator{items: items, size: size}
}

// Next returns the offset of the next batch within items and the batch itself.
func (it *batchIterator) Next() (int, []model.Recipient, bool) {
	if it.pos >= len(it.items) {
		return 0, nil, false
	}
	start := it.pos
	end := min(start+it.size, len(it.items))
	it.pos = end
	return start, it.items[start:end], true
}
