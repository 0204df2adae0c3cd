package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/LeventeLantos/credit-dispatch/internal/cache"
	"github.com/LeventeLantos/credit-dispatch/internal/model"
	"github.com/LeventeLantos/credit-dispatch/internal/repo"
)

type State string

const (
	StateValidating      State = "validating"
	StateResolving       State = "resolving"
	StateBalanceChecking State = "balance_checking"
	StateDispatching     State = "dispatching"
	StateSettling        State = "settling"
	StateCommitted       State = "committed"
	StateAborted         State = "aborted"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	settleTimeout   = 15 * time.Second
)

type Options struct {
	DebitPolicy model.DebitPolicy
	ContentMax  int
}

type Orchestrator struct {
	resolver   *Resolver
	ledger     *Ledger
	history    repo.HistoryRepository
	dispatcher *Dispatcher
	cache      cache.DispatchCache
	opts       Options
	log        *slog.Logger

	newID func() string
	now   func() time.Time
}

func NewOrchestrator(
	resolver *Resolver,
	ledger *Ledger,
	history repo.HistoryRepository,
	dispatcher *Dispatcher,
	opts Options,
	log *slog.Logger,
) *Orchestrator {
	if !opts.DebitPolicy.Valid() {
		opts.DebitPolicy = model.DebitSuccess
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		resolver:   resolver,
		ledger:     ledger,
		history:    history,
		dispatcher: dispatcher,
		opts:       opts,
		log:        log.With("component", "orchestrator"),
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// WithCache enables best-effort storage of full dispatch results.
func (o *Orchestrator) WithCache(c cache.DispatchCache) *Orchestrator {
	o.cache = c
	return o
}

// DispatchMessage runs one dispatch end to end. Credit is only ever charged
// by the settle transaction; any abort leaves the balance untouched.
func (o *Orchestrator) DispatchMessage(ctx context.Context, req model.DispatchRequest) (*model.DispatchResult, error) {
	dispatchID := o.newID()
	log := o.log.With("dispatch_id", dispatchID, "account_id", req.AccountID)

	if err := o.validate(req); err != nil {
		return nil, o.abort(log, err)
	}

	recipients, err := o.resolver.Resolve(ctx, req.AccountID, req.Selection)
	if err != nil {
		return nil, o.abort(log, err)
	}
	attempted := int64(len(recipients))
	log.Info("recipients resolved", "mode", req.Selection.Mode, "count", attempted)

	if _, err := o.ledger.Reserve(ctx, dispatchID, req.AccountID, attempted); err != nil {
		return nil, o.abort(log, err)
	}

	start := time.Now()
	// Long dispatches keep renewing the hold so the sweeper cannot free
	// credit that is still being spent.
	keepHold := func(ctx context.Context) error { return o.ledger.Extend(ctx, dispatchID) }
	outcome := o.dispatcher.Dispatch(ctx, recipients, req.Message, keepHold)
	sent, failed := outcome.Sent(), outcome.Failed()
	log.Info("dispatch finished",
		"strategy", o.dispatcher.Strategy(),
		"sent", sent,
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	// Messages are out; settling must not be skipped because the caller left.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	debit := o.debitFor(sent, attempted)
	status := model.StatusFor(sent, failed)
	entry, remaining, err := o.ledger.Settle(settleCtx, model.Settlement{
		ReservationID: dispatchID,
		AccountID:     req.AccountID,
		Debit:         debit,
		Entry: model.HistoryEntry{
			DispatchID:     dispatchID,
			AccountID:      req.AccountID,
			Message:        req.Message,
			RecipientCount: len(recipients),
			SMSUsed:        debit,
			SentCount:      sent,
			FailedCount:    failed,
			Status:         status,
		},
	})
	if err != nil {
		if relErr := o.ledger.Release(settleCtx, dispatchID); relErr != nil {
			log.Error("release reservation failed", "err", relErr)
		}
		return nil, o.abort(log, err)
	}

	completedAt := entry.CreatedAt
	if completedAt.IsZero() {
		completedAt = o.now().UTC()
	}
	result := &model.DispatchResult{
		DispatchID:       dispatchID,
		AccountID:        req.AccountID,
		Attempted:        len(recipients),
		Sent:             sent,
		Failed:           failed,
		Debited:          debit,
		RemainingBalance: remaining,
		Status:           status,
		CompletedAt:      completedAt,
		Details:          outcome.Results,
	}

	dispatchesTotal.WithLabelValues(string(StateCommitted)).Inc()
	creditsDebitedTotal.Add(float64(debit))
	log.Info("dispatch committed", "debited", debit, "remaining", remaining, "status", status)

	if o.cache != nil {
		if err := o.cache.StoreDispatch(settleCtx, *result); err != nil {
			log.Warn("cache dispatch result failed", "err", err)
		}
	}
	return result, nil
}

func (o *Orchestrator) GetBalance(ctx context.Context, accountID int64) (model.Balance, error) {
	if accountID <= 0 {
		return model.Balance{}, invalidRequest("account id must be > 0")
	}
	bal, err := o.ledger.Balance(ctx, accountID)
	if err != nil {
		return model.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

// ListHistory returns one page of history, newest first. Pages start at 1.
func (o *Orchestrator) ListHistory(ctx context.Context, accountID int64, page, pageSize int) (model.HistoryPage, error) {
	if accountID <= 0 {
		return model.HistoryPage{}, invalidRequest("account id must be > 0")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	total, err := o.history.CountHistory(ctx, accountID)
	if err != nil {
		return model.HistoryPage{}, fmt.Errorf("count history: %w", err)
	}

	entries := []model.HistoryEntry{}
	if offset := (page - 1) * pageSize; offset < total {
		entries, err = o.history.ListHistory(ctx, accountID, pageSize, offset)
		if err != nil {
			return model.HistoryPage{}, fmt.Errorf("list history: %w", err)
		}
	}

	return model.HistoryPage{
		Entries:    entries,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// GetDispatch returns a recently committed result from the cache.
func (o *Orchestrator) GetDispatch(ctx context.Context, dispatchID string) (model.DispatchResult, error) {
	if o.cache == nil {
		return model.DispatchResult{}, ErrDispatchNotFound
	}
	res, err := o.cache.LoadDispatch(ctx, dispatchID)
	if errors.Is(err, cache.ErrMiss) {
		return model.DispatchResult{}, ErrDispatchNotFound
	}
	return res, err
}

func (o *Orchestrator) validate(req model.DispatchRequest) error {
	if req.AccountID <= 0 {
		return invalidRequest("account id must be > 0")
	}
	if strings.TrimSpace(req.Message) == "" {
		return invalidRequest("message must not be empty")
	}
	if o.opts.ContentMax > 0 && utf8.RuneCountInString(req.Message) > o.opts.ContentMax {
		return invalidRequest("message exceeds %d chars", o.opts.ContentMax)
	}

	switch req.Selection.Mode {
	case model.SelectAll:
	case model.SelectExplicit:
		if len(req.Selection.IDs) == 0 {
			return invalidRequest("explicit selection requires recipient ids")
		}
		for _, id := range req.Selection.IDs {
			if id <= 0 {
				return invalidRequest("recipient id must be > 0, got %d", id)
			}
		}
	default:
		return invalidRequest("unknown selection mode %q", req.Selection.Mode)
	}
	return nil
}

func (o *Orchestrator) debitFor(sent int, attempted int64) int64 {
	if o.opts.DebitPolicy == model.DebitAttempted {
		return attempted
	}
	return int64(sent)
}

func (o *Orchestrator) abort(log *slog.Logger, err error) error {
	var de *DispatchError
	if !errors.As(err, &de) {
		de = persistenceFailure(StateAborted, "", err)
		err = de
	}
	dispatchesTotal.WithLabelValues(string(de.Kind)).Inc()

	if de.Kind == KindPersistenceFailure {
		log.Error("dispatch aborted", "state", de.State, "kind", de.Kind, "err", err)
	} else {
		log.Warn("dispatch aborted", "state", de.State, "kind", de.Kind, "err", err)
	}
	return err
}
