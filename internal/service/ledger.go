package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
	"github.com/LeventeLantos/credit-dispatch/internal/repo"
)

// Ledger guards account credit. Holds are taken before sending and turned
// into a debit (plus its history entry) once the outcome is known.
type Ledger struct {
	repo repo.LedgerRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewLedger(r repo.LedgerRepository, reservationTTL time.Duration) *Ledger {
	if reservationTTL <= 0 {
		reservationTTL = 15 * time.Minute
	}
	return &Ledger{repo: r, ttl: reservationTTL, now: time.Now}
}

func (l *Ledger) Balance(ctx context.Context, accountID int64) (model.Balance, error) {
	return l.repo.GetBalance(ctx, accountID)
}

// HasSufficientCredit is advisory; only Reserve is authoritative.
func (l *Ledger) HasSufficientCredit(ctx context.Context, accountID, n int64) (bool, error) {
	bal, err := l.repo.GetBalance(ctx, accountID)
	if errors.Is(err, repo.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bal.Spendable() >= n, nil
}

// Reserve holds n credits for dispatchID.
func (l *Ledger) Reserve(ctx context.Context, dispatchID string, accountID, n int64) (model.Balance, error) {
	bal, err := l.repo.Reserve(ctx, model.Reservation{
		ID:        dispatchID,
		AccountID: accountID,
		Amount:    n,
		ExpiresAt: l.now().Add(l.ttl),
	})
	switch {
	case err == nil:
		return bal, nil
	case errors.Is(err, repo.ErrInsufficientCredit):
		return bal, &DispatchError{
			Kind:      KindInsufficientBalance,
			State:     StateBalanceChecking,
			Required:  n,
			Available: bal.Spendable(),
		}
	case errors.Is(err, repo.ErrAccountNotFound):
		return model.Balance{}, &DispatchError{
			Kind:     KindInsufficientBalance,
			State:    StateBalanceChecking,
			Required: n,
			Msg:      "no balance for account",
		}
	default:
		return model.Balance{}, persistenceFailure(StateBalanceChecking, "reserve credit", err)
	}
}

// Settle debits and records the dispatch atomically.
func (l *Ledger) Settle(ctx context.Context, s model.Settlement) (model.HistoryEntry, int64, error) {
	entry, remaining, err := l.repo.Settle(ctx, s)
	if err != nil {
		return model.HistoryEntry{}, 0, persistenceFailure(StateSettling, "settle dispatch", err)
	}
	return entry, remaining, nil
}

// Extend renews the hold for another TTL. It fails once the hold has
// expired, since its credit may already be held by another dispatch.
func (l *Ledger) Extend(ctx context.Context, dispatchID string) error {
	if err := l.repo.ExtendReservation(ctx, dispatchID, l.now().Add(l.ttl)); err != nil {
		return fmt.Errorf("extend reservation %s: %w", dispatchID, err)
	}
	return nil
}

func (l *Ledger) Release(ctx context.Context, dispatchID string) error {
	err := l.repo.Release(ctx, dispatchID)
	if errors.Is(err, repo.ErrReservationNotFound) {
		return nil
	}
	return err
}

// ExpireReservations drops holds left behind by dispatches that never settled.
func (l *Ledger) ExpireReservations(ctx context.Context) (int64, error) {
	n, err := l.repo.ExpireReservations(ctx)
	if err != nil {
		return 0, err
	}
	reservationsExpiredTotal.Add(float64(n))
	return n, nil
}
