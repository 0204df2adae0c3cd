package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

var (
	ErrAccountNotFound     = errors.New("account balance not found")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrReservationNotFound = errors.New("reservation not found")
)

type RecipientRepository interface {
	// FindByIDs returns the recipients among ids that belong to accountID.
	FindByIDs(ctx context.Context, accountID int64, ids []int64) ([]model.Recipient, error)
	// ListPage returns up to limit recipients of accountID with id > afterID, ordered by id.
	ListPage(ctx context.Context, accountID, afterID int64, limit int) ([]model.Recipient, error)
}

// LedgerRepository owns balances, reservations and the history rows that are
// written together with a debit.
type LedgerRepository interface {
	GetBalance(ctx context.Context, accountID int64) (model.Balance, error)
	// Reserve places a hold. On shortfall it returns ErrInsufficientCredit
	// together with the balance it observed.
	Reserve(ctx context.Context, r model.Reservation) (model.Balance, error)
	Release(ctx context.Context, reservationID string) error
	// ExtendReservation moves an unexpired hold's expiry to expiresAt, or
	// returns ErrReservationNotFound.
	ExtendReservation(ctx context.Context, reservationID string, expiresAt time.Time) error
	// Settle debits, drops the reservation and appends the history entry in
	// one transaction. It returns the stored entry and the new total.
	Settle(ctx context.Context, s model.Settlement) (model.HistoryEntry, int64, error)
	ExpireReservations(ctx context.Context) (int64, error)
}

type HistoryRepository interface {
	ListHistory(ctx context.Context, accountID int64, limit, offset int) ([]model.HistoryEntry, error)
	CountHistory(ctx context.Context, accountID int64) (int, error)
}
