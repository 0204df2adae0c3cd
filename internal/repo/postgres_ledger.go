package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

type PostgresLedgerRepo struct {
	db *pgxpool.Pool
}

func NewPostgresLedgerRepo(db *pgxpool.Pool) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db}
}

const balanceQuery = `
	SELECT b.account_id, b.total_available, b.updated_at,
	       COALESCE((
	           SELECT SUM(c.amount)
	           FROM credit_reservations c
	           WHERE c.account_id = b.account_id AND c.expires_at > now()
	       ), 0)::BIGINT
	FROM account_balances b
	WHERE b.account_id = $1
`

func scanBalance(row pgx.Row) (model.Balance, error) {
	var b model.Balance
	err := row.Scan(&b.AccountID, &b.TotalAvailable, &b.UpdatedAt, &b.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Balance{}, ErrAccountNotFound
	}
	return b, err
}

func (r *PostgresLedgerRepo) GetBalance(ctx context.Context, accountID int64) (model.Balance, error) {
	return scanBalance(r.db.QueryRow(ctx, balanceQuery, accountID))
}

// lockBalanceQuery takes the row lock on its own. The hold sum must be read
// by a later statement: under READ COMMITTED a statement's snapshot predates
// the lock wait, so a sum computed alongside the lock misses holds committed
// by the transaction that held it.
const lockBalanceQuery = `
	SELECT account_id, total_available, updated_at
	FROM account_balances
	WHERE account_id = $1
	FOR UPDATE
`

const heldQuery = `
	SELECT COALESCE(SUM(amount), 0)::BIGINT
	FROM credit_reservations
	WHERE account_id = $1 AND expires_at > now()
`

func (r *PostgresLedgerRepo) Reserve(ctx context.Context, res model.Reservation) (model.Balance, error) {
	var bal model.Balance
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var err error
		bal, err = reserveTx(ctx, tx, res)
		return err
	})
	return bal, err
}

func reserveTx(ctx context.Context, tx pgx.Tx, res model.Reservation) (model.Balance, error) {
	if res.Amount <= 0 {
		return model.Balance{}, errors.New("reservation amount must be > 0")
	}

	var bal model.Balance
	err := tx.QueryRow(ctx, lockBalanceQuery, res.AccountID).Scan(&bal.AccountID, &bal.TotalAvailable, &bal.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Balance{}, ErrAccountNotFound
	}
	if err != nil {
		return model.Balance{}, fmt.Errorf("lock balance: %w", err)
	}

	if err := tx.QueryRow(ctx, heldQuery, res.AccountID).Scan(&bal.Reserved); err != nil {
		return model.Balance{}, fmt.Errorf("sum reservations: %w", err)
	}
	if bal.Spendable() < res.Amount {
		return bal, ErrInsufficientCredit
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_reservations (id, account_id, amount, expires_at)
		VALUES ($1, $2, $3, $4)
	`, res.ID, res.AccountID, res.Amount, res.ExpiresAt.UTC()); err != nil {
		return model.Balance{}, fmt.Errorf("insert reservation: %w", err)
	}
	bal.Reserved += res.Amount
	return bal, nil
}

// ExtendReservation pushes a live hold's expiry forward. A hold that has
// already expired is not revived: its credit may have been reserved again.
func (r *PostgresLedgerRepo) ExtendReservation(ctx context.Context, reservationID string, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE credit_reservations
		SET expires_at = $2
		WHERE id = $1 AND expires_at > now()
	`, reservationID, expiresAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (r *PostgresLedgerRepo) Release(ctx context.Context, reservationID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM credit_reservations WHERE id = $1`, reservationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func (r *PostgresLedgerRepo) Settle(ctx context.Context, s model.Settlement) (model.HistoryEntry, int64, error) {
	if s.Debit < 0 {
		return model.HistoryEntry{}, 0, errors.New("debit must be >= 0")
	}

	entry := s.Entry
	var remaining int64
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE account_balances
			SET total_available = total_available - $2,
			    updated_at = now()
			WHERE account_id = $1 AND total_available >= $2
			RETURNING total_available
		`, s.AccountID, s.Debit).Scan(&remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("debit %d from account %d: %w", s.Debit, s.AccountID, ErrInsufficientCredit)
		}
		if err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		// The hold may already have been swept if the dispatch outlived its TTL.
		if _, err := tx.Exec(ctx, `DELETE FROM credit_reservations WHERE id = $1`, s.ReservationID); err != nil {
			return fmt.Errorf("drop reservation: %w", err)
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO dispatch_history
			    (dispatch_id, account_id, message, recipient_count, sms_used, sent_count, failed_count, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at
		`,
			entry.DispatchID,
			entry.AccountID,
			entry.Message,
			entry.RecipientCount,
			entry.SMSUsed,
			entry.SentCount,
			entry.FailedCount,
			string(entry.Status),
		).Scan(&entry.ID, &entry.CreatedAt); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.HistoryEntry{}, 0, err
	}
	return entry, remaining, nil
}

func (r *PostgresLedgerRepo) ExpireReservations(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM credit_reservations WHERE expires_at <= now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
