package repo

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

type PostgresHistoryRepo struct {
	db *pgxpool.Pool
}

func NewPostgresHistoryRepo(db *pgxpool.Pool) *PostgresHistoryRepo {
	return &PostgresHistoryRepo{db: db}
}

func (r *PostgresHistoryRepo) ListHistory(ctx context.Context, accountID int64, limit, offset int) ([]model.HistoryEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, dispatch_id::text, account_id, message, recipient_count,
		       sms_used, sent_count, failed_count, status, created_at
		FROM dispatch_history
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.HistoryEntry, error) {
		var e model.HistoryEntry
		var status string
		err := row.Scan(
			&e.ID,
			&e.DispatchID,
			&e.AccountID,
			&e.Message,
			&e.RecipientCount,
			&e.SMSUsed,
			&e.SentCount,
			&e.FailedCount,
			&status,
			&e.CreatedAt,
		)
		e.Status = model.HistoryStatus(status)
		return e, err
	})
}

func (r *PostgresHistoryRepo) CountHistory(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM dispatch_history WHERE account_id = $1`, accountID).Scan(&n)
	return n, err
}
