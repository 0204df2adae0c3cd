package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

type PostgresRecipientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRecipientRepo(db *pgxpool.Pool) *PostgresRecipientRepo {
	return &PostgresRecipientRepo{db: db}
}

func (r *PostgresRecipientRepo) FindByIDs(ctx context.Context, accountID int64, ids []int64) ([]model.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, name, phone
		FROM recipients
		WHERE account_id = $1 AND id = ANY($2)
		ORDER BY id ASC
	`, accountID, ids)
	if err != nil {
		return nil, err
	}
	return collectRecipients(rows)
}

func (r *PostgresRecipientRepo) ListPage(ctx context.Context, accountID, afterID int64, limit int) ([]model.Recipient, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, name, phone
		FROM recipients
		WHERE account_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, accountID, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectRecipients(rows)
}

func collectRecipients(rows pgx.Rows) ([]model.Recipient, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Recipient, error) {
		var rc model.Recipient
		err := row.Scan(&rc.ID, &rc.AccountID, &rc.Name, &rc.Phone)
		return rc, err
	})
}
