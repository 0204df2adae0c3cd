package service

import (
	"context"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
	"github.com/LeventeLantos/credit-dispatch/internal/repo"
)

// Resolver turns a selection into the concrete recipient list of one account.
type Resolver struct {
	recipients    repo.RecipientRepository
	pageSize      int
	maxRecipients int
}

func NewResolver(recipients repo.RecipientRepository, pageSize, maxRecipients int) *Resolver {
	if pageSize <= 0 {
		pageSize = 500
	}
	if maxRecipients <= 0 {
		maxRecipients = 10000
	}
	return &Resolver{
		recipients:    recipients,
		pageSize:      pageSize,
		maxRecipients: maxRecipients,
	}
}

func (r *Resolver) Resolve(ctx context.Context, accountID int64, sel model.Selection) ([]model.Recipient, error) {
	var (
		out []model.Recipient
		err error
	)
	switch sel.Mode {
	case model.SelectExplicit:
		out, err = r.resolveExplicit(ctx, accountID, sel.IDs)
	case model.SelectAll:
		out, err = r.resolveAll(ctx, accountID)
	default:
		return nil, invalidRequest("unknown selection mode %q", sel.Mode)
	}
	if err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return nil, &DispatchError{Kind: KindEmptySelection, State: StateResolving}
	}
	return out, nil
}

func (r *Resolver) resolveExplicit(ctx context.Context, accountID int64, ids []int64) ([]model.Recipient, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > r.maxRecipients {
		return nil, r.tooMany(len(ids))
	}

	found, err := r.recipients.FindByIDs(ctx, accountID, ids)
	if err != nil {
		return nil, persistenceFailure(StateResolving, "find recipients", err)
	}

	byID := make(map[int64]model.Recipient, len(found))
	for _, rc := range found {
		if rc.AccountID == accountID {
			byID[rc.ID] = rc
		}
	}
	if len(byID) != len(ids) {
		return nil, &DispatchError{
			Kind:      KindSelectionMismatch,
			State:     StateResolving,
			Requested: len(ids),
			Found:     len(byID),
		}
	}

	out := make([]model.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out, nil
}

func (r *Resolver) resolveAll(ctx context.Context, accountID int64) ([]model.Recipient, error) {
	var (
		out     []model.Recipient
		afterID int64
	)
	for {
		page, err := r.recipients.ListPage(ctx, accountID, afterID, r.pageSize)
		if err != nil {
			return nil, persistenceFailure(StateResolving, "list recipients", err)
		}
		out = append(out, page...)
		if len(out) > r.maxRecipients {
			return nil, r.tooMany(len(out))
		}
		if len(page) < r.pageSize {
			return out, nil
		}
		afterID = page[len(page)-1].ID
	}
}

func (r *Resolver) tooMany(found int) *DispatchError {
	return &DispatchError{
		Kind:  KindTooManyRecipients,
		State: StateResolving,
		Limit: r.maxRecipients,
		Found: found,
	}
}

// dedupe keeps the first occurrence of every id.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
