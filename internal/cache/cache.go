package cache

import (
	"context"
	"errors"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

var ErrMiss = errors.New("cache miss")

// DispatchCache keeps recent dispatch results, including per-recipient
// detail that the history table does not store.
type DispatchCache interface {
	StoreDispatch(ctx context.Context, result model.DispatchResult) error
	LoadDispatch(ctx context.Context, dispatchID string) (model.DispatchResult, error)
}
