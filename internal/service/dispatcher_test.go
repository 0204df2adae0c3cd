package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
)

func recipients(n int) []model.Recipient {
	out := make([]model.Recipient, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.Recipient{ID: int64(i), AccountID: 1, Phone: phoneFor(int64(i))})
	}
	return out
}

func TestBatchIterator(t *testing.T) {
	t.Parallel()

	it := newBatchIterator(recipients(5), 2)

	var starts, sizes []int
	for {
		start, batch, ok := it.Next()
		if !ok {
			break
		}
		starts = append(starts, start)
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{0, 2, 4}, starts)
	assert.Equal(t, []int{2, 2, 1}, sizes)

	_, _, ok := newBatchIterator(nil, 3).Next()
	assert.False(t, ok)
}

func TestDispatcher_PerRecipient_MixedOutcome(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.failNumber(phoneFor(2), errors.New("unexpected status code: 500"))
	gw.failNumber(phoneFor(4), errors.New("connection reset"))

	d := NewDispatcher(gw, DispatcherConfig{Strategy: model.PerRecipient, BatchSize: 2, FanOut: 4}, quietLogger())
	in := recipients(5)

	out := d.Dispatch(context.Background(), in, "hello")

	require.Len(t, out.Results, len(in))
	for i, r := range out.Results {
		assert.Equal(t, in[i].ID, r.RecipientID, "outcome order must follow input order")
	}
	assert.Equal(t, 3, out.Sent())
	assert.Equal(t, 2, out.Failed())
	assert.Equal(t, model.Failed, out.Results[1].State)
	assert.Contains(t, out.Results[1].Reason, "500")
	assert.Equal(t, "remote-"+phoneFor(1), out.Results[0].RemoteMessageID)
	assert.Equal(t, 5, gw.callCount())
}

func TestDispatcher_PerRecipient_FanOutIsBounded(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.delay = 15 * time.Millisecond

	d := NewDispatcher(gw, DispatcherConfig{Strategy: model.PerRecipient, BatchSize: 100, FanOut: 3}, quietLogger())
	out := d.Dispatch(context.Background(), recipients(20), "hello")

	assert.Equal(t, 20, out.Sent())
	assert.LessOrEqual(t, gw.maxInFlight.Load(), int64(3))
	assert.Greater(t, gw.maxInFlight.Load(), int64(1), "expected concurrent calls within a batch")
}

func TestDispatcher_BatchesRunSequentially(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.delay = 10 * time.Millisecond

	d := NewDispatcher(gw, DispatcherConfig{Strategy: model.PerRecipient, BatchSize: 2, FanOut: 10}, quietLogger())
	out := d.Dispatch(context.Background(), recipients(7), "hello")

	assert.Equal(t, 7, out.Sent())
	assert.LessOrEqual(t, gw.maxInFlight.Load(), int64(2), "calls from different batches must not overlap")
}

func TestDispatcher_InterBatchDelay(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	d := NewDispatcher(gw, DispatcherConfig{
		Strategy:   model.PerRecipient,
		BatchSize:  1,
		FanOut:     1,
		BatchDelay: 30 * time.Millisecond,
	}, quietLogger())

	start := time.Now()
	out := d.Dispatch(context.Background(), recipients(3), "hello")

	assert.Equal(t, 3, out.Sent())
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestDispatcher_CallTimeoutIsFailedTimeout(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.delay = 300 * time.Millisecond

	d := NewDispatcher(gw, DispatcherConfig{
		Strategy:    model.PerRecipient,
		BatchSize:   10,
		FanOut:      2,
		CallTimeout: 20 * time.Millisecond,
	}, quietLogger())

	start := time.Now()
	out := d.Dispatch(context.Background(), recipients(2), "hello")

	assert.Less(t, time.Since(start), 250*time.Millisecond, "timed out calls must not be left pending")
	require.Len(t, out.Results, 2)
	for _, r := range out.Results {
		assert.Equal(t, model.Failed, r.State)
		assert.Equal(t, ReasonTimeout, r.Reason)
	}
}

func TestDispatcher_Bulk_AppliesCallResultToWholeBatch(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.failNumber(phoneFor(3), errors.New("rejected"))

	d := NewDispatcher(gw, DispatcherConfig{Strategy: model.Bulk, BatchSize: 2}, quietLogger())
	out := d.Dispatch(context.Background(), recipients(5), "hello")

	require.Equal(t, 3, gw.callCount(), "one call per batch")
	assert.Equal(t, []string{phoneFor(1), phoneFor(2)}, gw.calls[0])

	states := make([]model.DeliveryState, 0, 5)
	for _, r := range out.Results {
		states = append(states, r.State)
	}
	assert.Equal(t, []model.DeliveryState{model.Sent, model.Sent, model.Failed, model.Failed, model.Sent}, states)
	assert.Equal(t, "rejected", out.Results[3].Reason)
	assert.Equal(t, "remote-"+phoneFor(5), out.Results[4].RemoteMessageID)
}

func TestDispatcher_InvalidNumbersFailWithoutGatewayCall(t *testing.T) {
	t.Parallel()

	normalize := func(raw string) (string, error) {
		if strings.HasSuffix(raw, "2") {
			return "", errors.New("bad")
		}
		return raw, nil
	}

	for _, strategy := range []model.Strategy{model.PerRecipient, model.Bulk} {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()

			gw := newFakeGateway()
			d := NewDispatcher(gw, DispatcherConfig{Strategy: strategy, BatchSize: 10, FanOut: 2, Normalize: normalize}, quietLogger())

			out := d.Dispatch(context.Background(), recipients(3), "hello")

			require.Len(t, out.Results, 3)
			assert.Equal(t, model.Failed, out.Results[1].State)
			assert.Equal(t, ReasonInvalidNumber, out.Results[1].Reason)
			assert.Equal(t, 2, out.Sent())

			gw.mu.Lock()
			defer gw.mu.Unlock()
			for _, call := range gw.calls {
				assert.NotContains(t, call, phoneFor(2))
			}
		})
	}
}

func TestDispatcher_CanceledContextStillCoversEveryRecipient(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	d := NewDispatcher(gw, DispatcherConfig{Strategy: model.PerRecipient, BatchSize: 2, FanOut: 2}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := d.Dispatch(ctx, recipients(5), "hello")

	require.Len(t, out.Results, 5)
	assert.Equal(t, 0, gw.callCount())
	for _, r := range out.Results {
		assert.Equal(t, model.Failed, r.State)
		assert.Equal(t, ReasonCanceled, r.Reason)
	}
}

func TestDispatcher_Defaults(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(newFakeGateway(), DispatcherConfig{}, nil)
	assert.Equal(t, model.PerRecipient, d.Strategy())
	assert.Equal(t, 1000, d.cfg.BatchSize)
	assert.Equal(t, 1, d.cfg.FanOut)

	number, err := d.cfg.Normalize("  +15550001  ")
	require.NoError(t, err)
	assert.Equal(t, "+15550001", number)
}

func TestDispatcher_HooksRunBetweenBatches(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	d := NewDispatcher(gw, DispatcherConfig{Strategy: model.PerRecipient, BatchSize: 2, FanOut: 2}, quietLogger())

	var hookCalls int
	hook := func(context.Context) error {
		hookCalls++
		return nil
	}

	out := d.Dispatch(context.Background(), recipients(5), "hello", hook)

	assert.Equal(t, 5, out.Sent())
	assert.Equal(t, 2, hookCalls, "once before each batch after the first")
}

func TestDispatcher_HookErrorStopsRemainingBatches(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	d := NewDispatcher(gw, DispatcherConfig{Strategy: model.Bulk, BatchSize: 2}, quietLogger())

	hook := func(context.Context) error { return errors.New("reservation not found") }

	out := d.Dispatch(context.Background(), recipients(5), "hello", hook)

	require.Len(t, out.Results, 5)
	assert.Equal(t, 1, gw.callCount())
	assert.Equal(t, 2, out.Sent())
	for _, r := range out.Results[2:] {
		assert.Equal(t, model.Failed, r.State)
		assert.Equal(t, ReasonHoldLost, r.Reason)
	}
}
