package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LeventeLantos/credit-dispatch/internal/model"
	"github.com/LeventeLantos/credit-dispatch/internal/repo"
)

var (
	_ repo.RecipientRepository = (*memStore)(nil)
	_ repo.LedgerRepository    = (*memStore)(nil)
	_ repo.HistoryRepository   = (*memStore)(nil)
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore mirrors the Postgres repositories: one mutex plays the part of
// the balance row lock.
type memStore struct {
	mu sync.Mutex

	recipients   []model.Recipient
	balances     map[int64]int64
	reservations map[string]model.Reservation
	history      []model.HistoryEntry

	settleErr error
	listErr   error
	listCalls int
	extends   int
}

func newMemStore() *memStore {
	return &memStore{
		balances:     map[int64]int64{},
		reservations: map[string]model.Reservation{},
	}
}

func (m *memStore) addRecipients(accountID int64, n int) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id := int64(len(m.recipients) + 1)
		m.recipients = append(m.recipients, model.Recipient{
			ID:        id,
			AccountID: accountID,
			Name:      "contact",
			Phone:     phoneFor(id),
		})
		ids = append(ids, id)
	}
	return ids
}

func phoneFor(id int64) string {
	return fmt.Sprintf("+1555%07d", id)
}

func (m *memStore) setBalance(accountID, credit int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[accountID] = credit
}

func (m *memStore) balance(accountID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountID]
}

func (m *memStore) reservationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reservations)
}

func (m *memStore) historyEntries() []model.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.HistoryEntry(nil), m.history...)
}

func (m *memStore) FindByIDs(_ context.Context, accountID int64, ids []int64) ([]model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := map[int64]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []model.Recipient
	for _, rc := range m.recipients {
		if rc.AccountID == accountID && want[rc.ID] {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (m *memStore) ListPage(_ context.Context, accountID, afterID int64, limit int) ([]model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Recipient
	for _, rc := range m.recipients {
		if rc.AccountID == accountID && rc.ID > afterID {
			out = append(out, rc)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) heldLocked(accountID int64) int64 {
	var held int64
	now := time.Now()
	for _, r := range m.reservations {
		if r.AccountID == accountID && r.ExpiresAt.After(now) {
			held += r.Amount
		}
	}
	return held
}

func (m *memStore) GetBalance(_ context.Context, accountID int64) (model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, ok := m.balances[accountID]
	if !ok {
		return model.Balance{}, repo.ErrAccountNotFound
	}
	return model.Balance{AccountID: accountID, TotalAvailable: total, Reserved: m.heldLocked(accountID)}, nil
}

func (m *memStore) Reserve(_ context.Context, r model.Reservation) (model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	total, ok := m.balances[r.AccountID]
	if !ok {
		return model.Balance{}, repo.ErrAccountNotFound
	}
	bal := model.Balance{AccountID: r.AccountID, TotalAvailable: total, Reserved: m.heldLocked(r.AccountID)}
	if bal.Spendable() < r.Amount {
		return bal, repo.ErrInsufficientCredit
	}
	m.reservations[r.ID] = r
	bal.Reserved += r.Amount
	return bal, nil
}

func (m *memStore) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reservations[id]; !ok {
		return repo.ErrReservationNotFound
	}
	delete(m.reservations, id)
	return nil
}

func (m *memStore) ExtendReservation(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || !r.ExpiresAt.After(time.Now()) {
		return repo.ErrReservationNotFound
	}
	r.ExpiresAt = expiresAt
	m.reservations[id] = r
	m.extends++
	return nil
}

// dropReservations simulates every hold being swept or lost.
func (m *memStore) dropReservations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.reservations)
}

func (m *memStore) Settle(_ context.Context, s model.Settlement) (model.HistoryEntry, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settleErr != nil {
		return model.HistoryEntry{}, 0, m.settleErr
	}
	total := m.balances[s.AccountID]
	if total < s.Debit {
		return model.HistoryEntry{}, 0, repo.ErrInsufficientCredit
	}
	m.balances[s.AccountID] = total - s.Debit
	delete(m.reservations, s.ReservationID)

	e := s.Entry
	e.ID = int64(len(m.history) + 1)
	e.CreatedAt = time.Now().UTC()
	m.history = append(m.history, e)
	return e, total - s.Debit, nil
}

func (m *memStore) ExpireReservations(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	now := time.Now()
	for id, r := range m.reservations {
		if !r.ExpiresAt.After(now) {
			delete(m.reservations, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListHistory(_ context.Context, accountID int64, limit, offset int) ([]model.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var mine []model.HistoryEntry
	for _, e := range m.history {
		if e.AccountID == accountID {
			mine = append(mine, e)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].ID > mine[j].ID })
	if offset >= len(mine) {
		return nil, nil
	}
	return mine[offset:min(offset+limit, len(mine))], nil
}

func (m *memStore) CountHistory(_ context.Context, accountID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.history {
		if e.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

// fakeGateway records calls and fails numbers listed in fail.
type fakeGateway struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]error
	delay time.Duration
	// onSend runs at the start of every call.
	onSend func()

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{fail: map[string]error{}}
}

func (g *fakeGateway) failNumber(number string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[number] = err
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGateway) Send(ctx context.Context, numbers []string, message string) (string, error) {
	cur := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		prev := g.maxInFlight.Load()
		if cur <= prev || g.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	g.mu.Lock()
	g.calls = append(g.calls, append([]string(nil), numbers...))
	onSend := g.onSend
	g.mu.Unlock()

	if onSend != nil {
		onSend()
	}

	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.delay):
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range numbers {
		if err := g.fail[n]; err != nil {
			return "", err
		}
	}
	return "remote-" + numbers[0], nil
}
