// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/yield-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements engine.TxStore. Every method takes the mutex; WithTx
// holds it for the whole callback and hands fn a lock-free view.
type Memory struct {
	mu    sync.Mutex
	state *state
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

var _ engine.TxStore = (*Memory)(nil)

// WithTx executes fn within a transaction.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(m.state); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// Reset drops all data except settings.
func (m *Memory) Reset(_ context.Context) error {
	defer m.locked()()
	settings := m.state.settings
	m.state = newState()
	m.state.settings = settings
	return nil
}

func (m *Memory) locked() func() {
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Memory) CreateUser(ctx context.Context, u engine.User) (engine.User, error) {
	defer m.locked()()
	return m.state.CreateUser(ctx, u)
}

func (m *Memory) GetUser(ctx context.Context, id engine.UserID) (engine.User, error) {
	defer m.locked()()
	return m.state.GetUser(ctx, id)
}

func (m *Memory) GetUserByPhone(ctx context.Context, phone string) (engine.User, error) {
	defer m.locked()()
	return m.state.GetUserByPhone(ctx, phone)
}

func (m *Memory) ListUsers(ctx context.Context) ([]engine.User, error) {
	defer m.locked()()
	return m.state.ListUsers(ctx)
}

func (m *Memory) UpdateUserBalances(ctx context.Context, id engine.UserID, balance, earnings engine.Amount) error {
	defer m.locked()()
	return m.state.UpdateUserBalances(ctx, id, balance, earnings)
}

func (m *Memory) UpdateUserPassword(ctx context.Context, id engine.UserID, hash string) error {
	defer m.locked()()
	return m.state.UpdateUserPassword(ctx, id, hash)
}

func (m *Memory) UpdateUserWallet(ctx context.Context, id engine.UserID, wallet string) error {
	defer m.locked()()
	return m.state.UpdateUserWallet(ctx, id, wallet)
}

func (m *Memory) DeleteUser(ctx context.Context, id engine.UserID) error {
	defer m.locked()()
	return m.state.DeleteUser(ctx, id)
}

func (m *Memory) CreateProduct(ctx context.Context, p engine.Product) (engine.Product, error) {
	defer m.locked()()
	return m.state.CreateProduct(ctx, p)
}

func (m *Memory) GetProduct(ctx context.Context, id engine.ProductID) (engine.Product, error) {
	defer m.locked()()
	return m.state.GetProduct(ctx, id)
}

func (m *Memory) ListProducts(ctx context.Context) ([]engine.Product, error) {
	defer m.locked()()
	return m.state.ListProducts(ctx)
}

func (m *Memory) CreatePurchase(ctx context.Context, p engine.Purchase) (engine.Purchase, error) {
	defer m.locked()()
	return m.state.CreatePurchase(ctx, p)
}

func (m *Memory) GetPurchase(ctx context.Context, id engine.PurchaseID) (engine.Purchase, error) {
	defer m.locked()()
	return m.state.GetPurchase(ctx, id)
}

func (m *Memory) ListPurchases(ctx context.Context, f engine.PurchaseFilter) ([]engine.Purchase, error) {
	defer m.locked()()
	return m.state.ListPurchases(ctx, f)
}

func (m *Memory) UpdatePurchase(ctx context.Context, p engine.Purchase, expect engine.PurchaseGuard) error {
	defer m.locked()()
	return m.state.UpdatePurchase(ctx, p, expect)
}

func (m *Memory) CreateRecharge(ctx context.Context, r engine.Recharge) (engine.Recharge, error) {
	defer m.locked()()
	return m.state.CreateRecharge(ctx, r)
}

func (m *Memory) GetRecharge(ctx context.Context, id engine.RechargeID) (engine.Recharge, error) {
	defer m.locked()()
	return m.state.GetRecharge(ctx, id)
}

func (m *Memory) ListRecharges(ctx context.Context, f engine.RequestFilter) ([]engine.Recharge, error) {
	defer m.locked()()
	return m.state.ListRecharges(ctx, f)
}

func (m *Memory) TransitionRecharge(ctx context.Context, id engine.RechargeID, to engine.Status, at time.Time) error {
	defer m.locked()()
	return m.state.TransitionRecharge(ctx, id, to, at)
}

func (m *Memory) CreateWithdrawal(ctx context.Context, w engine.Withdrawal) (engine.Withdrawal, error) {
	defer m.locked()()
	return m.state.CreateWithdrawal(ctx, w)
}

func (m *Memory) GetWithdrawal(ctx context.Context, id engine.WithdrawalID) (engine.Withdrawal, error) {
	defer m.locked()()
	return m.state.GetWithdrawal(ctx, id)
}

func (m *Memory) ListWithdrawals(ctx context.Context, f engine.RequestFilter) ([]engine.Withdrawal, error) {
	defer m.locked()()
	return m.state.ListWithdrawals(ctx, f)
}

func (m *Memory) TransitionWithdrawal(ctx context.Context, id engine.WithdrawalID, to engine.Status, at time.Time) error {
	defer m.locked()()
	return m.state.TransitionWithdrawal(ctx, id, to, at)
}

func (m *Memory) GetSetting(ctx context.Context, key string) (engine.Setting, error) {
	defer m.locked()()
	return m.state.GetSetting(ctx, key)
}

func (m *Memory) SetSetting(ctx context.Context, key, value string) error {
	defer m.locked()()
	return m.state.SetSetting(ctx, key, value)
}

func (m *Memory) ListSettings(ctx context.Context) ([]engine.Setting, error) {
	defer m.locked()()
	return m.state.ListSettings(ctx)
}

func (m *Memory) AppendEntry(ctx context.Context, e engine.Entry) error {
	defer m.locked()()
	return m.state.AppendEntry(ctx, e)
}

func (m *Memory) ListEntries(ctx context.Context, userID engine.UserID) ([]engine.Entry, error) {
	defer m.locked()()
	return m.state.ListEntries(ctx, userID)
}

// =============================================================================
// STATE - Lock-free engine.Store over plain maps
// =============================================================================

type state struct {
	seq         int64
	users       map[engine.UserID]engine.User
	products    map[engine.ProductID]engine.Product
	purchases   map[engine.PurchaseID]engine.Purchase
	recharges   map[engine.RechargeID]engine.Recharge
	withdrawals map[engine.WithdrawalID]engine.Withdrawal
	settings    map[string]engine.Setting
	entries     []engine.Entry
	idempotency map[string]bool
}

var _ engine.Store = (*state)(nil)

func newState() *state {
	return &state{
		users:       make(map[engine.UserID]engine.User),
		products:    make(map[engine.ProductID]engine.Product),
		purchases:   make(map[engine.PurchaseID]engine.Purchase),
		recharges:   make(map[engine.RechargeID]engine.Recharge),
		withdrawals: make(map[engine.WithdrawalID]engine.Withdrawal),
		settings:    make(map[string]engine.Setting),
		idempotency: make(map[string]bool),
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.recharges {
		c.recharges[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	c.entries = append([]engine.Entry{}, s.entries...)
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

func notFound(kind string, id any) error {
	return &engine.NotFoundError{Kind: kind, ID: id}
}

// Users

func (s *state) CreateUser(_ context.Context, u engine.User) (engine.User, error) {
	for _, existing := range s.users {
		if existing.Phone == u.Phone {
			return engine.User{}, engine.ErrPhoneTaken
		}
	}
	u.ID = engine.UserID(s.next())
	s.users[u.ID] = u
	return u, nil
}

func (s *state) GetUser(_ context.Context, id engine.UserID) (engine.User, error) {
	u, ok := s.users[id]
	if !ok {
		return engine.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *state) GetUserByPhone(_ context.Context, phone string) (engine.User, error) {
	for _, u := range s.users {
		if u.Phone == phone {
			return u, nil
		}
	}
	return engine.User{}, notFound("user", phone)
}

func (s *state) ListUsers(_ context.Context) ([]engine.User, error) {
	out := make([]engine.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) UpdateUserBalances(_ context.Context, id engine.UserID, balance, earnings engine.Amount) error {
	u, ok := s.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.Balance = balance
	u.Earnings = earnings
	s.users[id] = u
	return nil
}

func (s *state) UpdateUserPassword(_ context.Context, id engine.UserID, hash string) error {
	u, ok := s.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.PasswordHash = hash
	s.users[id] = u
	return nil
}

func (s *state) UpdateUserWallet(_ context.Context, id engine.UserID, wallet string) error {
	u, ok := s.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.WalletAddress = wallet
	s.users[id] = u
	return nil
}

func (s *state) DeleteUser(_ context.Context, id engine.UserID) error {
	if _, ok := s.users[id]; !ok {
		return notFound("user", id)
	}
	delete(s.users, id)
	for k, p := range s.purchases {
		if p.UserID == id {
			delete(s.purchases, k)
		}
	}
	for k, r := range s.recharges {
		if r.UserID == id {
			delete(s.recharges, k)
		}
	}
	for k, w := range s.withdrawals {
		if w.UserID == id {
			delete(s.withdrawals, k)
		}
	}
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.UserID == id {
			delete(s.idempotency, e.IdempotencyKey)
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return nil
}

// Products

func (s *state) CreateProduct(_ context.Context, p engine.Product) (engine.Product, error) {
	p.ID = engine.ProductID(s.next())
	s.products[p.ID] = p
	return p, nil
}

func (s *state) GetProduct(_ context.Context, id engine.ProductID) (engine.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return engine.Product{}, notFound("product", id)
	}
	return p, nil
}

func (s *state) ListProducts(_ context.Context) ([]engine.Product, error) {
	out := make([]engine.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Purchases

func (s *state) CreatePurchase(_ context.Context, p engine.Purchase) (engine.Purchase, error) {
	if _, ok := s.users[p.UserID]; !ok {
		return engine.Purchase{}, notFound("user", p.UserID)
	}
	p.ID = engine.PurchaseID(s.next())
	s.purchases[p.ID] = p
	return p, nil
}

func (s *state) GetPurchase(_ context.Context, id engine.PurchaseID) (engine.Purchase, error) {
	p, ok := s.purchases[id]
	if !ok {
		return engine.Purchase{}, notFound("purchase", id)
	}
	return p, nil
}

func (s *state) ListPurchases(_ context.Context, f engine.PurchaseFilter) ([]engine.Purchase, error) {
	var out []engine.Purchase
	for _, p := range s.purchases {
		if f.UserID != 0 && p.UserID != f.UserID {
			continue
		}
		if f.ActiveOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *state) UpdatePurchase(_ context.Context, p engine.Purchase, expect engine.PurchaseGuard) error {
	cur, ok := s.purchases[p.ID]
	if !ok {
		return notFound("purchase", p.ID)
	}
	if cur.RemainingDays != expect.RemainingDays || !cur.NextPayoutDate.Equal(expect.NextPayoutDate) {
		return engine.ErrConcurrentModification
	}
	s.purchases[p.ID] = p
	return nil
}

// Recharges

func (s *state) CreateRecharge(_ context.Context, r engine.Recharge) (engine.Recharge, error) {
	if _, ok := s.users[r.UserID]; !ok {
		return engine.Recharge{}, notFound("user", r.UserID)
	}
	r.ID = engine.RechargeID(s.next())
	s.recharges[r.ID] = r
	return r, nil
}

func (s *state) GetRecharge(_ context.Context, id engine.RechargeID) (engine.Recharge, error) {
	r, ok := s.recharges[id]
	if !ok {
		return engine.Recharge{}, notFound("recharge", id)
	}
	return r, nil
}

func (s *state) ListRecharges(_ context.Context, f engine.RequestFilter) ([]engine.Recharge, error) {
	var out []engine.Recharge
	for _, r := range s.recharges {
		if (f.UserID == 0 || r.UserID == f.UserID) && (f.Status == "" || r.Status == f.Status) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *state) TransitionRecharge(_ context.Context, id engine.RechargeID, to engine.Status, at time.Time) error {
	r, ok := s.recharges[id]
	if !ok {
		return notFound("recharge", id)
	}
	if r.Status != engine.StatusPending {
		return &engine.AlreadySettledError{Kind: "recharge", ID: id, Status: r.Status}
	}
	r.Status = to
	r.DecidedAt = &at
	s.recharges[id] = r
	return nil
}

// Withdrawals

func (s *state) CreateWithdrawal(_ context.Context, w engine.Withdrawal) (engine.Withdrawal, error) {
	if _, ok := s.users[w.UserID]; !ok {
		return engine.Withdrawal{}, notFound("user", w.UserID)
	}
	w.ID = engine.WithdrawalID(s.next())
	s.withdrawals[w.ID] = w
	return w, nil
}

func (s *state) GetWithdrawal(_ context.Context, id engine.WithdrawalID) (engine.Withdrawal, error) {
	w, ok := s.withdrawals[id]
	if !ok {
		return engine.Withdrawal{}, notFound("withdrawal", id)
	}
	return w, nil
}

func (s *state) ListWithdrawals(_ context.Context, f engine.RequestFilter) ([]engine.Withdrawal, error) {
	var out []engine.Withdrawal
	for _, w := range s.withdrawals {
		if (f.UserID == 0 || w.UserID == f.UserID) && (f.Status == "" || w.Status == f.Status) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *state) TransitionWithdrawal(_ context.Context, id engine.WithdrawalID, to engine.Status, at time.Time) error {
	w, ok := s.withdrawals[id]
	if !ok {
		return notFound("withdrawal", id)
	}
	if w.Status != engine.StatusPending {
		return &engine.AlreadySettledError{Kind: "withdrawal", ID: id, Status: w.Status}
	}
	w.Status = to
	w.DecidedAt = &at
	s.withdrawals[id] = w
	return nil
}

// Settings

func (s *state) GetSetting(_ context.Context, key string) (engine.Setting, error) {
	st, ok := s.settings[key]
	if !ok {
		return engine.Setting{}, notFound("setting", key)
	}
	return st, nil
}

func (s *state) SetSetting(_ context.Context, key, value string) error {
	s.settings[key] = engine.Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (s *state) ListSettings(_ context.Context) ([]engine.Setting, error) {
	out := make([]engine.Setting, 0, len(s.settings))
	for _, st := range s.settings {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Entries

func (s *state) AppendEntry(_ context.Context, e engine.Entry) error {
	if e.IdempotencyKey != "" {
		if s.idempotency[e.IdempotencyKey] {
			return engine.ErrDuplicateIdempotencyKey
		}
		s.idempotency[e.IdempotencyKey] = true
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *state) ListEntries(_ context.Context, userID engine.UserID) ([]engine.Entry, error) {
	var out []engine.Entry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}
