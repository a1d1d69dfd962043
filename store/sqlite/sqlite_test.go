/*
sqlite_test.go - Store-level tests against an in-memory database

Tests for:
- Purchase guard rejects stale settlement writes
- Conditional moderation transitions, newest-first listing
- Concurrent settlement across handles credits once
- Unique phone and idempotency key mapping
- Cascade on user delete, settings upsert, Reset keeps settings
*/
package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/yield-engine/engine"
	"github.com/warp/yield-engine/store/sqlite"
)

var t0 = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *sqlite.Store, phone string) engine.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), engine.User{
		Phone:        phone,
		PasswordHash: "h",
		Balance:      engine.MustParseAmount("100"),
		Earnings:     engine.ZeroAmount(),
		CreatedAt:    t0,
	})
	require.NoError(t, err)
	return u
}

func seedPurchase(t *testing.T, store *sqlite.Store, userID engine.UserID) (engine.Product, engine.Purchase) {
	t.Helper()
	ctx := context.Background()
	prod, err := store.CreateProduct(ctx, engine.Product{
		Name:         "Starter",
		Price:        engine.MustParseAmount("150"),
		Rate:         engine.DefaultPercentageRate(),
		DurationDays: 20,
		CreatedAt:    t0,
	})
	require.NoError(t, err)
	p, err := store.CreatePurchase(ctx, engine.Purchase{
		UserID:         userID,
		ProductID:      prod.ID,
		PurchasedAt:    t0,
		NextPayoutDate: engine.NewDay(2024, time.January, 2),
		RemainingDays:  20,
		Active:         true,
		TotalEarned:    engine.ZeroAmount(),
		CreatedAt:      t0,
	})
	require.NoError(t, err)
	return prod, p
}

// =============================================================================
// USERS
// =============================================================================

func TestUser_RoundTripAndDuplicatePhone(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")

	got, err := store.GetUserByPhone(ctx, "0711")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.True(t, got.Balance.Equal(engine.MustParseAmount("100")))
	assert.True(t, got.CreatedAt.Equal(t0))

	_, err = store.CreateUser(ctx, engine.User{Phone: "0711", PasswordHash: "x", CreatedAt: t0})
	assert.ErrorIs(t, err, engine.ErrPhoneTaken)

	_, err = store.GetUser(ctx, 999)
	assert.True(t, engine.IsNotFound(err))

	err = store.UpdateUserWallet(ctx, 999, "w")
	assert.True(t, engine.IsNotFound(err))
}

func TestUser_BalancesKeepPrecision(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")

	require.NoError(t, store.UpdateUserBalances(ctx, u.ID,
		engine.MustParseAmount("0.30"), engine.MustParseAmount("1234567.89")))

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(engine.MustParseAmount("0.3")))
	assert.True(t, got.Earnings.Equal(engine.MustParseAmount("1234567.89")))
}

func TestDeleteUser_Cascades(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")
	other := seedUser(t, store, "0722")
	_, p := seedPurchase(t, store, u.ID)
	_, err := store.CreateRecharge(ctx, engine.Recharge{UserID: u.ID, Amount: engine.MustParseAmount("5"), Status: engine.StatusPending, CreatedAt: t0})
	require.NoError(t, err)
	require.NoError(t, store.AppendEntry(ctx, engine.Entry{
		ID: "e1", UserID: u.ID, Type: engine.EntryRecharge,
		Delta: engine.MustParseAmount("5"), BalanceAfter: engine.MustParseAmount("5"),
		IdempotencyKey: "recharge:1", CreatedAt: t0,
	}))

	require.NoError(t, store.DeleteUser(ctx, u.ID))

	_, err = store.GetPurchase(ctx, p.ID)
	assert.True(t, engine.IsNotFound(err))
	recharges, err := store.ListRecharges(ctx, engine.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, recharges)
	entries, err := store.ListEntries(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = store.GetUser(ctx, other.ID)
	assert.NoError(t, err)

	assert.True(t, engine.IsNotFound(store.DeleteUser(ctx, u.ID)))
}

// =============================================================================
// PRODUCTS & PURCHASES
// =============================================================================

func TestProduct_RatePolicyRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	fixed, err := store.CreateProduct(ctx, engine.Product{
		Name:         "Premium",
		Price:        engine.MustParseAmount("2000"),
		Rate:         engine.FixedRate{PerDay: engine.MustParseAmount("350")},
		DurationDays: 90,
		CreatedAt:    t0,
	})
	require.NoError(t, err)

	got, err := store.GetProduct(ctx, fixed.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.RateFixed, got.Rate.Kind())
	assert.True(t, got.DailyRate().Equal(engine.MustParseAmount("350")))

	pct, err := store.CreateProduct(ctx, engine.Product{
		Name:         "Starter",
		Price:        engine.MustParseAmount("150"),
		Rate:         engine.PercentageRate{Percent: decimal.RequireFromString("12.5")},
		DurationDays: 30,
		CreatedAt:    t0,
	})
	require.NoError(t, err)
	got, err = store.GetProduct(ctx, pct.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.RatePercentage, got.Rate.Kind())
	assert.True(t, got.DailyRate().Equal(engine.MustParseAmount("18.75")))

	all, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPurchase_UnknownUser(t *testing.T) {
	store := newStore(t)
	u := seedUser(t, store, "0711")
	prod, _ := seedPurchase(t, store, u.ID)

	_, err := store.CreatePurchase(context.Background(), engine.Purchase{
		UserID: 999, ProductID: prod.ID, PurchasedAt: t0, RemainingDays: 1, Active: true, CreatedAt: t0,
	})
	assert.True(t, engine.IsNotFound(err))
}

func TestUpdatePurchase_GuardRejectsStaleWrite(t *testing.T) {
	// GIVEN: Two readers of the same purchase
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")
	prod, p := seedPurchase(t, store, u.ID)

	today := engine.NewDay(2024, time.January, 5)
	first := engine.Settle(p, &prod, today)
	require.True(t, first.Changed)

	// WHEN: The first commits, the second writes with the old guard
	require.NoError(t, store.UpdatePurchase(ctx, first.Purchase, p.Guard()))
	err := store.UpdatePurchase(ctx, first.Purchase, p.Guard())

	// THEN: Conflict, stored state is the first writer's
	assert.ErrorIs(t, err, engine.ErrConcurrentModification)
	got, err := store.GetPurchase(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 16, got.RemainingDays)
	assert.True(t, got.NextPayoutDate.Equal(engine.NewDay(2024, time.January, 6)))
	assert.True(t, got.TotalEarned.Equal(engine.MustParseAmount("120")))

	// Unknown purchase is not a conflict
	first.Purchase.ID = 999
	assert.True(t, engine.IsNotFound(store.UpdatePurchase(ctx, first.Purchase, p.Guard())))
}

func TestListPurchases_ActiveOnly(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")
	prod, p := seedPurchase(t, store, u.ID)

	done := engine.Settle(p, &prod, engine.NewDay(2024, time.March, 1))
	require.False(t, done.Purchase.Active)
	require.NoError(t, store.UpdatePurchase(ctx, done.Purchase, p.Guard()))

	active, err := store.ListPurchases(ctx, engine.PurchaseFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := store.ListPurchases(ctx, engine.PurchaseFilter{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 0, all[0].RemainingDays)
}

// =============================================================================
// MODERATION
// =============================================================================

func TestTransitionRecharge_OnlyFromPending(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")
	r, err := store.CreateRecharge(ctx, engine.Recharge{UserID: u.ID, Amount: engine.MustParseAmount("5"), Status: engine.StatusPending, CreatedAt: t0})
	require.NoError(t, err)

	require.NoError(t, store.TransitionRecharge(ctx, r.ID, engine.StatusRejected, t0))

	err = store.TransitionRecharge(ctx, r.ID, engine.StatusApproved, t0)
	var settled *engine.AlreadySettledError
	require.True(t, errors.As(err, &settled))
	assert.Equal(t, engine.StatusRejected, settled.Status)

	got, err := store.GetRecharge(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRejected, got.Status)
	require.NotNil(t, got.DecidedAt)

	assert.True(t, engine.IsNotFound(store.TransitionRecharge(ctx, 999, engine.StatusApproved, t0)))
}

func TestTransitionWithdrawal_OnlyFromPending(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")
	w, err := store.CreateWithdrawal(ctx, engine.Withdrawal{UserID: u.ID, Amount: engine.MustParseAmount("50"), WalletAddress: "TW", Status: engine.StatusPending, CreatedAt: t0})
	require.NoError(t, err)

	require.NoError(t, store.TransitionWithdrawal(ctx, w.ID, engine.StatusApproved, t0))
	assert.ErrorIs(t, store.TransitionWithdrawal(ctx, w.ID, engine.StatusRejected, t0), engine.ErrAlreadySettled)

	pending, err := store.ListWithdrawals(ctx, engine.RequestFilter{Status: engine.StatusPending})
	require.NoError(t, err)
	assert.Empty(t, pending)
	approved, err := store.ListWithdrawals(ctx, engine.RequestFilter{UserID: u.ID, Status: engine.StatusApproved})
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, "TW", approved[0].WalletAddress)
}

func TestListRequests_NewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")

	var rechargeIDs []engine.RechargeID
	var withdrawalIDs []engine.WithdrawalID
	for i := 0; i < 3; i++ {
		r, err := store.CreateRecharge(ctx, engine.Recharge{UserID: u.ID, Amount: engine.MustParseAmount("5"), Status: engine.StatusPending, CreatedAt: t0})
		require.NoError(t, err)
		rechargeIDs = append(rechargeIDs, r.ID)
		w, err := store.CreateWithdrawal(ctx, engine.Withdrawal{UserID: u.ID, Amount: engine.MustParseAmount("10"), WalletAddress: "TW", Status: engine.StatusPending, CreatedAt: t0})
		require.NoError(t, err)
		withdrawalIDs = append(withdrawalIDs, w.ID)
	}

	recharges, err := store.ListRecharges(ctx, engine.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, recharges, 3)
	assert.Equal(t, []engine.RechargeID{rechargeIDs[2], rechargeIDs[1], rechargeIDs[0]},
		[]engine.RechargeID{recharges[0].ID, recharges[1].ID, recharges[2].ID})

	withdrawals, err := store.ListWithdrawals(ctx, engine.RequestFilter{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, withdrawals, 3)
	assert.Equal(t, []engine.WithdrawalID{withdrawalIDs[2], withdrawalIDs[1], withdrawalIDs[0]},
		[]engine.WithdrawalID{withdrawals[0].ID, withdrawals[1].ID, withdrawals[2].ID})
}

// =============================================================================
// CONCURRENT SETTLEMENT
// =============================================================================

func TestAccrueAll_ConcurrentHandles_CreditOnce(t *testing.T) {
	// GIVEN: Two handles on one database file and a purchase 9 days behind
	path := filepath.Join(t.TempDir(), "yield.db")
	first, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { first.Close() })
	second, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	ctx := context.Background()
	u := seedUser(t, first, "0711")
	seedPurchase(t, first, u.ID)
	today := engine.NewDay(2024, time.January, 10)

	// WHEN: 20 dashboard loads race across both handles
	accruers := []*engine.Accruer{
		engine.NewAccruer(first, nil, nil),
		engine.NewAccruer(second, nil, nil),
	}
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = engine.ZeroAmount()
		errs  []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(a *engine.Accruer) {
			defer wg.Done()
			res, err := a.AccrueAll(ctx, u.ID, today)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			total = total.Add(res.TotalCredited)
		}(accruers[i%2])
	}
	wg.Wait()

	// THEN: 9 days * 30 credited exactly once
	require.Empty(t, errs)
	assert.Equal(t, "270.00", total.String())

	got, err := second.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "370.00", got.Balance.String())
	assert.Equal(t, "270.00", got.Earnings.String())

	entries, err := first.ListEntries(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, engine.EntryEarning, entries[0].Type)

	p, err := first.ListPurchases(ctx, engine.PurchaseFilter{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, p, 1)
	assert.Equal(t, 11, p[0].RemainingDays)
}

// =============================================================================
// LEDGER JOURNAL
// =============================================================================

func TestAppendEntry_DuplicateKeyRollsBackTx(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")
	entry := engine.Entry{
		ID: "e1", UserID: u.ID, Type: engine.EntryEarning,
		Delta: engine.MustParseAmount("30"), BalanceAfter: engine.MustParseAmount("130"),
		IdempotencyKey: "accrual:1:2024-01-02", CreatedAt: t0,
	}
	require.NoError(t, store.AppendEntry(ctx, entry))

	err := store.WithTx(ctx, func(tx engine.Store) error {
		if err := tx.UpdateUserBalances(ctx, u.ID, engine.MustParseAmount("160"), engine.MustParseAmount("60")); err != nil {
			return err
		}
		dup := entry
		dup.ID = "e2"
		return tx.AppendEntry(ctx, dup)
	})
	assert.ErrorIs(t, err, engine.ErrDuplicateIdempotencyKey)

	got, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(engine.MustParseAmount("100")))
}

func TestListEntries_OrderedByTime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")

	// Appended out of order; the half-second one must sort after the whole second.
	for _, e := range []engine.Entry{
		{ID: "b", CreatedAt: t0.Add(1500 * time.Millisecond)},
		{ID: "a", CreatedAt: t0},
		{ID: "c", CreatedAt: t0.Add(2 * time.Second)},
	} {
		e.UserID = u.ID
		e.Type = engine.EntryRecharge
		e.Delta = engine.MustParseAmount("1")
		e.BalanceAfter = engine.MustParseAmount("1")
		require.NoError(t, store.AppendEntry(ctx, e))
	}

	entries, err := store.ListEntries(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, engine.EntryID("a"), entries[0].ID)
	assert.Equal(t, engine.EntryID("b"), entries[1].ID)
	assert.Equal(t, engine.EntryID("c"), entries[2].ID)
	assert.Empty(t, entries[0].IdempotencyKey)
}

// =============================================================================
// SETTINGS & RESET
// =============================================================================

func TestSetSetting_Upserts(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetSetting(ctx, engine.SettingPaymentContact, "@one"))
	require.NoError(t, store.SetSetting(ctx, engine.SettingPaymentContact, "@two"))

	got, err := store.GetSetting(ctx, engine.SettingPaymentContact)
	require.NoError(t, err)
	assert.Equal(t, "@two", got.Value)

	all, err := store.ListSettings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.GetSetting(ctx, "missing")
	assert.True(t, engine.IsNotFound(err))
}

func TestReset_ClearsEverythingButSettings(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	u := seedUser(t, store, "0711")
	seedPurchase(t, store, u.ID)
	require.NoError(t, store.SetSetting(ctx, "k", "v"))

	require.NoError(t, store.Reset(ctx))

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
	products, err := store.ListProducts(ctx)
	require.NoError(t, err)
	assert.Empty(t, products)
	setting, err := store.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", setting.Value)

	// Phone is free again
	seedUser(t, store, "0711")
}
