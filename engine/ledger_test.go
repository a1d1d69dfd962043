package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/yield-engine/engine"
)

func TestLedger_Credit_MovesBalanceAndEarnings(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "10")
	l := engine.NewLedger(f.store)

	got, err := l.Credit(f.ctx, u.ID, amt("2.50"), engine.EntryRef{IdempotencyKey: "k1", At: f.now})
	require.NoError(t, err)

	assert.True(t, got.Balance.Equal(amt("12.50")))
	assert.True(t, got.Earnings.Equal(amt("2.50")))
}

func TestLedger_Deposit_LeavesEarnings(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "0")
	l := engine.NewLedger(f.store)

	got, err := l.Deposit(f.ctx, u.ID, amt("40"), engine.EntryRef{At: f.now})
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(amt("40")))
	assert.True(t, got.Earnings.IsZero())
}

func TestLedger_NegativeAmount_Rejected(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "10")
	l := engine.NewLedger(f.store)

	_, err := l.Credit(f.ctx, u.ID, amt("-1"), engine.EntryRef{})
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
	_, err = l.Refund(f.ctx, u.ID, amt("-1"), engine.EntryRef{})
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
	_, err = l.Debit(f.ctx, u.ID, engine.EntryWithdrawal, amt("-1"), engine.EntryRef{})
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	assert.True(t, f.balance(t, u.ID).Equal(amt("10")))
}

func TestLedger_ZeroAmount_IsNoop(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "10")
	before, err := f.svc.Entries(f.ctx, u.ID)
	require.NoError(t, err)

	_, err = engine.NewLedger(f.store).Credit(f.ctx, u.ID, engine.ZeroAmount(), engine.EntryRef{IdempotencyKey: "zero"})
	require.NoError(t, err)

	after, err := f.svc.Entries(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.True(t, f.balance(t, u.ID).Equal(amt("10")))
}

func TestLedger_Debit_Insufficient(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "10")

	_, err := engine.NewLedger(f.store).Debit(f.ctx, u.ID, engine.EntryPurchase, amt("10.01"), engine.EntryRef{})
	assert.ErrorIs(t, err, engine.ErrInsufficientBalance)
	assert.True(t, f.balance(t, u.ID).Equal(amt("10")))
}

func TestLedger_DuplicateKey(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "0")
	l := engine.NewLedger(f.store)
	ref := engine.EntryRef{IdempotencyKey: "once", At: f.now}

	_, err := l.Deposit(f.ctx, u.ID, amt("5"), ref)
	require.NoError(t, err)

	// Inside a transaction the failure rolls the balance back
	err = f.store.WithTx(f.ctx, func(tx engine.Store) error {
		_, err := engine.NewLedger(tx).Deposit(f.ctx, u.ID, amt("5"), ref)
		return err
	})
	assert.ErrorIs(t, err, engine.ErrDuplicateIdempotencyKey)
	assert.True(t, f.balance(t, u.ID).Equal(amt("5")))
}

func TestLedger_Journal(t *testing.T) {
	// GIVEN: recharge 100, withdraw 30, reject it
	f := newFixture(t)
	u := f.user(t, "0711", "100")
	w, err := f.svc.SubmitWithdrawal(f.ctx, u.ID, amt("30"))
	require.NoError(t, err)
	_, err = f.svc.RejectWithdrawal(f.ctx, w.ID)
	require.NoError(t, err)

	// WHEN
	entries, err := f.svc.Entries(f.ctx, u.ID)
	require.NoError(t, err)

	// THEN: Every movement is journaled with a running balance
	require.Len(t, entries, 3)
	want := []struct {
		kind  engine.EntryType
		delta string
		after string
	}{
		{engine.EntryRecharge, "100", "100"},
		{engine.EntryWithdrawal, "-30", "70"},
		{engine.EntryRefund, "30", "100"},
	}
	for i, exp := range want {
		assert.Equal(t, exp.kind, entries[i].Type, "entry %d", i)
		assert.True(t, entries[i].Delta.Equal(amt(exp.delta)), "entry %d delta %s", i, entries[i].Delta)
		assert.True(t, entries[i].BalanceAfter.Equal(amt(exp.after)), "entry %d after %s", i, entries[i].BalanceAfter)
		assert.NotEmpty(t, entries[i].ID)
	}
	assert.Equal(t, "withdrawal:"+itoa(int64(w.ID))+":refund", entries[2].IdempotencyKey)
}
