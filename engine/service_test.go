package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/yield-engine/engine"
)

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestRegister_DuplicatePhone(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Register(f.ctx, "0711", "pw")
	require.NoError(t, err)

	_, err = f.svc.Register(f.ctx, " 0711 ", "other")
	assert.ErrorIs(t, err, engine.ErrPhoneTaken)

	_, err = f.svc.Register(f.ctx, "", "pw")
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Register(f.ctx, "0711", "pw")
	require.NoError(t, err)

	got, err := f.svc.Authenticate(f.ctx, "0711", "pw")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.svc.Authenticate(f.ctx, "0711", "wrong")
	assert.ErrorIs(t, err, engine.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(f.ctx, "0799", "pw")
	assert.ErrorIs(t, err, engine.ErrInvalidCredentials)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	u, err := f.svc.Register(f.ctx, "0711", "pw")
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(f.ctx, u.ID, "fresh"))

	_, err = f.svc.Authenticate(f.ctx, "0711", "pw")
	assert.ErrorIs(t, err, engine.ErrInvalidCredentials)
	_, err = f.svc.Authenticate(f.ctx, "0711", "fresh")
	assert.NoError(t, err)
}

// =============================================================================
// PURCHASE
// =============================================================================

func TestPurchaseProduct_InsufficientBalance(t *testing.T) {
	// GIVEN: Balance 100, product price 150
	f := newFixture(t)
	u := f.user(t, "0711", "100")
	prod := f.product(t, "150", engine.DefaultPercentageRate(), 20)

	// WHEN
	_, err := f.svc.PurchaseProduct(f.ctx, u.ID, prod.ID, f.now)

	// THEN: Rejected, no purchase, balance unchanged
	require.ErrorIs(t, err, engine.ErrInsufficientBalance)
	var ibe *engine.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	assert.True(t, ibe.Available.Equal(amt("100")))
	assert.True(t, ibe.Requested.Equal(amt("150")))

	purchases, err := f.store.ListPurchases(f.ctx, engine.PurchaseFilter{UserID: u.ID})
	require.NoError(t, err)
	assert.Empty(t, purchases)
	assert.True(t, f.balance(t, u.ID).Equal(amt("100")))
}

func TestPurchaseProduct_DebitsAndAnchors(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "200")
	prod := f.product(t, "150", engine.DefaultPercentageRate(), 20)

	p, err := f.svc.PurchaseProduct(f.ctx, u.ID, prod.ID, f.now)
	require.NoError(t, err)

	assert.True(t, f.balance(t, u.ID).Equal(amt("50")))
	assert.Equal(t, day(2024, 1, 2), p.NextPayoutDate)
	assert.Equal(t, 20, p.RemainingDays)
	assert.True(t, p.Active)
}

func TestPurchaseProduct_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "200")

	_, err := f.svc.PurchaseProduct(f.ctx, u.ID, 999, f.now)
	assert.True(t, engine.IsNotFound(err))
	assert.True(t, f.balance(t, u.ID).Equal(amt("200")))
}

func TestCreateProduct_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []engine.Product{
		{Name: "", Price: amt("10"), Rate: engine.DefaultPercentageRate(), DurationDays: 5},
		{Name: "x", Price: amt("0"), Rate: engine.DefaultPercentageRate(), DurationDays: 5},
		{Name: "x", Price: amt("10"), Rate: engine.DefaultPercentageRate(), DurationDays: 0},
		{Name: "x", Price: amt("10"), DurationDays: 5},
	}
	for _, c := range cases {
		_, err := f.svc.CreateProduct(f.ctx, c)
		assert.True(t, engine.IsClientError(err), "product %+v: %v", c, err)
	}
}

// =============================================================================
// RECHARGE MODERATION
// =============================================================================

func TestApproveRecharge_CreditsBalanceOnce(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "0")
	rc, err := f.svc.SubmitRecharge(f.ctx, u.ID, amt("75"))
	require.NoError(t, err)
	assert.Equal(t, engine.StatusPending, rc.Status)
	assert.True(t, f.balance(t, u.ID).IsZero())

	got, err := f.svc.ApproveRecharge(f.ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusApproved, got.Status)
	assert.NotNil(t, got.DecidedAt)
	assert.True(t, f.balance(t, u.ID).Equal(amt("75")))

	// Second approval is a conflict and credits nothing
	_, err = f.svc.ApproveRecharge(f.ctx, rc.ID)
	assert.ErrorIs(t, err, engine.ErrAlreadySettled)
	assert.True(t, f.balance(t, u.ID).Equal(amt("75")))
}

func TestApproveRecharge_AfterReject_NoChange(t *testing.T) {
	// GIVEN: A rejected recharge
	f := newFixture(t)
	u := f.user(t, "0711", "0")
	rc, err := f.svc.SubmitRecharge(f.ctx, u.ID, amt("75"))
	require.NoError(t, err)
	_, err = f.svc.RejectRecharge(f.ctx, rc.ID)
	require.NoError(t, err)

	// WHEN: An admin approves it afterwards
	_, err = f.svc.ApproveRecharge(f.ctx, rc.ID)

	// THEN: Already settled, status and balance unchanged
	var settled *engine.AlreadySettledError
	require.True(t, errors.As(err, &settled))
	assert.Equal(t, engine.StatusRejected, settled.Status)

	got, err := f.store.GetRecharge(f.ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusRejected, got.Status)
	assert.True(t, f.balance(t, u.ID).IsZero())
}

func TestSubmitRecharge_Validation(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "0")

	_, err := f.svc.SubmitRecharge(f.ctx, u.ID, amt("0"))
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
	_, err = f.svc.SubmitRecharge(f.ctx, u.ID, amt("-5"))
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
	_, err = f.svc.SubmitRecharge(f.ctx, 424242, amt("5"))
	assert.True(t, engine.IsNotFound(err))
}

func TestDecideRecharge_Unknown(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ApproveRecharge(f.ctx, 77)
	assert.True(t, engine.IsNotFound(err))
}

// =============================================================================
// WITHDRAWAL MODERATION
// =============================================================================

func TestSubmitWithdrawal_DeductsImmediately(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "100")
	_, err := f.svc.UpdateWallet(f.ctx, u.ID, "  TWallet  ")
	require.NoError(t, err)

	w, err := f.svc.SubmitWithdrawal(f.ctx, u.ID, amt("50"))
	require.NoError(t, err)

	assert.Equal(t, engine.StatusPending, w.Status)
	assert.Equal(t, "TWallet", w.WalletAddress)
	assert.True(t, f.balance(t, u.ID).Equal(amt("50")))
}

func TestSubmitWithdrawal_Limits(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "100")

	_, err := f.svc.SubmitWithdrawal(f.ctx, u.ID, amt("5"))
	var below *engine.BelowMinimumError
	require.True(t, errors.As(err, &below))
	assert.True(t, below.Minimum.Equal(amt("10")))
	assert.ErrorIs(t, err, engine.ErrBelowMinimumWithdrawal)

	_, err = f.svc.SubmitWithdrawal(f.ctx, u.ID, amt("100.01"))
	assert.ErrorIs(t, err, engine.ErrInsufficientBalance)

	withdrawals, err := f.svc.ListWithdrawals(f.ctx, engine.RequestFilter{UserID: u.ID})
	require.NoError(t, err)
	assert.Empty(t, withdrawals)
	assert.True(t, f.balance(t, u.ID).Equal(amt("100")))
}

func TestRejectWithdrawal_RefundsOnce(t *testing.T) {
	// GIVEN: A pending withdrawal of 50 from a balance of 100
	f := newFixture(t)
	u := f.user(t, "0711", "100")
	w, err := f.svc.SubmitWithdrawal(f.ctx, u.ID, amt("50"))
	require.NoError(t, err)
	require.True(t, f.balance(t, u.ID).Equal(amt("50")))

	// WHEN: Rejected
	got, err := f.svc.RejectWithdrawal(f.ctx, w.ID)
	require.NoError(t, err)

	// THEN: Refunded
	assert.Equal(t, engine.StatusRejected, got.Status)
	assert.True(t, f.balance(t, u.ID).Equal(amt("100")))

	// AND: Rejecting again is a no-op
	_, err = f.svc.RejectWithdrawal(f.ctx, w.ID)
	assert.ErrorIs(t, err, engine.ErrAlreadySettled)
	assert.True(t, f.balance(t, u.ID).Equal(amt("100")))
}

func TestApproveWithdrawal_MovesNoMoney(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "100")
	w, err := f.svc.SubmitWithdrawal(f.ctx, u.ID, amt("40"))
	require.NoError(t, err)

	got, err := f.svc.ApproveWithdrawal(f.ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusApproved, got.Status)
	assert.True(t, f.balance(t, u.ID).Equal(amt("60")))

	_, err = f.svc.RejectWithdrawal(f.ctx, w.ID)
	assert.ErrorIs(t, err, engine.ErrAlreadySettled)
	assert.True(t, f.balance(t, u.ID).Equal(amt("60")))
}

func TestListRequests_NewestFirst(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "100")
	first, err := f.svc.SubmitRecharge(f.ctx, u.ID, amt("5"))
	require.NoError(t, err)
	second, err := f.svc.SubmitRecharge(f.ctx, u.ID, amt("6"))
	require.NoError(t, err)
	w1, err := f.svc.SubmitWithdrawal(f.ctx, u.ID, amt("10"))
	require.NoError(t, err)
	w2, err := f.svc.SubmitWithdrawal(f.ctx, u.ID, amt("20"))
	require.NoError(t, err)

	pending, err := f.svc.ListRecharges(f.ctx, engine.RequestFilter{Status: engine.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, first.ID, pending[1].ID)

	withdrawals, err := f.svc.ListWithdrawals(f.ctx, engine.RequestFilter{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, withdrawals, 2)
	assert.Equal(t, w2.ID, withdrawals[0].ID)
	assert.Equal(t, w1.ID, withdrawals[1].ID)
}

// =============================================================================
// DASHBOARD & ADMIN
// =============================================================================

func TestDashboard_SettlesAndSummarizes(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "700")
	a := f.product(t, "150", engine.DefaultPercentageRate(), 20)
	b := f.product(t, "500", engine.FixedRate{PerDay: amt("12.5")}, 2)
	_, err := f.svc.PurchaseProduct(f.ctx, u.ID, a.ID, f.now)
	require.NoError(t, err)
	_, err = f.svc.PurchaseProduct(f.ctx, u.ID, b.ID, f.now)
	require.NoError(t, err)

	d, err := f.svc.Dashboard(f.ctx, u.ID, day(2024, 1, 6))
	require.NoError(t, err)

	// a: 5 days * 30, b: capped at 2 days * 12.5
	assert.True(t, d.Credited.Equal(amt("175")), "got %s", d.Credited)
	assert.True(t, d.User.Balance.Equal(amt("225")))
	assert.True(t, d.User.Earnings.Equal(amt("175")))
	// b has finished, only a still earns
	assert.True(t, d.DailyProfit.Equal(amt("30")))
	assert.True(t, d.Projected.Equal(amt("450")), "got %s", d.Projected) // 15 days left
	assert.Len(t, d.Purchases, 2)
	assert.Len(t, d.Recharges, 1)
	assert.Empty(t, d.Withdrawals)
}

func TestDashboard_UnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Dashboard(f.ctx, 99, day(2024, 1, 6))
	assert.True(t, engine.IsNotFound(err))
}

func TestPurchases_ListsViewsWithRate(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "150")
	prod := f.product(t, "150", engine.DefaultPercentageRate(), 20)
	_, err := f.svc.PurchaseProduct(f.ctx, u.ID, prod.ID, f.now)
	require.NoError(t, err)

	views, res, err := f.svc.Purchases(f.ctx, u.ID, day(2024, 1, 3))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, res.TotalCredited.Equal(amt("60")))
	assert.True(t, views[0].DailyRate.Equal(amt("30")))
	require.NotNil(t, views[0].Product)
	assert.Equal(t, prod.Name, views[0].Product.Name)
	assert.Equal(t, 18, views[0].RemainingDays)
	assert.True(t, views[0].Projected.Equal(amt("540")))
}

func TestAdminOverview(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "0711", "100")
	f.user(t, "0722", "40")
	_, err := f.svc.SubmitRecharge(f.ctx, a.ID, amt("5"))
	require.NoError(t, err)
	_, err = f.svc.SubmitWithdrawal(f.ctx, a.ID, amt("20"))
	require.NoError(t, err)

	ov, err := f.svc.AdminOverview(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ov.Users)
	assert.Equal(t, 1, ov.PendingRecharges)
	assert.Equal(t, 1, ov.PendingWithdrawals)
	assert.True(t, ov.TotalBalance.Equal(amt("120")))
}

func TestDeleteUser_RemovesHoldings(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "0711", "150")
	prod := f.product(t, "150", engine.DefaultPercentageRate(), 20)
	p, err := f.svc.PurchaseProduct(f.ctx, u.ID, prod.ID, f.now)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteUser(f.ctx, u.ID))

	_, err = f.store.GetUser(f.ctx, u.ID)
	assert.True(t, engine.IsNotFound(err))
	_, err = f.store.GetPurchase(f.ctx, p.ID)
	assert.True(t, engine.IsNotFound(err))

	res, err := f.svc.Accruer.AccrueAllUsers(f.ctx, day(2024, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Users)
}

// =============================================================================
// SETTINGS
// =============================================================================

func TestSeedSettings_KeepsExistingValues(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.SetSetting(f.ctx, engine.SettingPaymentContact, "@ops"))

	require.NoError(t, f.svc.SeedSettings(f.ctx, map[string]string{
		engine.SettingPaymentContact:   "@default",
		engine.SettingAdminDisplayName: "Support",
	}))

	got, err := f.svc.Settings(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "@ops", got[engine.SettingPaymentContact])
	assert.Equal(t, "Support", got[engine.SettingAdminDisplayName])

	assert.ErrorIs(t, f.svc.SetSetting(f.ctx, "  ", "x"), engine.ErrInvalidInput)
}
