/*
service.go - Account and moderation operations

PURPOSE:
  Everything a request handler needs besides raw accrual: registration,
  login, recharge and withdrawal submission, admin moderation, product
  purchase, user administration, settings and the dashboard view.

MODERATION FLOW:
  Recharge:   submit -> pending --approve--> approved (+balance)
                              \--reject---> rejected
  Withdrawal: submit (-balance) -> pending --approve--> approved
                                         \--reject---> rejected (+refund)

  Moderating a record that is no longer pending changes nothing and
  returns ErrAlreadySettled. The status transition is conditional in the
  store, so two admins clicking at once settle the record exactly once.

WITHDRAWAL POLICY:
  Funds leave the balance when the withdrawal is submitted, so the user
  cannot spend them twice while the request waits. Rejection refunds;
  approval moves no money.

SEE ALSO:
  - accrual.go: Dashboard and Purchases run AccrueAll first
  - ledger.go:  All balance changes go through the Ledger
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Hasher hashes and verifies user passwords.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// Policy holds the business limits injected from configuration.
type Policy struct {
	MinWithdrawal Amount
}

type Service struct {
	Store   TxStore
	Accruer *Accruer
	Hasher  Hasher
	Policy  Policy
	Clock   Clock
	Logger  *zap.Logger
	Metrics Metrics
}

func NewService(store TxStore, hasher Hasher, policy Policy, logger *zap.Logger, metrics Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		Store:   store,
		Accruer: NewAccruer(store, logger, metrics),
		Hasher:  hasher,
		Policy:  policy,
		Clock:   SystemClock,
		Logger:  logger,
		Metrics: metrics,
	}
}

// WithClock replaces the clock on the service and its accruer.
func (s *Service) WithClock(c Clock) *Service {
	s.Clock = c
	s.Accruer.Clock = c
	return s
}

// Today is the settlement day according to the service clock.
func (s *Service) Today() Day { return DayOf(s.Clock()) }

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Service) Register(ctx context.Context, phone, password string) (User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return User{}, fmt.Errorf("%w: phone and password are required", ErrInvalidInput)
	}

	if _, err := s.Store.GetUserByPhone(ctx, phone); err == nil {
		return User{}, ErrPhoneTaken
	} else if !IsNotFound(err) {
		return User{}, err
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.Store.CreateUser(ctx, User{
		Phone:        phone,
		PasswordHash: hash,
		Balance:      ZeroAmount(),
		Earnings:     ZeroAmount(),
		CreatedAt:    s.Clock(),
	})
	if err != nil {
		return User{}, err
	}
	s.Logger.Info("user registered", zap.Int64("user_id", int64(u.ID)))
	return u, nil
}

func (s *Service) Authenticate(ctx context.Context, phone, password string) (User, error) {
	u, err := s.Store.GetUserByPhone(ctx, strings.TrimSpace(phone))
	if err != nil {
		if IsNotFound(err) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if !s.Hasher.Verify(u.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) UpdateWallet(ctx context.Context, userID UserID, wallet string) (User, error) {
	wallet = strings.TrimSpace(wallet)
	if err := s.Store.UpdateUserWallet(ctx, userID, wallet); err != nil {
		return User{}, err
	}
	return s.Store.GetUser(ctx, userID)
}

// =============================================================================
// RECHARGES
// =============================================================================

func (s *Service) SubmitRecharge(ctx context.Context, userID UserID, amount Amount) (Recharge, error) {
	if !amount.IsPositive() {
		return Recharge{}, ErrInvalidAmount
	}
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return Recharge{}, err
	}
	return s.Store.CreateRecharge(ctx, Recharge{
		UserID:    userID,
		Amount:    amount,
		Status:    StatusPending,
		CreatedAt: s.Clock(),
	})
}

// ApproveRecharge credits the recharge amount to the owner's balance.
func (s *Service) ApproveRecharge(ctx context.Context, id RechargeID) (Recharge, error) {
	return s.decideRecharge(ctx, id, StatusApproved)
}

// RejectRecharge closes the recharge without touching the balance.
func (s *Service) RejectRecharge(ctx context.Context, id RechargeID) (Recharge, error) {
	return s.decideRecharge(ctx, id, StatusRejected)
}

func (s *Service) decideRecharge(ctx context.Context, id RechargeID, to Status) (Recharge, error) {
	var out Recharge
	now := s.Clock()

	err := s.Store.WithTx(ctx, func(tx Store) error {
		r, err := tx.GetRecharge(ctx, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return &AlreadySettledError{Kind: "recharge", ID: id, Status: r.Status}
		}
		if err := tx.TransitionRecharge(ctx, id, to, now); err != nil {
			return err
		}
		if to == StatusApproved {
			ref := EntryRef{
				ReferenceID:    fmt.Sprintf("recharge:%d", id),
				IdempotencyKey: fmt.Sprintf("recharge:%d", id),
				At:             now,
			}
			if _, err := NewLedger(tx).Deposit(ctx, r.UserID, r.Amount, ref); err != nil {
				return err
			}
		}
		r.Status = to
		r.DecidedAt = &now
		out = r
		return nil
	})
	if err != nil {
		return Recharge{}, err
	}

	s.Metrics.ModerationDecided("recharge", to)
	s.Logger.Info("recharge decided",
		zap.Int64("recharge_id", int64(id)),
		zap.String("status", string(to)),
		zap.String("amount", out.Amount.String()))
	return out, nil
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

// SubmitWithdrawal deducts amount immediately and records a pending request.
func (s *Service) SubmitWithdrawal(ctx context.Context, userID UserID, amount Amount) (Withdrawal, error) {
	if !amount.IsPositive() {
		return Withdrawal{}, ErrInvalidAmount
	}
	if amount.LessThan(s.Policy.MinWithdrawal) {
		return Withdrawal{}, &BelowMinimumError{Minimum: s.Policy.MinWithdrawal, Requested: amount}
	}

	var out Withdrawal
	now := s.Clock()

	err := s.Store.WithTx(ctx, func(tx Store) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.Balance.LessThan(amount) {
			return &InsufficientBalanceError{UserID: userID, Available: u.Balance, Requested: amount}
		}

		w, err := tx.CreateWithdrawal(ctx, Withdrawal{
			UserID:        userID,
			Amount:        amount,
			WalletAddress: u.WalletAddress,
			Status:        StatusPending,
			CreatedAt:     now,
		})
		if err != nil {
			return err
		}

		ref := EntryRef{
			ReferenceID:    fmt.Sprintf("withdrawal:%d", w.ID),
			IdempotencyKey: fmt.Sprintf("withdrawal:%d", w.ID),
			At:             now,
		}
		if _, err := NewLedger(tx).Debit(ctx, userID, EntryWithdrawal, amount, ref); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return Withdrawal{}, err
	}
	return out, nil
}

// ApproveWithdrawal closes the request; the funds already left at submission.
func (s *Service) ApproveWithdrawal(ctx context.Context, id WithdrawalID) (Withdrawal, error) {
	return s.decideWithdrawal(ctx, id, StatusApproved)
}

// RejectWithdrawal closes the request and refunds the amount.
func (s *Service) RejectWithdrawal(ctx context.Context, id WithdrawalID) (Withdrawal, error) {
	return s.decideWithdrawal(ctx, id, StatusRejected)
}

func (s *Service) decideWithdrawal(ctx context.Context, id WithdrawalID, to Status) (Withdrawal, error) {
	var out Withdrawal
	now := s.Clock()

	err := s.Store.WithTx(ctx, func(tx Store) error {
		w, err := tx.GetWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		if w.Status != StatusPending {
			return &AlreadySettledError{Kind: "withdrawal", ID: id, Status: w.Status}
		}
		if err := tx.TransitionWithdrawal(ctx, id, to, now); err != nil {
			return err
		}
		if to == StatusRejected {
			ref := EntryRef{
				ReferenceID:    fmt.Sprintf("withdrawal:%d", id),
				IdempotencyKey: fmt.Sprintf("withdrawal:%d:refund", id),
				At:             now,
			}
			if _, err := NewLedger(tx).Refund(ctx, w.UserID, w.Amount, ref); err != nil {
				return err
			}
		}
		w.Status = to
		w.DecidedAt = &now
		out = w
		return nil
	})
	if err != nil {
		return Withdrawal{}, err
	}

	s.Metrics.ModerationDecided("withdrawal", to)
	s.Logger.Info("withdrawal decided",
		zap.Int64("withdrawal_id", int64(id)),
		zap.String("status", string(to)),
		zap.String("amount", out.Amount.String()))
	return out, nil
}

// =============================================================================
// PRODUCTS & PURCHASES
// =============================================================================

func (s *Service) CreateProduct(ctx context.Context, p Product) (Product, error) {
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Name == "":
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	case !p.Price.IsPositive():
		return Product{}, fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	case p.DurationDays <= 0:
		return Product{}, fmt.Errorf("%w: duration must be positive", ErrInvalidInput)
	case p.Rate == nil:
		return Product{}, fmt.Errorf("%w: rate policy is required", ErrInvalidInput)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.Clock()
	}
	return s.Store.CreateProduct(ctx, p)
}

func (s *Service) ListProducts(ctx context.Context) ([]Product, error) {
	return s.Store.ListProducts(ctx)
}

// PurchaseProduct debits the product price and opens a purchase anchored
// to the day after now.
func (s *Service) PurchaseProduct(ctx context.Context, userID UserID, productID ProductID, now time.Time) (Purchase, error) {
	var out Purchase

	err := s.Store.WithTx(ctx, func(tx Store) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if u.Balance.LessThan(product.Price) {
			return &InsufficientBalanceError{UserID: userID, Available: u.Balance, Requested: product.Price}
		}

		p, err := tx.CreatePurchase(ctx, Purchase{
			UserID:         userID,
			ProductID:      productID,
			PurchasedAt:    now,
			NextPayoutDate: DayOf(now).AddDays(1),
			RemainingDays:  product.DurationDays,
			Active:         true,
			TotalEarned:    ZeroAmount(),
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}

		ref := EntryRef{
			ReferenceID:    fmt.Sprintf("purchase:%d", p.ID),
			IdempotencyKey: fmt.Sprintf("purchase:%d", p.ID),
			At:             now,
		}
		if _, err := NewLedger(tx).Debit(ctx, userID, EntryPurchase, product.Price, ref); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return Purchase{}, err
	}

	s.Logger.Info("product purchased",
		zap.Int64("user_id", int64(userID)),
		zap.Int64("product_id", int64(productID)),
		zap.Int64("purchase_id", int64(out.ID)))
	return out, nil
}

// PurchaseView joins a purchase with its product for display. Projected is
// what the remaining days will still pay at the current rate.
type PurchaseView struct {
	Purchase
	Product   *Product
	DailyRate Amount
	Projected Amount
}

// Purchases settles the user's purchases as of today and lists them all.
func (s *Service) Purchases(ctx context.Context, userID UserID, today Day) ([]PurchaseView, AccrualResult, error) {
	result, err := s.Accruer.AccrueAll(ctx, userID, today)
	if err != nil {
		return nil, result, err
	}
	views, err := s.purchaseViews(ctx, userID)
	return views, result, err
}

func (s *Service) purchaseViews(ctx context.Context, userID UserID) ([]PurchaseView, error) {
	purchases, err := s.Store.ListPurchases(ctx, PurchaseFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	products, err := s.Store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[ProductID]*Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	views := make([]PurchaseView, len(purchases))
	for i, p := range purchases {
		views[i] = PurchaseView{Purchase: p, Product: byID[p.ProductID], DailyRate: ZeroAmount(), Projected: ZeroAmount()}
		if pr := byID[p.ProductID]; pr != nil {
			views[i].DailyRate = pr.DailyRate()
			if p.Active {
				views[i].Projected = views[i].DailyRate.MulInt(p.RemainingDays)
			}
		}
	}
	return views, nil
}

// =============================================================================
// DASHBOARD
// =============================================================================

type Dashboard struct {
	User        User
	AsOf        Day
	Credited    Amount
	DailyProfit Amount
	Projected   Amount
	Purchases   []PurchaseView
	Recharges   []Recharge
	Withdrawals []Withdrawal
}

// Dashboard settles earnings as of today and returns the user's overview.
func (s *Service) Dashboard(ctx context.Context, userID UserID, today Day) (Dashboard, error) {
	if _, err := s.Store.GetUser(ctx, userID); err != nil {
		return Dashboard{}, err
	}

	result, err := s.Accruer.AccrueAll(ctx, userID, today)
	if err != nil {
		return Dashboard{}, err
	}

	u, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	views, err := s.purchaseViews(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	recharges, err := s.Store.ListRecharges(ctx, RequestFilter{UserID: userID})
	if err != nil {
		return Dashboard{}, err
	}
	withdrawals, err := s.Store.ListWithdrawals(ctx, RequestFilter{UserID: userID})
	if err != nil {
		return Dashboard{}, err
	}

	daily, projected := ZeroAmount(), ZeroAmount()
	for _, v := range views {
		if v.Active {
			daily = daily.Add(v.DailyRate)
			projected = projected.Add(v.Projected)
		}
	}

	return Dashboard{
		User:        u,
		AsOf:        today,
		Credited:    result.TotalCredited,
		DailyProfit: daily,
		Projected:   projected,
		Purchases:   views,
		Recharges:   recharges,
		Withdrawals: withdrawals,
	}, nil
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

type Overview struct {
	Users              int
	PendingRecharges   int
	PendingWithdrawals int
	TotalBalance       Amount
	TotalEarnings      Amount
}

func (s *Service) AdminOverview(ctx context.Context) (Overview, error) {
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return Overview{}, err
	}
	recharges, err := s.Store.ListRecharges(ctx, RequestFilter{Status: StatusPending})
	if err != nil {
		return Overview{}, err
	}
	withdrawals, err := s.Store.ListWithdrawals(ctx, RequestFilter{Status: StatusPending})
	if err != nil {
		return Overview{}, err
	}

	ov := Overview{
		Users:              len(users),
		PendingRecharges:   len(recharges),
		PendingWithdrawals: len(withdrawals),
		TotalBalance:       ZeroAmount(),
		TotalEarnings:      ZeroAmount(),
	}
	for _, u := range users {
		ov.TotalBalance = ov.TotalBalance.Add(u.Balance)
		ov.TotalEarnings = ov.TotalEarnings.Add(u.Earnings)
	}
	return ov, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.Store.ListUsers(ctx)
}

func (s *Service) DeleteUser(ctx context.Context, id UserID) error {
	if err := s.Store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.Logger.Info("user deleted", zap.Int64("user_id", int64(id)))
	return nil
}

func (s *Service) ResetPassword(ctx context.Context, id UserID, password string) error {
	if password == "" {
		return fmt.Errorf("%w: new password is required", ErrInvalidInput)
	}
	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.Store.UpdateUserPassword(ctx, id, hash)
}

func (s *Service) ListRecharges(ctx context.Context, filter RequestFilter) ([]Recharge, error) {
	return s.Store.ListRecharges(ctx, filter)
}

func (s *Service) ListWithdrawals(ctx context.Context, filter RequestFilter) ([]Withdrawal, error) {
	return s.Store.ListWithdrawals(ctx, filter)
}

func (s *Service) Entries(ctx context.Context, userID UserID) ([]Entry, error) {
	return NewLedger(s.Store).Entries(ctx, userID)
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Service) Settings(ctx context.Context) (map[string]string, error) {
	list, err := s.Store.ListSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, st := range list {
		out[st.Key] = st.Value
	}
	return out, nil
}

func (s *Service) SetSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: setting key is required", ErrInvalidInput)
	}
	return s.Store.SetSetting(ctx, key, value)
}

// SeedSettings writes defaults for keys that have no value yet.
func (s *Service) SeedSettings(ctx context.Context, defaults map[string]string) error {
	for k, v := range defaults {
		_, err := s.Store.GetSetting(ctx, k)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := s.Store.SetSetting(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}
