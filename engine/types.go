/*
Package engine provides the earnings accrual engine and account operations.

PURPOSE:
  Users buy yield-bearing products. Each purchase earns a daily amount for a
  fixed number of days. Earnings are settled lazily: whenever a user's
  dashboard is loaded, every day that matured since the last settlement is
  credited in one pass. This package holds the types, the pure settlement
  calculator, the account ledger and the orchestrator that ties them
  together against a Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount:     Money on decimal.Decimal (never float64)
  - User:       Balance (spendable) and Earnings (lifetime credited)
  - Product:    Price, RatePolicy, DurationDays
  - Purchase:   One user's holding of one product, with settlement state
  - Recharge / Withdrawal: moderated requests
  - Entry:      Append-only journal line for every balance movement

DESIGN PRINCIPLES:
  1. Precision: decimal arithmetic everywhere money is involved
  2. Explicit time: "today" is always a parameter, never time.Now()
  3. Atomicity: a settlement's purchase update and credit commit together
  4. Auditability: every balance change leaves an Entry

SEE ALSO:
  - settlement.go: Settlement Calculator
  - ledger.go:     Account Ledger
  - accrual.go:    Accrual Orchestrator
  - service.go:    Moderation and account operations
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Monetary value
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value float64) Amount      { return Amount{Value: decimal.NewFromFloat(value)} }
func NewAmountFromInt(value int64) Amount { return Amount{Value: decimal.NewFromInt(value)} }
func AmountOf(d decimal.Decimal) Amount   { return Amount{Value: d} }
func ZeroAmount() Amount                  { return Amount{Value: decimal.Zero} }

// ParseAmount parses a decimal string such as "150" or "12.50".
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, ErrInvalidAmount
	}
	return Amount{Value: d}, nil
}

// MustParseAmount parses s and returns zero on malformed input.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		return ZeroAmount()
	}
	return a
}

func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s)} }
func (a Amount) MulInt(n int) Amount          { return Amount{Value: a.Value.Mul(decimal.NewFromInt(int64(n)))} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg()} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) String() string               { return a.Value.StringFixed(2) }

// Float64 is for metrics and display only.
func (a Amount) Float64() float64 {
	f, _ := a.Value.Float64()
	return f
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID int64
type ProductID int64
type PurchaseID int64
type RechargeID int64
type WithdrawalID int64
type EntryID string

// =============================================================================
// USER
// =============================================================================

type User struct {
	ID            UserID
	Phone         string
	PasswordHash  string
	Balance       Amount
	Earnings      Amount
	WalletAddress string
	CreatedAt     time.Time
}

// =============================================================================
// PRODUCT
// =============================================================================

type Product struct {
	ID           ProductID
	Name         string
	Price        Amount
	Rate         RatePolicy
	DurationDays int
	CreatedAt    time.Time
}

// DailyRate is the amount one purchase of this product earns per day.
func (p *Product) DailyRate() Amount {
	if p.Rate == nil {
		return ZeroAmount()
	}
	return p.Rate.DailyRate(p.Price)
}

// =============================================================================
// PURCHASE
// =============================================================================

// Purchase binds a user to a product. Only the settlement calculator moves
// NextPayoutDate, RemainingDays and Active.
type Purchase struct {
	ID             PurchaseID
	UserID         UserID
	ProductID      ProductID
	PurchasedAt    time.Time
	NextPayoutDate Day // zero = not yet anchored
	RemainingDays  int
	Active         bool
	TotalEarned    Amount
	CreatedAt      time.Time
}

// PurchaseGuard is the settlement state a purchase update expects to find.
// Updates whose guard no longer matches the stored row are rejected with
// ErrConcurrentModification.
type PurchaseGuard struct {
	RemainingDays  int
	NextPayoutDate Day
}

func (p Purchase) Guard() PurchaseGuard {
	return PurchaseGuard{RemainingDays: p.RemainingDays, NextPayoutDate: p.NextPayoutDate}
}

// =============================================================================
// MODERATED REQUESTS
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

type Recharge struct {
	ID        RechargeID
	UserID    UserID
	Amount    Amount
	Status    Status
	CreatedAt time.Time
	DecidedAt *time.Time
}

type Withdrawal struct {
	ID            WithdrawalID
	UserID        UserID
	Amount        Amount
	WalletAddress string
	Status        Status
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// =============================================================================
// SETTINGS
// =============================================================================

const (
	SettingPaymentContact   = "payment_contact"
	SettingAdminDisplayName = "admin_display_name"
)

type Setting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// =============================================================================
// ENTRY - Journal line for a balance movement
// =============================================================================

type EntryType string

const (
	EntryEarning    EntryType = "earning"    // Settlement credit (balance + earnings)
	EntryRecharge   EntryType = "recharge"   // Approved recharge
	EntryWithdrawal EntryType = "withdrawal" // Withdrawal submitted (deducted)
	EntryRefund     EntryType = "refund"     // Rejected withdrawal returned
	EntryPurchase   EntryType = "purchase"   // Product bought
)

type Entry struct {
	ID             EntryID
	UserID         UserID
	Type           EntryType
	Delta          Amount
	BalanceAfter   Amount
	ReferenceID    string
	IdempotencyKey string
	CreatedAt      time.Time
}
