/*
store.go - Persistence interface for the engine

PURPOSE:
  Defines the boundary between engine logic and the database. The engine
  never issues SQL; it asks a Store for rows and hands back mutated rows.

KEY INTERFACES:
  Store:   Lookup, filter, insert, update, delete for every entity
  TxStore: Store plus WithTx for all-or-nothing multi-row writes

ATOMICITY:
  A settlement updates a Purchase, a User and appends an Entry. These
  three writes must land together or not at all: a credit without the
  purchase advance would be paid again on the next dashboard load. All
  such writes go through TxStore.WithTx.

GUARDED WRITES:
  UpdatePurchase takes the PurchaseGuard the caller read. If the stored row
  no longer matches, the write fails with ErrConcurrentModification.
  TransitionRecharge/TransitionWithdrawal only move records that are still
  pending and report ErrAlreadySettled otherwise.

IMPLEMENTATIONS:
  - engine/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite for production

NOT FOUND:
  Get* methods return an error wrapping ErrNotFound when the row is absent.
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Users
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id UserID) (User, error)
	GetUserByPhone(ctx context.Context, phone string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUserBalances(ctx context.Context, id UserID, balance, earnings Amount) error
	UpdateUserPassword(ctx context.Context, id UserID, passwordHash string) error
	UpdateUserWallet(ctx context.Context, id UserID, wallet string) error
	// DeleteUser removes the user and cascades to purchases, recharges,
	// withdrawals and entries.
	DeleteUser(ctx context.Context, id UserID) error

	// Products
	CreateProduct(ctx context.Context, p Product) (Product, error)
	GetProduct(ctx context.Context, id ProductID) (Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// Purchases
	CreatePurchase(ctx context.Context, p Purchase) (Purchase, error)
	GetPurchase(ctx context.Context, id PurchaseID) (Purchase, error)
	ListPurchases(ctx context.Context, filter PurchaseFilter) ([]Purchase, error)
	UpdatePurchase(ctx context.Context, p Purchase, expect PurchaseGuard) error

	// Recharges (listed newest first)
	CreateRecharge(ctx context.Context, r Recharge) (Recharge, error)
	GetRecharge(ctx context.Context, id RechargeID) (Recharge, error)
	ListRecharges(ctx context.Context, filter RequestFilter) ([]Recharge, error)
	TransitionRecharge(ctx context.Context, id RechargeID, to Status, at time.Time) error

	// Withdrawals (listed newest first)
	CreateWithdrawal(ctx context.Context, w Withdrawal) (Withdrawal, error)
	GetWithdrawal(ctx context.Context, id WithdrawalID) (Withdrawal, error)
	ListWithdrawals(ctx context.Context, filter RequestFilter) ([]Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id WithdrawalID, to Status, at time.Time) error

	// Settings
	GetSetting(ctx context.Context, key string) (Setting, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) ([]Setting, error)

	// Ledger journal (append-only)
	AppendEntry(ctx context.Context, e Entry) error
	ListEntries(ctx context.Context, userID UserID) ([]Entry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is
	// rolled back. If fn returns nil, they are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// FILTERS
// =============================================================================

// PurchaseFilter selects purchases. Zero UserID means all users.
type PurchaseFilter struct {
	UserID     UserID
	ActiveOnly bool
}

// RequestFilter selects recharges or withdrawals. Zero values match all.
type RequestFilter struct {
	UserID UserID
	Status Status
}
