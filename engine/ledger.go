/*
ledger.go - Account Ledger

PURPOSE:
  Applies money movements to a user's Balance and Earnings fields and
  journals each one as an append-only Entry. The User row holds the
  current figures; the Entry journal explains how they got there.

OPERATIONS:
  Credit  - settlement earnings: Balance += x, Earnings += x
  Deposit - approved recharge:   Balance += x
  Debit   - withdrawal / purchase: Balance -= x (fails if Balance < x)
  Refund  - rejected withdrawal: Balance += x

IDEMPOTENCY:
  Entries carry an idempotency key. A second entry with the same key fails
  with ErrDuplicateIdempotencyKey; inside WithTx this rolls back the whole
  settlement, so one due period can never be paid twice.

USAGE:
  Construct the ledger over the Store handed to a WithTx callback so the
  balance update, the entry and the caller's own writes commit together:

    store.WithTx(ctx, func(tx Store) error {
        ...
        _, err := NewLedger(tx).Credit(ctx, userID, amount, ref)
        return err
    })
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntryRef describes why a movement happened.
type EntryRef struct {
	ReferenceID    string
	IdempotencyKey string
	At             time.Time
}

type Ledger struct {
	Store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store}
}

// Credit adds amount to both balance and lifetime earnings.
func (l *Ledger) Credit(ctx context.Context, userID UserID, amount Amount, ref EntryRef) (User, error) {
	return l.apply(ctx, userID, EntryEarning, amount, true, ref)
}

// Deposit adds amount to balance only.
func (l *Ledger) Deposit(ctx context.Context, userID UserID, amount Amount, ref EntryRef) (User, error) {
	return l.apply(ctx, userID, EntryRecharge, amount, false, ref)
}

// Refund returns a previously debited amount to balance.
func (l *Ledger) Refund(ctx context.Context, userID UserID, amount Amount, ref EntryRef) (User, error) {
	return l.apply(ctx, userID, EntryRefund, amount, false, ref)
}

// Debit removes amount from balance. kind is EntryWithdrawal or EntryPurchase.
func (l *Ledger) Debit(ctx context.Context, userID UserID, kind EntryType, amount Amount, ref EntryRef) (User, error) {
	if amount.IsNegative() {
		return User{}, fmt.Errorf("%w: debit of %s", ErrInvalidAmount, amount)
	}
	u, err := l.Store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if u.Balance.LessThan(amount) {
		return u, &InsufficientBalanceError{UserID: userID, Available: u.Balance, Requested: amount}
	}
	return l.write(ctx, u, kind, amount.Neg(), false, ref)
}

// Entries returns the journal for a user, oldest first.
func (l *Ledger) Entries(ctx context.Context, userID UserID) ([]Entry, error) {
	return l.Store.ListEntries(ctx, userID)
}

func (l *Ledger) apply(ctx context.Context, userID UserID, kind EntryType, amount Amount, earning bool, ref EntryRef) (User, error) {
	if amount.IsNegative() {
		return User{}, fmt.Errorf("%w: %s of %s", ErrInvalidAmount, kind, amount)
	}
	u, err := l.Store.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	return l.write(ctx, u, kind, amount, earning, ref)
}

func (l *Ledger) write(ctx context.Context, u User, kind EntryType, delta Amount, earning bool, ref EntryRef) (User, error) {
	if delta.IsZero() {
		return u, nil
	}

	u.Balance = u.Balance.Add(delta)
	if earning {
		u.Earnings = u.Earnings.Add(delta)
	}

	at := ref.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	entry := Entry{
		ID:             EntryID(uuid.NewString()),
		UserID:         u.ID,
		Type:           kind,
		Delta:          delta,
		BalanceAfter:   u.Balance,
		ReferenceID:    ref.ReferenceID,
		IdempotencyKey: ref.IdempotencyKey,
		CreatedAt:      at,
	}
	if err := l.Store.AppendEntry(ctx, entry); err != nil {
		return User{}, err
	}
	if err := l.Store.UpdateUserBalances(ctx, u.ID, u.Balance, u.Earnings); err != nil {
		return User{}, err
	}
	return u, nil
}
