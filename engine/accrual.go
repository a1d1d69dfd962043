/*
accrual.go - Accrual Orchestrator

PURPOSE:
  Settles all active purchases of a user as of a day and credits the
  result. Called on dashboard and purchase-list loads, and by the optional
  sweep for every user.

PER-PURCHASE TRANSACTION:
  Each purchase is settled in its own WithTx:
    1. Re-read the purchase and its product inside the transaction
    2. Settle(purchase, product, today)
    3. UpdatePurchase guarded by the state read in step 1
    4. Ledger.Credit with key accrual:<purchase>:<first day paid>
  Purchases are independent, so one failing does not undo another.

CONCURRENT LOADS:
  Two simultaneous dashboard loads for the same user both read the same
  purchase. The second writer hits either the purchase guard or the
  idempotency key and its transaction rolls back. That purchase is then
  counted as Skipped, not as an error: the other request paid it.

IDEMPOTENCY:
  After a run on day D every purchase's NextPayoutDate is > D, so a second
  run on D credits nothing.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Metrics receives engine events. Implemented by the metrics package.
type Metrics interface {
	SettlementApplied(days int, amount Amount)
	ModerationDecided(kind string, to Status)
}

type noopMetrics struct{}

func (noopMetrics) SettlementApplied(int, Amount)   {}
func (noopMetrics) ModerationDecided(string, Status) {}

// AccrualResult is the outcome of AccrueAll for one user.
type AccrualResult struct {
	UserID        UserID
	AsOf          Day
	TotalCredited Amount
	Settlements   []Settlement
	Skipped       int
}

// SweepResult is the outcome of AccrueAllUsers.
type SweepResult struct {
	AsOf          Day
	Users         int
	Failed        int
	TotalCredited Amount
}

type Accruer struct {
	Store   TxStore
	Logger  *zap.Logger
	Metrics Metrics
	Clock   Clock
}

func NewAccruer(store TxStore, logger *zap.Logger, metrics Metrics) *Accruer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Accruer{Store: store, Logger: logger, Metrics: metrics, Clock: SystemClock}
}

// AccrueAll settles every active purchase of userID as of today.
func (a *Accruer) AccrueAll(ctx context.Context, userID UserID, today Day) (AccrualResult, error) {
	result := AccrualResult{UserID: userID, AsOf: today, TotalCredited: ZeroAmount()}

	purchases, err := a.Store.ListPurchases(ctx, PurchaseFilter{UserID: userID, ActiveOnly: true})
	if err != nil {
		return result, fmt.Errorf("list active purchases: %w", err)
	}

	for _, p := range purchases {
		s, err := a.SettlePurchase(ctx, p.ID, today)
		switch {
		case errors.Is(err, ErrConcurrentModification), errors.Is(err, ErrDuplicateIdempotencyKey):
			a.Logger.Info("purchase settled concurrently, skipping",
				zap.Int64("purchase_id", int64(p.ID)),
				zap.Int64("user_id", int64(userID)))
			result.Skipped++
			continue
		case err != nil:
			return result, fmt.Errorf("settle purchase %d: %w", p.ID, err)
		}

		if s.Days > 0 {
			result.TotalCredited = result.TotalCredited.Add(s.Amount)
			result.Settlements = append(result.Settlements, s)
		}
	}

	if result.TotalCredited.IsPositive() {
		a.Logger.Info("earnings credited",
			zap.Int64("user_id", int64(userID)),
			zap.String("as_of", today.String()),
			zap.String("amount", result.TotalCredited.String()),
			zap.Int("purchases", len(result.Settlements)))
	}
	return result, nil
}

// SettlePurchase settles a single purchase in its own transaction.
func (a *Accruer) SettlePurchase(ctx context.Context, id PurchaseID, today Day) (Settlement, error) {
	var out Settlement

	err := a.Store.WithTx(ctx, func(tx Store) error {
		p, err := tx.GetPurchase(ctx, id)
		if err != nil {
			return err
		}

		var product *Product
		pr, err := tx.GetProduct(ctx, p.ProductID)
		switch {
		case err == nil:
			product = &pr
		case !IsNotFound(err):
			return err
		}

		s := Settle(p, product, today)
		out = s
		if !s.Changed {
			return nil
		}

		if err := tx.UpdatePurchase(ctx, s.Purchase, p.Guard()); err != nil {
			return err
		}

		if s.Amount.IsPositive() {
			ref := EntryRef{
				ReferenceID:    fmt.Sprintf("purchase:%d", p.ID),
				IdempotencyKey: fmt.Sprintf("accrual:%d:%s", p.ID, s.From),
				At:             a.Clock(),
			}
			if _, err := NewLedger(tx).Credit(ctx, p.UserID, s.Amount, ref); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}

	if out.Days > 0 {
		a.Metrics.SettlementApplied(out.Days, out.Amount)
	}
	return out, nil
}

// AccrueAllUsers runs AccrueAll for every user holding an active purchase.
// A failing user is logged and counted; the sweep continues.
func (a *Accruer) AccrueAllUsers(ctx context.Context, today Day) (SweepResult, error) {
	result := SweepResult{AsOf: today, TotalCredited: ZeroAmount()}

	purchases, err := a.Store.ListPurchases(ctx, PurchaseFilter{ActiveOnly: true})
	if err != nil {
		return result, fmt.Errorf("list active purchases: %w", err)
	}

	seen := make(map[UserID]bool)
	var users []UserID
	for _, p := range purchases {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			users = append(users, p.UserID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r, err := a.AccrueAll(ctx, userID, today)
		result.Users++
		if err != nil {
			result.Failed++
			a.Logger.Error("accrual sweep failed for user",
				zap.Int64("user_id", int64(userID)), zap.Error(err))
			continue
		}
		result.TotalCredited = result.TotalCredited.Add(r.TotalCredited)
	}
	return result, nil
}
