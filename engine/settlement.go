/*
settlement.go - Settlement Calculator

PURPOSE:
  Computes what one purchase owes as of a given day and the purchase state
  after paying it. Pure: no store, no clock. The caller persists.

ALGORITHM:
  1. Inactive purchase, missing product or missing owner -> nothing owed.
  2. Unanchored purchase -> NextPayoutDate = purchase day + 1.
  3. today < NextPayoutDate -> nothing due yet.
  4. daysDue      = (today - NextPayoutDate) + 1   (inclusive of anchor day)
     daysToCredit = min(daysDue, RemainingDays)
  5. amount = daysToCredit * product daily rate
  6. RemainingDays -= daysToCredit; NextPayoutDate += daysToCredit;
     RemainingDays == 0 -> inactive for good.

EXAMPLE:
  Price 150 at 20% -> 30/day. Bought 2024-01-01 for 20 days.
  Settled on 2024-01-10: anchor 2024-01-02, daysDue 9, amount 270,
  RemainingDays 11, NextPayoutDate 2024-01-11.

CATCH-UP:
  There is no scheduler behind this. A user who returns after a month gets
  every matured day credited in one call, capped by RemainingDays.
*/
package engine

// Settlement is the outcome of settling one purchase as of one day.
type Settlement struct {
	// Purchase is the state to persist. Equal to the input when !Changed.
	Purchase Purchase

	// From is the first day paid by this settlement (the anchor before it ran).
	From Day

	// Days is the number of daily periods credited.
	Days int

	// Amount is Days * daily rate.
	Amount Amount

	// Changed reports whether Purchase differs from the input and must be
	// written back. True when anchoring alone happened with nothing owed.
	Changed bool
}

// Settle computes the amount owed by p as of today.
func Settle(p Purchase, product *Product, today Day) Settlement {
	result := Settlement{Purchase: p, Amount: ZeroAmount()}

	if !p.Active || product == nil || p.UserID == 0 {
		return result
	}

	if p.NextPayoutDate.IsZero() {
		p.NextPayoutDate = DayOf(p.PurchasedAt).AddDays(1)
		result.Purchase = p
		result.Changed = true
	}
	result.From = p.NextPayoutDate

	if today.Before(p.NextPayoutDate) {
		return result
	}

	daysDue := DaysBetween(p.NextPayoutDate, today) + 1
	days := min(daysDue, p.RemainingDays)
	if days <= 0 {
		return result
	}

	amount := product.DailyRate().MulInt(days)

	p.RemainingDays -= days
	p.NextPayoutDate = p.NextPayoutDate.AddDays(days)
	p.TotalEarned = p.TotalEarned.Add(amount)
	if p.RemainingDays <= 0 {
		p.RemainingDays = 0
		p.Active = false
	}

	result.Purchase = p
	result.Days = days
	result.Amount = amount
	result.Changed = true
	return result
}
