/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine model from the external API contract. Money is always
  rendered as a fixed two-decimal string.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Request types carry go-playground/validator tags, checked by
  Handler.decode before the handler body runs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/product.go: ProductJSON request type
*/
package api

import (
	"time"

	"github.com/warp/yield-engine/engine"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CredentialsRequest struct {
	Phone    string `json:"phone" validate:"required,max=32"`
	Password string `json:"password" validate:"required,min=4,max=128"`
}

type AdminLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AmountRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

type PurchaseRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
}

type WalletRequest struct {
	WalletAddress string `json:"wallet_address" validate:"max=128"`
}

type PasswordResetRequest struct {
	Password string `json:"password" validate:"required,min=4,max=128"`
}

type SettingsRequest struct {
	Settings map[string]string `json:"settings" validate:"required,min=1,dive,keys,required,max=64,endkeys"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

type AccrualRunRequest struct {
	// AsOf is YYYY-MM-DD; empty means today.
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type UserDTO struct {
	ID            int64     `json:"id"`
	Phone         string    `json:"phone"`
	Balance       string    `json:"balance"`
	Earnings      string    `json:"earnings"`
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
}

type TokenResponse struct {
	Token string   `json:"token"`
	User  *UserDTO `json:"user,omitempty"`
}

type ProductDTO struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Price        string    `json:"price"`
	RateType     string    `json:"rate_type"`
	RateValue    string    `json:"rate_value"`
	DailyRate    string    `json:"daily_rate"`
	DurationDays int       `json:"duration_days"`
	CreatedAt    time.Time `json:"created_at"`
}

type PurchaseDTO struct {
	ID             int64       `json:"id"`
	ProductID      int64       `json:"product_id"`
	Product        *ProductDTO `json:"product,omitempty"`
	PurchasedAt    time.Time   `json:"purchased_at"`
	NextPayoutDate string      `json:"next_payout_date"`
	RemainingDays  int         `json:"remaining_days"`
	Active         bool        `json:"active"`
	DailyRate      string      `json:"daily_rate"`
	TotalEarned    string      `json:"total_earned"`
	Projected      string      `json:"projected"`
}

type RechargeDTO struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Amount    string     `json:"amount"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

type WithdrawalDTO struct {
	ID            int64      `json:"id"`
	UserID        int64      `json:"user_id"`
	Amount        string     `json:"amount"`
	WalletAddress string     `json:"wallet_address"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

type EntryDTO struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Delta        string    `json:"delta"`
	BalanceAfter string    `json:"balance_after"`
	ReferenceID  string    `json:"reference_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type DashboardResponse struct {
	User        UserDTO         `json:"user"`
	AsOf        string          `json:"as_of"`
	Credited    string          `json:"credited"`
	DailyProfit string          `json:"daily_profit"`
	Projected   string          `json:"projected"`
	Purchases   []PurchaseDTO   `json:"purchases"`
	Recharges   []RechargeDTO   `json:"recharges"`
	Withdrawals []WithdrawalDTO `json:"withdrawals"`
}

type PurchasesResponse struct {
	AsOf      string        `json:"as_of"`
	Credited  string        `json:"credited"`
	Purchases []PurchaseDTO `json:"purchases"`
}

type OverviewDTO struct {
	Users              int    `json:"users"`
	PendingRecharges   int    `json:"pending_recharges"`
	PendingWithdrawals int    `json:"pending_withdrawals"`
	TotalBalance       string `json:"total_balance"`
	TotalEarnings      string `json:"total_earnings"`
}

type SweepDTO struct {
	AsOf          string `json:"as_of"`
	Users         int    `json:"users"`
	Failed        int    `json:"failed"`
	TotalCredited string `json:"total_credited"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toUserDTO(u engine.User) UserDTO {
	return UserDTO{
		ID:            int64(u.ID),
		Phone:         u.Phone,
		Balance:       u.Balance.String(),
		Earnings:      u.Earnings.String(),
		WalletAddress: u.WalletAddress,
		CreatedAt:     u.CreatedAt,
	}
}

func toProductDTO(p engine.Product) ProductDTO {
	dto := ProductDTO{
		ID:           int64(p.ID),
		Name:         p.Name,
		Price:        p.Price.String(),
		DailyRate:    p.DailyRate().String(),
		DurationDays: p.DurationDays,
		CreatedAt:    p.CreatedAt,
	}
	if p.Rate != nil {
		dto.RateType = string(p.Rate.Kind())
		dto.RateValue = p.Rate.Value().String()
	}
	return dto
}

func toPurchaseDTO(v engine.PurchaseView) PurchaseDTO {
	dto := PurchaseDTO{
		ID:             int64(v.ID),
		ProductID:      int64(v.ProductID),
		PurchasedAt:    v.PurchasedAt,
		NextPayoutDate: v.NextPayoutDate.String(),
		RemainingDays:  v.RemainingDays,
		Active:         v.Active,
		DailyRate:      v.DailyRate.String(),
		TotalEarned:    v.TotalEarned.String(),
		Projected:      v.Projected.String(),
	}
	if v.Product != nil {
		p := toProductDTO(*v.Product)
		dto.Product = &p
	}
	return dto
}

func toPurchaseDTOs(views []engine.PurchaseView) []PurchaseDTO {
	out := make([]PurchaseDTO, len(views))
	for i, v := range views {
		out[i] = toPurchaseDTO(v)
	}
	return out
}

func toRechargeDTO(r engine.Recharge) RechargeDTO {
	return RechargeDTO{
		ID:        int64(r.ID),
		UserID:    int64(r.UserID),
		Amount:    r.Amount.String(),
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		DecidedAt: r.DecidedAt,
	}
}

func toRechargeDTOs(rs []engine.Recharge) []RechargeDTO {
	out := make([]RechargeDTO, len(rs))
	for i, r := range rs {
		out[i] = toRechargeDTO(r)
	}
	return out
}

func toWithdrawalDTO(w engine.Withdrawal) WithdrawalDTO {
	return WithdrawalDTO{
		ID:            int64(w.ID),
		UserID:        int64(w.UserID),
		Amount:        w.Amount.String(),
		WalletAddress: w.WalletAddress,
		Status:        string(w.Status),
		CreatedAt:     w.CreatedAt,
		DecidedAt:     w.DecidedAt,
	}
}

func toWithdrawalDTOs(ws []engine.Withdrawal) []WithdrawalDTO {
	out := make([]WithdrawalDTO, len(ws))
	for i, w := range ws {
		out[i] = toWithdrawalDTO(w)
	}
	return out
}

func toEntryDTOs(es []engine.Entry) []EntryDTO {
	out := make([]EntryDTO, len(es))
	for i, e := range es {
		out[i] = EntryDTO{
			ID:           string(e.ID),
			Type:         string(e.Type),
			Delta:        e.Delta.String(),
			BalanceAfter: e.BalanceAfter.String(),
			ReferenceID:  e.ReferenceID,
			CreatedAt:    e.CreatedAt,
		}
	}
	return out
}
