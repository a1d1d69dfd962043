/*
admin.go - Admin HTTP handlers

ENDPOINTS:
  POST   /api/admin/login                       Static credential -> admin token

  With admin token:
    GET    /api/admin/overview                  Counts and totals
    GET    /api/admin/users                     All users
    DELETE /api/admin/users/{id}                Delete user (cascades)
    POST   /api/admin/users/{id}/password       Reset password
    GET    /api/admin/recharges?status=         Recharge queue
    POST   /api/admin/recharges/{id}/approve    Credit balance
    POST   /api/admin/recharges/{id}/reject
    GET    /api/admin/withdrawals?status=       Withdrawal queue
    POST   /api/admin/withdrawals/{id}/approve
    POST   /api/admin/withdrawals/{id}/reject   Refund balance
    POST   /api/admin/products                  Create product from JSON
    GET    /api/admin/settings
    PUT    /api/admin/settings                  Upsert keys
    POST   /api/admin/accruals/run              Settle every user now
    GET    /api/admin/scenarios                 See scenarios.go
    POST   /api/admin/scenarios/load

MODERATION:
  Deciding a request that is no longer pending returns 409 and changes
  nothing.
*/
package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/yield-engine/auth"
	"github.com/warp/yield-engine/engine"
	"github.com/warp/yield-engine/factory"
)

// AdminLogin checks the static admin credential and issues an admin token.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req AdminLoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	if !h.Admin.Check(req.Username, req.Password) {
		h.Logger.Warn("admin login failed", zap.String("username", req.Username))
		writeError(w, http.StatusUnauthorized, "Invalid admin credentials", nil)
		return
	}

	token, err := h.Tokens.Issue(0, auth.RoleAdmin)
	if err != nil {
		h.fail(w, "Failed to issue token", err)
		return
	}
	writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.Service.AdminOverview(r.Context())
	if err != nil {
		h.fail(w, "Failed to load overview", err)
		return
	}
	writeJSON(w, http.StatusOK, OverviewDTO{
		Users:              ov.Users,
		PendingRecharges:   ov.PendingRecharges,
		PendingWithdrawals: ov.PendingWithdrawals,
		TotalBalance:       ov.TotalBalance.String(),
		TotalEarnings:      ov.TotalEarnings.String(),
	})
}

// =============================================================================
// USERS
// =============================================================================

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.ListUsers(r.Context())
	if err != nil {
		h.fail(w, "Failed to list users", err)
		return
	}
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID", err)
		return
	}
	if err := h.Service.DeleteUser(r.Context(), engine.UserID(id)); err != nil {
		h.fail(w, "Failed to delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user ID", err)
		return
	}
	var req PasswordResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Service.ResetPassword(r.Context(), engine.UserID(id), req.Password); err != nil {
		h.fail(w, "Failed to reset password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// MODERATION
// =============================================================================

func (h *Handler) ListRecharges(w http.ResponseWriter, r *http.Request) {
	filter, ok := statusFilter(w, r)
	if !ok {
		return
	}
	list, err := h.Service.ListRecharges(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list recharges", err)
		return
	}
	writeJSON(w, http.StatusOK, toRechargeDTOs(list))
}

func (h *Handler) ApproveRecharge(w http.ResponseWriter, r *http.Request) {
	h.decideRecharge(w, r, h.Service.ApproveRecharge)
}

func (h *Handler) RejectRecharge(w http.ResponseWriter, r *http.Request) {
	h.decideRecharge(w, r, h.Service.RejectRecharge)
}

func (h *Handler) decideRecharge(w http.ResponseWriter, r *http.Request,
	decide func(ctx context.Context, id engine.RechargeID) (engine.Recharge, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid recharge ID", err)
		return
	}
	rc, err := decide(r.Context(), engine.RechargeID(id))
	if err != nil {
		h.fail(w, "Failed to decide recharge", err)
		return
	}
	writeJSON(w, http.StatusOK, toRechargeDTO(rc))
}

func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	filter, ok := statusFilter(w, r)
	if !ok {
		return
	}
	list, err := h.Service.ListWithdrawals(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTOs(list))
}

func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, h.Service.ApproveWithdrawal)
}

func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, h.Service.RejectWithdrawal)
}

func (h *Handler) decideWithdrawal(w http.ResponseWriter, r *http.Request,
	decide func(ctx context.Context, id engine.WithdrawalID) (engine.Withdrawal, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid withdrawal ID", err)
		return
	}
	wd, err := decide(r.Context(), engine.WithdrawalID(id))
	if err != nil {
		h.fail(w, "Failed to decide withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTO(wd))
}

// statusFilter reads ?status=. Empty means all.
func statusFilter(w http.ResponseWriter, r *http.Request) (engine.RequestFilter, bool) {
	status := engine.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status filter", engine.ErrInvalidInput)
		return engine.RequestFilter{}, false
	}
	return engine.RequestFilter{Status: status}, true
}

// =============================================================================
// PRODUCTS & SETTINGS
// =============================================================================

// CreateProduct builds a product from factory.ProductJSON.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req factory.ProductJSON
	if !h.decode(w, r, &req) {
		return
	}

	product, err := h.Products.FromJSON(req)
	if err != nil {
		h.fail(w, "Invalid product", err)
		return
	}
	product, err = h.Service.CreateProduct(r.Context(), product)
	if err != nil {
		h.fail(w, "Failed to create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(product))
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if !h.decode(w, r, &req) {
		return
	}
	for k, v := range req.Settings {
		if err := h.Service.SetSetting(r.Context(), k, v); err != nil {
			h.fail(w, "Failed to update settings", err)
			return
		}
	}
	h.GetSettings(w, r)
}

// =============================================================================
// ACCRUALS
// =============================================================================

// RunAccruals settles every user with active purchases as of today, or
// as_of if given. Future days are refused.
func (h *Handler) RunAccruals(w http.ResponseWriter, r *http.Request) {
	today := h.Service.Today()
	if r.ContentLength != 0 {
		var req AccrualRunRequest
		if !h.decode(w, r, &req) {
			return
		}
		if req.AsOf != "" {
			day, err := engine.ParseDay(req.AsOf)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid as_of", err)
				return
			}
			if day.After(today) {
				writeError(w, http.StatusBadRequest, "as_of cannot be in the future", engine.ErrInvalidInput)
				return
			}
			today = day
		}
	}

	result, err := h.Service.Accruer.AccrueAllUsers(r.Context(), today)
	if err != nil {
		h.fail(w, "Accrual run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepDTO(result))
}

func toSweepDTO(r engine.SweepResult) SweepDTO {
	return SweepDTO{
		AsOf:          r.AsOf.String(),
		Users:         r.Users,
		Failed:        r.Failed,
		TotalCredited: r.TotalCredited.String(),
	}
}
