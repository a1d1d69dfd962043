/*
handlers.go - HTTP API handlers for the investment platform

PURPOSE:
  Exposes the engine via REST API. Handles HTTP request/response, JSON
  serialization and validation, and delegates to engine.Service.

ENDPOINTS:
  Auth:
    POST   /api/auth/register      Create account, returns token
    POST   /api/auth/login         Returns token

  User (bearer token, role user):
    GET    /api/me/dashboard       Settle earnings, then overview
    GET    /api/me/purchases       Settle earnings, then purchase list
    POST   /api/me/purchases       Buy a product
    GET    /api/me/recharges       Own recharge requests
    POST   /api/me/recharges       Submit recharge
    GET    /api/me/withdrawals     Own withdrawal requests
    POST   /api/me/withdrawals     Submit withdrawal (deducts now)
    PUT    /api/me/wallet          Set payout wallet
    GET    /api/me/entries         Balance journal
    GET    /api/products           Catalog
    GET    /api/settings           Public settings

  Admin: see admin.go

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Service: engine operations
  - Products: JSON to Product conversion
  - Tokens / Admin: session tokens and the static admin credential
  - Resetter: optional, needed by demo scenarios

ERROR HANDLING:
  Engine errors map to HTTP status in statusFor:
  - 400: Invalid amount / input, below minimum withdrawal
  - 401: Bad credentials or token
  - 403: Wrong role
  - 404: Not found
  - 409: Already settled, phone taken, concurrent update
  - 422: Insufficient balance
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - admin.go: Admin handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/auth"
	"github.com/warp/yield-engine/engine"
	"github.com/warp/yield-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes the store except settings. Implemented by both store backends.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *engine.Service
	Products *factory.ProductFactory
	Tokens   *auth.Issuer
	Admin    auth.AdminCredentials
	Resetter Resetter
	Logger   *zap.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. Set Resetter to enable demo scenarios.
func NewHandler(svc *engine.Service, tokens *auth.Issuer, admin auth.AdminCredentials, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Service:  svc,
		Products: factory.NewProductFactory(),
		Tokens:   tokens,
		Admin:    admin,
		Logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Register creates an account and logs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.Service.Register(r.Context(), req.Phone, req.Password)
	if err != nil {
		h.fail(w, "Failed to register", err)
		return
	}
	h.writeToken(w, http.StatusCreated, u)
}

// Login exchanges phone and password for a user token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.Service.Authenticate(r.Context(), req.Phone, req.Password)
	if err != nil {
		h.fail(w, "Invalid phone or password", err)
		return
	}
	h.writeToken(w, http.StatusOK, u)
}

func (h *Handler) writeToken(w http.ResponseWriter, status int, u engine.User) {
	token, err := h.Tokens.Issue(u.ID, auth.RoleUser)
	if err != nil {
		h.fail(w, "Failed to issue token", err)
		return
	}
	dto := toUserDTO(u)
	writeJSON(w, status, TokenResponse{Token: token, User: &dto})
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// Dashboard settles due earnings and returns the user's overview.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	d, err := h.Service.Dashboard(r.Context(), userID, h.Service.Today())
	if err != nil {
		h.fail(w, "Failed to load dashboard", err)
		return
	}

	writeJSON(w, http.StatusOK, DashboardResponse{
		User:        toUserDTO(d.User),
		AsOf:        d.AsOf.String(),
		Credited:    d.Credited.String(),
		DailyProfit: d.DailyProfit.String(),
		Projected:   d.Projected.String(),
		Purchases:   toPurchaseDTOs(d.Purchases),
		Recharges:   toRechargeDTOs(d.Recharges),
		Withdrawals: toWithdrawalDTOs(d.Withdrawals),
	})
}

// ListPurchases settles due earnings and lists all purchases.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	today := h.Service.Today()

	views, result, err := h.Service.Purchases(r.Context(), userID, today)
	if err != nil {
		h.fail(w, "Failed to list purchases", err)
		return
	}

	writeJSON(w, http.StatusOK, PurchasesResponse{
		AsOf:      today.String(),
		Credited:  result.TotalCredited.String(),
		Purchases: toPurchaseDTOs(views),
	})
}

// CreatePurchase buys a product with the user's balance.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Service.PurchaseProduct(r.Context(), userIDFrom(r.Context()),
		engine.ProductID(req.ProductID), h.Service.Clock())
	if err != nil {
		h.fail(w, "Failed to purchase product", err)
		return
	}

	view := engine.PurchaseView{Purchase: p, DailyRate: engine.ZeroAmount(), Projected: engine.ZeroAmount()}
	if product, err := h.Service.Store.GetProduct(r.Context(), p.ProductID); err == nil {
		view.Product = &product
		view.DailyRate = product.DailyRate()
		view.Projected = view.DailyRate.MulInt(p.RemainingDays)
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(view))
}

func (h *Handler) ListMyRecharges(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListRecharges(r.Context(), engine.RequestFilter{UserID: userIDFrom(r.Context())})
	if err != nil {
		h.fail(w, "Failed to list recharges", err)
		return
	}
	writeJSON(w, http.StatusOK, toRechargeDTOs(list))
}

// CreateRecharge submits a pending recharge request.
func (h *Handler) CreateRecharge(w http.ResponseWriter, r *http.Request) {
	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	rc, err := h.Service.SubmitRecharge(r.Context(), userIDFrom(r.Context()), amount)
	if err != nil {
		h.fail(w, "Failed to submit recharge", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRechargeDTO(rc))
}

func (h *Handler) ListMyWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.ListWithdrawals(r.Context(), engine.RequestFilter{UserID: userIDFrom(r.Context())})
	if err != nil {
		h.fail(w, "Failed to list withdrawals", err)
		return
	}
	writeJSON(w, http.StatusOK, toWithdrawalDTOs(list))
}

// CreateWithdrawal deducts the amount and submits a pending withdrawal.
func (h *Handler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	wd, err := h.Service.SubmitWithdrawal(r.Context(), userIDFrom(r.Context()), amount)
	if err != nil {
		h.fail(w, "Failed to submit withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(wd))
}

func (h *Handler) UpdateWallet(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if !h.decode(w, r, &req) {
		return
	}

	u, err := h.Service.UpdateWallet(r.Context(), userIDFrom(r.Context()), req.WalletAddress)
	if err != nil {
		h.fail(w, "Failed to update wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(u))
}

func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.Entries(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.fail(w, "Failed to list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Service.ListProducts(r.Context())
	if err != nil {
		h.fail(w, "Failed to list products", err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Service.Settings(r.Context())
	if err != nil {
		h.fail(w, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. On failure it has
// already written a 400.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func (h *Handler) decodeAmount(w http.ResponseWriter, r *http.Request) (engine.Amount, bool) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return engine.Amount{}, false
	}
	amount, err := engine.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return engine.Amount{}, false
	}
	return amount, true
}

// fail maps an engine error to its status and writes it. 5xx are logged.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrBelowMinimumWithdrawal):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrAlreadySettled),
		errors.Is(err, engine.ErrPhoneTaken),
		errors.Is(err, engine.ErrConcurrentModification),
		errors.Is(err, engine.ErrDuplicateIdempotencyKey):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, engine.ErrInvalidInput
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
