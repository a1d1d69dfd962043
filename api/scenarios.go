/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
	Populates the store with realistic data for demos. Each scenario goes
	through engine.Service, so balances, journal entries and purchase
	anchors are exactly what real traffic would have produced.

AVAILABLE SCENARIOS:
	fresh-start:        Standard catalog, no users
	active-investor:    One user, funded, holding a purchase bought 10 days ago
	pending-moderation: Two users with pending recharges and withdrawals
	matured-purchase:   A purchase whose whole term has elapsed

HOW SCENARIOS WORK:
 1. Reset store (clear all data, settings are kept)
 2. Create the standard catalog via the product factory
 3. Register demo users (password "demo1234")
 4. Submit / approve recharges, buy products with backdated timestamps

USAGE VIA API:
	POST /api/admin/scenarios/load
	{"scenario_id": "active-investor"}

NOTE:
	Scenarios reset the store. Only use in development/demo environments.
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/warp/yield-engine/engine"
	"github.com/warp/yield-engine/factory"
)

const demoPassword = "demo1234"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "fresh-start",
		Name:        "Fresh Start",
		Description: "Standard product catalog, no users",
	},
	{
		ID:          "active-investor",
		Name:        "Active Investor",
		Description: "Funded user holding a Starter purchase bought 10 days ago",
	},
	{
		ID:          "pending-moderation",
		Name:        "Pending Moderation",
		Description: "Recharge and withdrawal requests waiting for an admin",
	},
	{
		ID:          "matured-purchase",
		Name:        "Matured Purchase",
		Description: "Purchase whose full term elapsed while the user was away",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"fresh-start":        (*Handler).loadFreshStartScenario,
	"active-investor":    (*Handler).loadActiveInvestorScenario,
	"pending-moderation": (*Handler).loadPendingModerationScenario,
	"matured-purchase":   (*Handler).loadMaturedPurchaseScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	loader, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if h.Resetter == nil {
		writeError(w, http.StatusNotImplemented, "Scenarios are not available on this store", nil)
		return
	}

	ctx := r.Context()
	if err := h.Resetter.Reset(ctx); err != nil {
		h.fail(w, "Failed to reset store", err)
		return
	}
	if err := loader(h, ctx); err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadFreshStartScenario(ctx context.Context) error {
	_, err := h.seedCatalog(ctx)
	return err
}

func (h *Handler) loadActiveInvestorScenario(ctx context.Context) error {
	catalog, err := h.seedCatalog(ctx)
	if err != nil {
		return err
	}
	now := h.Service.Clock()

	u, err := h.fundedUser(ctx, "0700000001", engine.NewAmountFromInt(1000))
	if err != nil {
		return err
	}
	if _, err := h.Service.UpdateWallet(ctx, u.ID, "TDemoWallet0001"); err != nil {
		return err
	}

	// Bought 10 days ago; the first dashboard load settles 10 days.
	_, err = h.Service.PurchaseProduct(ctx, u.ID, catalog[0].ID, now.AddDate(0, 0, -10))
	return err
}

func (h *Handler) loadPendingModerationScenario(ctx context.Context) error {
	if _, err := h.seedCatalog(ctx); err != nil {
		return err
	}

	alice, err := h.fundedUser(ctx, "0700000002", engine.NewAmountFromInt(300))
	if err != nil {
		return err
	}
	if _, err := h.Service.SubmitRecharge(ctx, alice.ID, engine.NewAmountFromInt(150)); err != nil {
		return err
	}
	if _, err := h.Service.SubmitWithdrawal(ctx, alice.ID, engine.NewAmountFromInt(50)); err != nil {
		return err
	}

	bob, err := h.Service.Register(ctx, "0700000003", demoPassword)
	if err != nil {
		return err
	}
	_, err = h.Service.SubmitRecharge(ctx, bob.ID, engine.NewAmountFromInt(500))
	return err
}

func (h *Handler) loadMaturedPurchaseScenario(ctx context.Context) error {
	catalog, err := h.seedCatalog(ctx)
	if err != nil {
		return err
	}
	now := h.Service.Clock()

	u, err := h.fundedUser(ctx, "0700000004", engine.NewAmountFromInt(100))
	if err != nil {
		return err
	}
	starter := catalog[0]
	// Term ended a week ago; settlement stops at DurationDays.
	_, err = h.Service.PurchaseProduct(ctx, u.ID, starter.ID, now.AddDate(0, 0, -(starter.DurationDays + 7)))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) seedCatalog(ctx context.Context) ([]engine.Product, error) {
	return SeedCatalog(ctx, h.Service, h.Products)
}

// fundedUser registers a user and approves one recharge of amount.
func (h *Handler) fundedUser(ctx context.Context, phone string, amount engine.Amount) (engine.User, error) {
	u, err := h.Service.Register(ctx, phone, demoPassword)
	if err != nil {
		return engine.User{}, err
	}
	rc, err := h.Service.SubmitRecharge(ctx, u.ID, amount)
	if err != nil {
		return engine.User{}, err
	}
	if _, err := h.Service.ApproveRecharge(ctx, rc.ID); err != nil {
		return engine.User{}, err
	}
	return u, nil
}

// SeedCatalog creates the standard catalog. Used by scenarios and on first
// start of an empty database.
func SeedCatalog(ctx context.Context, svc *engine.Service, products *factory.ProductFactory) ([]engine.Product, error) {
	defs, err := products.ParseCatalog(factory.StandardCatalogJSON())
	if err != nil {
		return nil, err
	}
	created := make([]engine.Product, 0, len(defs))
	for _, p := range defs {
		saved, err := svc.CreateProduct(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("seed product %q: %w", p.Name, err)
		}
		created = append(created, saved)
	}
	return created, nil
}
