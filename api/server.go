/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap access log (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request counter and latency histogram
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/auth/*       Public: register, login
  /api/me/*         Bearer token, role user
  /api/products     Bearer token, any role
  /api/settings     Bearer token, any role
  /api/admin/login  Public
  /api/admin/*      Bearer token, role admin
  /healthz          Liveness
  /metrics          Prometheus scrape

AUTH:
  Authenticate parses "Authorization: Bearer <jwt>" and stores the claims
  on the request context. RequireRole rejects other roles with 403.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/warp/yield-engine/auth"
	"github.com/warp/yield-engine/engine"
	"github.com/warp/yield-engine/metrics"
)

// RouterOptions configures the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Collectors
	Gatherer       prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)
		})

		// Any signed-in principal
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.Tokens))
			r.Get("/products", h.ListProducts)
			r.Get("/settings", h.GetSettings)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(Authenticate(h.Tokens))
			r.Use(RequireRole(auth.RoleUser))

			r.Get("/dashboard", h.Dashboard)
			r.Get("/purchases", h.ListPurchases)
			r.Post("/purchases", h.CreatePurchase)
			r.Get("/recharges", h.ListMyRecharges)
			r.Post("/recharges", h.CreateRecharge)
			r.Get("/withdrawals", h.ListMyWithdrawals)
			r.Post("/withdrawals", h.CreateWithdrawal)
			r.Put("/wallet", h.UpdateWallet)
			r.Get("/entries", h.ListEntries)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", h.AdminLogin)

			r.Group(func(r chi.Router) {
				r.Use(Authenticate(h.Tokens))
				r.Use(RequireRole(auth.RoleAdmin))

				r.Get("/overview", h.Overview)

				r.Get("/users", h.ListUsers)
				r.Delete("/users/{id}", h.DeleteUser)
				r.Post("/users/{id}/password", h.ResetPassword)

				r.Get("/recharges", h.ListRecharges)
				r.Post("/recharges/{id}/approve", h.ApproveRecharge)
				r.Post("/recharges/{id}/reject", h.RejectRecharge)

				r.Get("/withdrawals", h.ListWithdrawals)
				r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawal)
				r.Post("/withdrawals/{id}/reject", h.RejectWithdrawal)

				r.Post("/products", h.CreateProduct)
				r.Get("/settings", h.GetSettings)
				r.Put("/settings", h.UpdateSettings)

				r.Post("/accruals/run", h.RunAccruals)

				r.Get("/scenarios", h.ListScenarios)
				r.Get("/scenarios/current", h.GetCurrentScenario)
				r.Post("/scenarios/load", h.LoadScenario)
			})
		})
	})

	return r
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type ctxKey int

const claimsKey ctxKey = iota

// Authenticate requires a valid bearer token.
func Authenticate(tokens *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after Authenticate.
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFrom(r.Context())
			if claims == nil || claims.Role != role {
				writeError(w, http.StatusForbidden, "Forbidden", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsKey).(*auth.Claims)
	return c
}

func userIDFrom(ctx context.Context) engine.UserID {
	if c := claimsFrom(ctx); c != nil {
		return c.UserID
	}
	return 0
}

// RequestLogger writes one zap line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
