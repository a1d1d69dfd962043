// Package metrics exposes Prometheus collectors for the engine and HTTP layer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warp/yield-engine/engine"
)

// Collectors implements engine.Metrics.
type Collectors struct {
	SettlementsTotal  prometheus.Counter
	SettledDaysTotal  prometheus.Counter
	CreditedTotal     prometheus.Counter
	ModerationsTotal  *prometheus.CounterVec
	SweepsTotal       *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
	HTTPResponseTime  *prometheus.HistogramVec
}

var _ engine.Metrics = (*Collectors)(nil)

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		SettlementsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "yield_settlements_total",
			Help: "Purchase settlements that paid at least one day",
		}),
		SettledDaysTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "yield_settled_days_total",
			Help: "Days of earnings paid out",
		}),
		CreditedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "yield_credited_amount_total",
			Help: "Sum of earnings credited",
		}),
		ModerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yield_moderations_total",
			Help: "Recharge and withdrawal decisions",
		}, []string{"kind", "status"}),
		SweepsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "yield_sweeps_total",
			Help: "Scheduled accrual sweeps by outcome",
		}, []string{"outcome"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPResponseTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (c *Collectors) SettlementApplied(days int, amount engine.Amount) {
	c.SettlementsTotal.Inc()
	c.SettledDaysTotal.Add(float64(days))
	c.CreditedTotal.Add(amount.Float64())
}

func (c *Collectors) ModerationDecided(kind string, to engine.Status) {
	c.ModerationsTotal.WithLabelValues(kind, string(to)).Inc()
}

// SweepFinished records a scheduled sweep; outcome is "ok" or "error".
func (c *Collectors) SweepFinished(outcome string) {
	c.SweepsTotal.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency by chi route pattern.
func (c *Collectors) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		c.HTTPResponseTime.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
