// Package api serves dispatch plans over HTTP, SSE and WebSocket.
package api

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"nutsdispatch/internal/auth"
	"nutsdispatch/internal/config"
	"nutsdispatch/internal/dispatch"
	"nutsdispatch/internal/metrics"
	"nutsdispatch/internal/model"
	"nutsdispatch/internal/store"
	"nutsdispatch/internal/webhooks"
)

// EventPlanComputed is published on a date's stream after every recompute.
const EventPlanComputed = webhooks.EventPlanComputed

type Server struct {
	Svc    *dispatch.Service
	Store  store.Store
	Auth   *auth.Verifier
	Broker EventBroker
	Config *config.Config

	limiter *rate.Limiter
}

func NewServer(cfg *config.Config, st store.Store, svc *dispatch.Service, broker EventBroker) *Server {
	if broker == nil {
		broker = NewBroker()
	}
	s := &Server{
		Svc:    svc,
		Store:  st,
		Auth:   auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Broker: broker,
		Config: cfg,
	}
	if cfg.Server.RateRPS > 0 {
		burst := cfg.Server.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Server.RateRPS), burst)
	}
	return s
}

// PlanComputed publishes a summary of plan on its date's stream.
func (s *Server) PlanComputed(_ context.Context, plan model.DispatchPlan) {
	s.Broker.Publish(plan.Date.String(), Event{
		Type: EventPlanComputed,
		Data: map[string]any{
			"date":       plan.Date.String(),
			"runId":      plan.RunID,
			"computedAt": plan.ComputedAt.Format(time.RFC3339),
			"totals":     plan.Totals,
		},
	})
}

func (s *Server) Routes() http.Handler {
	metrics.RegisterDefault()
	r := chi.NewRouter()
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	r.Get("/debug", s.DebugJSON)
	r.Get("/openapi.yaml", s.OpenAPIHandler)
	r.Get("/docs", s.DocsHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/plans/ws", s.PlanWSHandler)
		r.Get("/plans/{date}", s.PlanHandler)
		r.Post("/plans/{date}", s.RecomputeHandler)
		r.Get("/plans/{date}/inspectors/{inspectorId}", s.InspectorDayHandler)
		r.Get("/plans/{date}/visits/{visitId}/priority", s.PriorityHandler)
		r.Get("/plans/{date}/events", s.PlanEventsHandler)
		r.Get("/impact/{postcode}", s.ImpactHandler)
		r.Get("/week/{date}", s.WeekHandler)
	})
	return r
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder keeps Flush and Hijack reachable for SSE and WebSocket.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
