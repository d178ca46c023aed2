package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"nutsdispatch/internal/model"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	PlansComputed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_plans_computed_total", Help: "Dispatch plans computed, by outcome."},
		[]string{"outcome"},
	)
	PlanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_plan_duration_seconds", Help: "Time to load a snapshot and compute a plan.", Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5}},
	)
	// Plan gauges reflect the most recently computed plan.
	PlannedVisits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "dispatch_planned_visits", Help: "Planned visits in the last computed plan, by kind."},
		[]string{"kind"},
	)
	UnassignedVisits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "dispatch_unassigned_visits", Help: "Unassigned visits in the last computed plan, by reason."},
		[]string{"reason"},
	)
	OverflowInspectors = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_overflow_inspectors", Help: "Inspectors at or above soft capacity in the last computed plan."},
	)
	FollowUps = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_follow_ups", Help: "Closure follow-ups in the last computed plan."},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(PlansComputed, PlanDuration, PlannedVisits, UnassignedVisits, OverflowInspectors, FollowUps)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObservePlan updates the plan gauges from a freshly computed plan.
func ObservePlan(p model.DispatchPlan) {
	t := p.Totals
	PlannedVisits.WithLabelValues("mandatory").Set(float64(t.Mandatory))
	PlannedVisits.WithLabelValues("optional").Set(float64(t.Optional))
	OverflowInspectors.Set(float64(t.OverflowInspectors))
	FollowUps.Set(float64(t.FollowUps))
	byReason := map[model.UnassignedReason]int{
		model.ReasonCapacity:             0,
		model.ReasonNoCoverage:           0,
		model.ReasonPreferredUnavailable: 0,
	}
	for _, u := range p.Unassigned {
		byReason[u.Reason]++
	}
	for reason, n := range byReason {
		UnassignedVisits.WithLabelValues(string(reason)).Set(float64(n))
	}
}
