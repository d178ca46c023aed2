package webhooks

import (
	"context"
	"log"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"nutsdispatch/internal/model"
	"nutsdispatch/internal/store"
)

const EventPlanComputed = "plan.computed"

// Publisher enqueues signed deliveries for every configured endpoint.
type Publisher struct {
	Queue  store.DeliveryQueue
	URLs   []string
	Secret string
}

func NewPublisher(q store.DeliveryQueue, urls []string, secret string) *Publisher {
	return &Publisher{Queue: q, URLs: urls, Secret: secret}
}

// Emit enqueues one event per configured URL. An empty id gets a fresh one.
func (p *Publisher) Emit(ctx context.Context, id, eventType string, data any) {
	if len(p.URLs) == 0 {
		return
	}
	if id == "" {
		id = "evt_" + uuid.New().String()
	}
	body, err := json.Marshal(map[string]any{
		"id":   id,
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	})
	if err != nil {
		log.Printf("webhook encode %s: %v", eventType, err)
		return
	}
	for _, u := range p.URLs {
		if _, err := p.Queue.EnqueueWebhook(ctx, eventType, u, p.Secret, body); err != nil {
			log.Printf("webhook enqueue %s to %s: %v", eventType, u, err)
		}
	}
}

// PlanComputed sends a compact plan summary; receivers fetch the full plan
// from the API. The event id derives from the run id, so one run is
// delivered once per endpoint.
func (p *Publisher) PlanComputed(ctx context.Context, plan model.DispatchPlan) {
	var mandatory []string
	for _, u := range plan.Unassigned {
		if u.Mandatory {
			mandatory = append(mandatory, u.ID)
		}
	}
	p.Emit(ctx, "evt_"+plan.RunID, EventPlanComputed, map[string]any{
		"date":                plan.Date,
		"runId":               plan.RunID,
		"computedAt":          plan.ComputedAt,
		"totals":              plan.Totals,
		"unassignedMandatory": mandatory,
	})
}
