package store

import (
	"context"
	"errors"
	"time"

	"nutsdispatch/internal/model"
)

// Source is the read side the dispatch engine is fed from. Implementations
// return snapshots; callers may keep and share them read-only.
type Source interface {
	// Works returns every work that has started on or before date, including
	// works whose end date already passed (they may still need follow-up).
	Works(ctx context.Context, date model.Date) ([]model.Work, error)
	// Roster returns the inspectors in roster order.
	Roster(ctx context.Context) ([]model.Inspector, error)
	Availability(ctx context.Context, date model.Date) (model.Availability, error)
	// ImpactProfiles is keyed by postcode.
	ImpactProfiles(ctx context.Context) (map[string]model.ImpactProfile, error)
}

// Loader writes snapshot data. It backs the import paths (fixtures, CSV feed).
type Loader interface {
	UpsertWorks(ctx context.Context, works []model.Work) error
	PutRoster(ctx context.Context, roster []model.Inspector) error
	SetAvailability(ctx context.Context, a model.Availability) error
	UpsertImpactProfiles(ctx context.Context, profiles []model.ImpactProfile) error
}

// PlanStore keeps the latest computed plan per date.
type PlanStore interface {
	SavePlan(ctx context.Context, plan model.DispatchPlan) error
	GetPlan(ctx context.Context, date model.Date) (model.DispatchPlan, error)
}

// DeliveryQueue is the outbound webhook queue drained by webhooks.Worker.
type DeliveryQueue interface {
	EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
}

// Store is the persistence interface used by the API server and the CLI.
type Store interface {
	Source
	Loader
	PlanStore
	DeliveryQueue
	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("not found")
