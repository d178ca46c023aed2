package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"nutsdispatch/internal/model"
)

// Memory is a simple in-memory store used when no database is configured.
type Memory struct {
	mu       sync.Mutex
	works    map[string]model.Work
	roster   []model.Inspector
	avail    map[model.Date]model.Availability
	profiles map[string]model.ImpactProfile // postcode -> profile
	plans    map[model.Date][]byte          // encoded copies, so callers cannot mutate stored plans
	// Webhooks queue state
	deliveries map[string]*memDelivery // id -> delivery state
	order      []string                // delivery ids in enqueue order
	dedup      map[string]string       // url|dedupKey -> delivery id
}

func NewMemory() *Memory {
	return &Memory{
		works:      map[string]model.Work{},
		avail:      map[model.Date]model.Availability{},
		profiles:   map[string]model.ImpactProfile{},
		plans:      map[model.Date][]byte{},
		deliveries: map[string]*memDelivery{},
		dedup:      map[string]string{},
	}
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
	WebhookDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
	LatencyMs     int
	DeliveredAt   *time.Time
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

func (m *Memory) Works(ctx context.Context, date model.Date) ([]model.Work, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Work{}
	for _, w := range m.works {
		if !w.StartDate.After(date) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Roster(ctx context.Context) ([]model.Inspector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Inspector(nil), m.roster...), nil
}

func (m *Memory) Availability(ctx context.Context, date model.Date) (model.Availability, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.avail[date]
	if !ok {
		return model.Availability{Date: date}, nil
	}
	return a, nil
}

func (m *Memory) ImpactProfiles(ctx context.Context) (map[string]model.ImpactProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.ImpactProfile, len(m.profiles))
	for k, v := range m.profiles {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) UpsertWorks(ctx context.Context, works []model.Work) error {
	for _, w := range works {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range works {
		m.works[w.ID] = w
	}
	m.dropPlans(nil)
	return nil
}

func (m *Memory) PutRoster(ctx context.Context, roster []model.Inspector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roster = append([]model.Inspector(nil), roster...)
	m.dropPlans(nil)
	return nil
}

func (m *Memory) SetAvailability(ctx context.Context, a model.Availability) error {
	if a.Date.IsZero() {
		return &model.InputError{Kind: "availability", Reason: "missing date"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avail[a.Date] = a
	m.dropPlans(&a.Date)
	return nil
}

func (m *Memory) UpsertImpactProfiles(ctx context.Context, profiles []model.ImpactProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range profiles {
		m.profiles[p.Postcode] = p
	}
	m.dropPlans(nil)
	return nil
}

// dropPlans forgets plans built from data that just changed. Callers hold m.mu.
func (m *Memory) dropPlans(date *model.Date) {
	if date != nil {
		delete(m.plans, *date)
		return
	}
	for d := range m.plans {
		delete(m.plans, d)
	}
}

func (m *Memory) SavePlan(ctx context.Context, plan model.DispatchPlan) error {
	b, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.Date] = b
	return nil
}

func (m *Memory) GetPlan(ctx context.Context, date model.Date) (model.DispatchPlan, error) {
	m.mu.Lock()
	b, ok := m.plans[date]
	m.mu.Unlock()
	if !ok {
		return model.DispatchPlan{}, ErrNotFound
	}
	var p model.DispatchPlan
	if err := json.Unmarshal(b, &p); err != nil {
		return model.DispatchPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := url + "|" + computeDedupKey(payload)
	if id, ok := m.dedup[key]; ok {
		return id, nil
	}
	id := uuid.New().String()
	d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.order = append(m.order, id)
	m.dedup[key] = id
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, d.WebhookDelivery)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

// DeliveryStatus reports the state of one delivery.
func (m *Memory) DeliveryStatus(id string) (status string, attempts int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return "", 0, false
	}
	return d.Status, d.Attempts, true
}
