package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nutsdispatch/internal/model"
	"nutsdispatch/internal/opt"
	"nutsdispatch/internal/store"
)

var day = model.MustDate("2026-02-18")

type recorder struct {
	mu    sync.Mutex
	plans []model.DispatchPlan
}

func (r *recorder) PlanComputed(ctx context.Context, p model.DispatchPlan) {
	r.mu.Lock()
	r.plans = append(r.plans, p)
	r.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *store.Memory, *recorder) {
	t.Helper()
	ctx := context.Background()
	m := store.NewMemory()
	err := m.UpsertWorks(ctx, []model.Work{
		{ID: "W1", Status: model.StatusInEffect, StartDate: day.AddDays(-8), EndDate: day.AddDays(2), Postcode: "2000", LocationPrecision: model.PrecisionExact},
		{ID: "W2", Status: model.StatusPermitted, StartDate: day, EndDate: day.AddDays(5), Postcode: "2018"},
		{ID: "W3", Status: model.StatusInEffect, StartDate: day.AddDays(-20), EndDate: day.AddDays(-1), Postcode: "2000"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.PutRoster(ctx, []model.Inspector{
		{ID: "I1", Name: "An", PrimaryPostcodes: []string{"2000"}},
		{ID: "I2", Name: "Bart", PrimaryPostcodes: []string{"2018"}},
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.UpsertImpactProfiles(ctx, []model.ImpactProfile{{Postcode: "2000", PopulationDensity: 15000, VulnerableShare: 1, ServicePressure: 1, MobilitySensitivity: 1}}); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	svc := NewService(m, m, opt.DefaultOptions(), rec)
	svc.Now = func() time.Time { return time.Date(2026, 2, 18, 5, 30, 0, 0, time.UTC) }
	return svc, m, rec
}

func TestPlanComputesOnceThenServesStored(t *testing.T) {
	svc, _, rec := newTestService(t)
	ctx := context.Background()
	p1, err := svc.Plan(ctx, day)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if p1.RunID == "" || !p1.ComputedAt.Equal(svc.Now()) {
		t.Fatalf("run metadata missing: %q %v", p1.RunID, p1.ComputedAt)
	}
	if p1.Totals.Planned != 2 || p1.Totals.FollowUps != 1 {
		t.Fatalf("totals: %+v", p1.Totals)
	}
	p2, err := svc.Plan(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if p2.RunID != p1.RunID {
		t.Fatalf("stored plan should be served, got new run %s", p2.RunID)
	}
	p3, err := svc.Recompute(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if p3.RunID == p1.RunID {
		t.Fatalf("recompute must issue a new run id")
	}
	if len(rec.plans) != 2 {
		t.Fatalf("notifier calls: %d", len(rec.plans))
	}
}

func TestPlanFollowsDataChanges(t *testing.T) {
	svc, m, rec := newTestService(t)
	ctx := context.Background()
	before, err := svc.Plan(ctx, day)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(before.VisitsByInspector["I2"]) != 1 {
		t.Fatalf("I2 should start with one visit: %+v", before.VisitsByInspector)
	}
	if err := m.SetAvailability(ctx, model.Availability{Date: day, Absent: []string{"I2"}}); err != nil {
		t.Fatal(err)
	}
	after, err := svc.Plan(ctx, day)
	if err != nil {
		t.Fatalf("plan after absence: %v", err)
	}
	if after.RunID == before.RunID {
		t.Fatalf("plan must be recomputed after availability changed")
	}
	if n := len(after.VisitsByInspector["I2"]); n != 0 {
		t.Fatalf("absent inspector I2 still holds %d visits", n)
	}

	if err := m.UpsertWorks(ctx, []model.Work{{ID: "W4", Status: model.StatusPermitted, StartDate: day, EndDate: day.AddDays(3), Postcode: "2000"}}); err != nil {
		t.Fatal(err)
	}
	again, err := svc.Plan(ctx, day)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := again.FindVisit(model.ObligationID("W4", day, model.VisitStart)); !ok {
		t.Fatalf("new work W4 missing from plan after import")
	}
	if len(rec.plans) != 3 {
		t.Fatalf("each data change recomputes once, got %d runs", len(rec.plans))
	}
}

func TestPriorityAndImpact(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	id := model.ObligationID("W1", day, model.VisitCadence)
	r, err := svc.Priority(ctx, day, id)
	if err != nil {
		t.Fatalf("priority: %v", err)
	}
	if r.Impact == nil || r.Impact.Level != model.LevelHigh || r.DaysToEnd != 2 {
		t.Fatalf("priority result: %+v", r)
	}
	if _, err := svc.Priority(ctx, day, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	imp, err := svc.Impact(ctx, "2000")
	if err != nil || imp == nil || imp.Score != 100 {
		t.Fatalf("impact: %+v err=%v", imp, err)
	}
	if imp, err := svc.Impact(ctx, "9999"); err != nil || imp != nil {
		t.Fatalf("unknown postcode should be nil: %+v %v", imp, err)
	}
}

func TestInspectorDay(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	d, err := svc.InspectorDay(ctx, day, "I1")
	if err != nil {
		t.Fatalf("inspector day: %v", err)
	}
	if len(d.Visits) != 1 || len(d.FollowUps) != 1 || d.Route == nil || d.Inspector.Name != "An" {
		t.Fatalf("day: %+v", d)
	}
	if _, err := svc.InspectorDay(ctx, day, "I9"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestWeek(t *testing.T) {
	svc, _, rec := newTestService(t)
	plans, err := svc.Week(context.Background(), day, 5)
	if err != nil {
		t.Fatalf("week: %v", err)
	}
	if len(plans) != 5 {
		t.Fatalf("plans: %d", len(plans))
	}
	for i, p := range plans {
		if p.Date != day.AddDays(i) {
			t.Fatalf("plan %d has date %s", i, p.Date)
		}
	}
	if len(rec.plans) != 5 {
		t.Fatalf("each date computed once, got %d", len(rec.plans))
	}
	if _, err := svc.Week(context.Background(), day, 0); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestInvalidSnapshot(t *testing.T) {
	svc, m, rec := newTestService(t)
	if err := m.PutRoster(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Recompute(context.Background(), day); !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
	if len(rec.plans) != 0 {
		t.Fatalf("invalid input must not notify")
	}
}
