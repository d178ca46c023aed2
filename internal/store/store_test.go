package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nutsdispatch/internal/model"
)

func newSQLite(t *testing.T) *SQL {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nuts.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seeded(t *testing.T, s Store) Store {
	t.Helper()
	f, err := LoadFixtures("testdata/fixtures.yml")
	if err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	if err := f.Apply(context.Background(), s); err != nil {
		t.Fatalf("apply fixtures: %v", err)
	}
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": seeded(t, NewMemory()),
		"sqlite": seeded(t, newSQLite(t)),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	day := model.MustDate("2026-02-18")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			works, err := s.Works(ctx, day)
			if err != nil {
				t.Fatalf("works: %v", err)
			}
			if len(works) != 2 || works[0].ID != "W1" || works[1].ID != "W2" {
				t.Fatalf("future works must be excluded: %+v", works)
			}
			w1 := works[0]
			if w1.Location == nil || w1.Location.Lat != 51.2181 || w1.PermitStatus != model.PermitLinked || w1.Street != "Meir" {
				t.Fatalf("work fields lost: %+v", w1)
			}
			if works[1].Location != nil || works[1].LocationPrecision != model.PrecisionPostcode {
				t.Fatalf("W2: %+v", works[1])
			}

			roster, err := s.Roster(ctx)
			if err != nil {
				t.Fatalf("roster: %v", err)
			}
			if len(roster) != 3 || roster[0].ID != "I1" || roster[2].ID != "R1" {
				t.Fatalf("roster order: %+v", roster)
			}
			if !roster[2].Reserve || roster[2].ActiveFrom == nil || roster[2].ActiveFrom.String() != "2026-01-01" {
				t.Fatalf("reserve inspector: %+v", roster[2])
			}
			if len(roster[0].PrimaryPostcodes) != 2 || roster[0].BackupPostcodes[0] != "2018" {
				t.Fatalf("postcodes: %+v", roster[0])
			}

			a, err := s.Availability(ctx, day)
			if err != nil {
				t.Fatalf("availability: %v", err)
			}
			if !a.Unavailable("I2") || a.Unavailable("I1") {
				t.Fatalf("availability: %+v", a)
			}
			other, _ := s.Availability(ctx, day.AddDays(1))
			if len(other.Absent) != 0 || other.Date != day.AddDays(1) {
				t.Fatalf("unknown date should be empty: %+v", other)
			}

			profiles, err := s.ImpactProfiles(ctx)
			if err != nil {
				t.Fatalf("profiles: %v", err)
			}
			if p, ok := profiles["2000"]; !ok || p.ServicePressure != 0.8 {
				t.Fatalf("profiles: %+v", profiles)
			}
		})
	}
}

func TestPlans(t *testing.T) {
	ctx := context.Background()
	day := model.MustDate("2026-02-18")
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.GetPlan(ctx, day); !errors.Is(err, ErrNotFound) {
				t.Fatalf("want ErrNotFound, got %v", err)
			}
			plan := model.DispatchPlan{
				RunID:      "run-1",
				Date:       day,
				ComputedAt: time.Date(2026, 2, 18, 6, 0, 0, 0, time.UTC),
				VisitsByInspector: map[string][]model.PlannedVisit{
					"I1": {{Obligation: model.Obligation{ID: "W1:2026-02-18:CADENCE", WorkID: "W1", Type: model.VisitCadence}, InspectorID: "I1", Score: 48, RouteIndex: 1}},
				},
				Totals: model.PlanTotals{Planned: 1, Optional: 1},
			}
			if err := s.SavePlan(ctx, plan); err != nil {
				t.Fatalf("save: %v", err)
			}
			plan.RunID = "run-2"
			if err := s.SavePlan(ctx, plan); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := s.GetPlan(ctx, day)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.RunID != "run-2" || got.Totals.Planned != 1 || got.VisitsByInspector["I1"][0].Score != 48 {
				t.Fatalf("plan: %+v", got)
			}
			if _, ok := got.FindVisit("W1:2026-02-18:CADENCE"); !ok {
				t.Fatalf("visit lost in round trip")
			}
		})
	}
}

func TestWebhookQueue(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			body := []byte(`{"id":"evt_1","type":"plan.computed"}`)
			id, err := s.EnqueueWebhook(ctx, "plan.computed", "http://hook.example/a", "secret", body)
			if err != nil || id == "" {
				t.Fatalf("enqueue: %v", err)
			}
			again, _ := s.EnqueueWebhook(ctx, "plan.computed", "http://hook.example/a", "secret", body)
			if again != id {
				t.Fatalf("same event to same url must dedupe: %s vs %s", again, id)
			}
			due, err := s.FetchDueWebhookDeliveries(ctx, 10)
			if err != nil || len(due) != 1 || due[0].Secret != "secret" || string(due[0].Payload) != string(body) {
				t.Fatalf("due: %+v err=%v", due, err)
			}
			later := time.Now().Add(time.Hour)
			if err := s.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 3); err != nil {
				t.Fatalf("mark: %v", err)
			}
			if due, _ := s.FetchDueWebhookDeliveries(ctx, 10); len(due) != 0 {
				t.Fatalf("retry scheduled later must not be due: %+v", due)
			}
			if err := s.FailWebhookDelivery(ctx, "missing", "", 0, 0); !errors.Is(err, ErrNotFound) {
				t.Fatalf("want ErrNotFound, got %v", err)
			}
		})
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := newSQLite(t)
	v, err := s.Migrate(context.Background())
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if v != 1 {
		t.Fatalf("schema version: got %d", v)
	}
}

func TestRebind(t *testing.T) {
	pg := &SQL{driver: "pgx"}
	if got := pg.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Fatalf("rebind: %s", got)
	}
	lite := &SQL{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite must keep ?: %s", got)
	}
}

func TestComputeDedupKey(t *testing.T) {
	if got := computeDedupKey([]byte(`{"id":"evt_123","type":"x"}`)); got != "evt_123" {
		t.Fatalf("want evt_123, got %s", got)
	}
	// hex-encoded first 8 bytes -> 16 hex chars
	if got := computeDedupKey([]byte(`{"notId":"x"}`)); len(got) != 16 {
		t.Fatalf("hash key: %q", got)
	}
}

func TestUpsertRejectsInvalidWork(t *testing.T) {
	bad := model.Work{ID: "W9", Status: "DONE", StartDate: model.MustDate("2026-02-01"), EndDate: model.MustDate("2026-02-02")}
	for name, s := range map[string]Store{"memory": NewMemory(), "sqlite": newSQLite(t)} {
		if err := s.UpsertWorks(context.Background(), []model.Work{bad}); !errors.Is(err, model.ErrInvalidInput) {
			t.Fatalf("%s: want ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestConnect(t *testing.T) {
	ctx := context.Background()
	for _, c := range []struct{ driver, dsn string }{
		{"memory", ""},
		{"sqlite", filepath.Join(t.TempDir(), "connect.db")},
	} {
		st, err := Connect(ctx, c.driver, c.dsn, "testdata/fixtures.yml")
		if err != nil {
			t.Fatalf("%s: %v", c.driver, err)
		}
		roster, err := st.Roster(ctx)
		if err != nil || len(roster) != 3 {
			t.Fatalf("%s roster: %d %v", c.driver, len(roster), err)
		}
		_ = st.Close()
	}
	if _, err := Connect(ctx, "mysql", "x", ""); err == nil {
		t.Fatalf("unknown driver should fail")
	}
	if _, err := Connect(ctx, "memory", "", "testdata/missing.yml"); err == nil {
		t.Fatalf("missing fixtures should fail")
	}
}

func TestWritesDropStalePlans(t *testing.T) {
	ctx := context.Background()
	day := model.MustDate("2026-02-18")
	next := day.AddDays(1)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			save := func() {
				t.Helper()
				for _, d := range []model.Date{day, next} {
					if err := s.SavePlan(ctx, model.DispatchPlan{RunID: "run-" + d.String(), Date: d}); err != nil {
						t.Fatalf("save %s: %v", d, err)
					}
				}
			}
			stored := func(d model.Date) bool {
				_, err := s.GetPlan(ctx, d)
				return err == nil
			}

			save()
			if err := s.SetAvailability(ctx, model.Availability{Date: day, Absent: []string{"I1"}}); err != nil {
				t.Fatal(err)
			}
			if stored(day) || !stored(next) {
				t.Fatalf("availability change drops only its own date: day=%v next=%v", stored(day), stored(next))
			}

			writes := map[string]func() error{
				"works": func() error {
					return s.UpsertWorks(ctx, []model.Work{{ID: "W9", Status: model.StatusPermitted, StartDate: day, EndDate: next, Postcode: "2000"}})
				},
				"roster": func() error {
					return s.PutRoster(ctx, []model.Inspector{{ID: "I1", Name: "An", PrimaryPostcodes: []string{"2000"}}})
				},
				"profiles": func() error {
					return s.UpsertImpactProfiles(ctx, []model.ImpactProfile{{Postcode: "2060", PopulationDensity: 9000}})
				},
			}
			for what, write := range writes {
				save()
				if err := write(); err != nil {
					t.Fatalf("%s: %v", what, err)
				}
				if stored(day) || stored(next) {
					t.Fatalf("%s change must drop every stored plan", what)
				}
			}
		})
	}
}
