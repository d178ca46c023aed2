package priority

import (
	"testing"

	"nutsdispatch/internal/model"
)

func ob(id, postcode string, t model.VisitType, mandatory bool, start, end string) model.Obligation {
	w := model.Work{ID: id, Status: model.StatusInEffect, Postcode: postcode, StartDate: model.MustDate(start), EndDate: model.MustDate(end), LocationPrecision: model.PrecisionExact}
	return model.Obligation{ID: id + ":" + string(t), WorkID: id, Work: w, Type: t, Mandatory: mandatory}
}

func TestScenarioImminentCadence(t *testing.T) {
	v := ob("W1", "2000", model.VisitCadence, false, "2026-02-10", "2026-02-20")
	date := model.MustDate("2026-02-18")
	r := Evaluate(Input{Visit: v, DayVisits: []model.Obligation{v}, Date: date})
	if r.DaysToEnd != 2 {
		t.Fatalf("daysToEnd: got %d", r.DaysToEnd)
	}
	// base 18 + imminent 30, no mandatory bonus
	if r.Score != 48 || r.Level != model.LevelMedium {
		t.Fatalf("got score=%d level=%s", r.Score, r.Level)
	}
	if r.Action != model.ActionVerify {
		t.Fatalf("action: got %s", r.Action)
	}
	if r.ProgressPct != 80 {
		t.Fatalf("progress: got %d", r.ProgressPct)
	}

	routed := Evaluate(Input{Visit: v, DayVisits: []model.Obligation{v}, Date: date, RouteIndex: 1})
	if routed.Score != 62 {
		t.Fatalf("route bonus: got %d", routed.Score)
	}
	want := []string{"ends in 2 days", "cadence visit due today", "on today's route at position 1"}
	if len(routed.Insights) != len(want) {
		t.Fatalf("insights: got %v", routed.Insights)
	}
	for i := range want {
		if routed.Insights[i] != want[i] {
			t.Fatalf("insight %d: got %q want %q", i, routed.Insights[i], want[i])
		}
	}
}

func TestScoreClamped(t *testing.T) {
	v := ob("W1", "2000", model.VisitEnd, true, "2026-01-01", "2026-02-01")
	v.Work.Status = model.StatusPermitted
	v.Work.LocationPrecision = model.PrecisionPostcode
	day := []model.Obligation{v}
	for i := 0; i < 6; i++ {
		day = append(day, ob(string(rune('A'+i)), "2000", model.VisitCadence, false, "2026-01-01", "2026-02-02"))
	}
	prof := &model.ImpactProfile{PopulationDensity: 15000, VulnerableShare: 1, ServicePressure: 1, MobilitySensitivity: 1}
	r := Evaluate(Input{Visit: v, DayVisits: day, Date: model.MustDate("2026-02-10"), RouteIndex: 1, Impact: prof})
	if r.Score != 100 || r.Level != model.LevelHigh {
		t.Fatalf("want clamped 100 HOOG, got %d %s", r.Score, r.Level)
	}
	if !r.Conflict {
		t.Fatalf("expected conflict")
	}
	if r.Action != model.ActionCloseOut {
		t.Fatalf("past end must recommend close-out, got %s", r.Action)
	}
	if len(r.Insights) != 3 {
		t.Fatalf("insights must be truncated to 3: %v", r.Insights)
	}
	if r.Impact == nil || r.Impact.Delta != 20 {
		t.Fatalf("impact delta: %+v", r.Impact)
	}
}

func TestDetectConflict(t *testing.T) {
	date := model.MustDate("2026-02-10")
	target := ob("T", "2000", model.VisitCadence, false, "2026-02-01", "2026-03-01")
	cases := []struct {
		name string
		day  []model.Obligation
		want bool
	}{
		{"alone", []model.Obligation{target}, false},
		{"two urgent", []model.Obligation{target,
			ob("A", "2018", model.VisitEnd, true, "2026-02-01", "2026-02-12"),
			ob("B", "2060", model.VisitEnd, true, "2026-02-01", "2026-02-11")}, true},
		{"one urgent", []model.Obligation{target,
			ob("A", "2018", model.VisitEnd, true, "2026-02-01", "2026-02-12")}, false},
		{"two same postcode", []model.Obligation{target,
			ob("A", "2000", model.VisitCadence, false, "2026-02-01", "2026-03-01"),
			ob("B", "2000", model.VisitCadence, false, "2026-02-01", "2026-03-01")}, true},
		{"five others", []model.Obligation{target,
			ob("A", "2018", model.VisitCadence, false, "2026-02-01", "2026-03-01"),
			ob("B", "2020", model.VisitCadence, false, "2026-02-01", "2026-03-01"),
			ob("C", "2030", model.VisitCadence, false, "2026-02-01", "2026-03-01"),
			ob("D", "2040", model.VisitCadence, false, "2026-02-01", "2026-03-01"),
			ob("E", "2050", model.VisitCadence, false, "2026-02-01", "2026-03-01")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DetectConflict(target, tc.day, date); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestConflictSymmetricForColocatedVisits(t *testing.T) {
	date := model.MustDate("2026-02-10")
	a := ob("A", "2000", model.VisitCadence, false, "2026-02-01", "2026-03-01")
	b := ob("B", "2000", model.VisitCadence, false, "2026-02-01", "2026-03-01")
	c := ob("C", "2000", model.VisitCadence, false, "2026-02-01", "2026-03-01")
	day := []model.Obligation{a, b, c}
	if !DetectConflict(a, day, date) {
		t.Fatalf("A should conflict")
	}
	if !DetectConflict(b, day, date) && !DetectConflict(c, day, date) {
		t.Fatalf("B or C should reflect the same co-located pair")
	}
}

func TestRecommend(t *testing.T) {
	cases := []struct {
		t        model.VisitType
		days     int
		conflict bool
		level    model.Level
		want     model.Action
	}{
		{model.VisitCadence, 0, true, model.LevelHigh, model.ActionCloseOut},
		{model.VisitCadence, 5, true, model.LevelHigh, model.ActionEscalate},
		{model.VisitCadence, 5, true, model.LevelMedium, model.ActionInterimVisit},
		{model.VisitEnd, 5, false, model.LevelLow, model.ActionVerify},
		{model.VisitCadence, 3, false, model.LevelLow, model.ActionVerify},
		{model.VisitStart, 20, false, model.LevelMedium, model.ActionInterimVisit},
	}
	for _, tc := range cases {
		if got := Recommend(tc.t, tc.days, tc.conflict, tc.level); got != tc.want {
			t.Fatalf("%+v: got %s", tc, got)
		}
	}
}

func TestLevelBoundaries(t *testing.T) {
	for score, want := range map[int]model.Level{0: model.LevelLow, 44: model.LevelLow, 45: model.LevelMedium, 69: model.LevelMedium, 70: model.LevelHigh, 100: model.LevelHigh} {
		if got := LevelFor(score); got != want {
			t.Fatalf("score %d: got %s want %s", score, got, want)
		}
	}
}

func TestProgress(t *testing.T) {
	w := model.Work{StartDate: model.MustDate("2026-02-05"), EndDate: model.MustDate("2026-02-05")}
	if p := Progress(w, model.MustDate("2026-02-05")); p != 100 {
		t.Fatalf("single day on the day: got %d", p)
	}
	if p := Progress(w, model.MustDate("2026-02-04")); p != 0 {
		t.Fatalf("single day before: got %d", p)
	}
	w.EndDate = model.MustDate("2026-02-15")
	if p := Progress(w, model.MustDate("2026-03-01")); p != 100 {
		t.Fatalf("clamped progress: got %d", p)
	}
}
