package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"nutsdispatch/internal/model"
)

const fixtures = "../../internal/store/testdata/fixtures.yml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestPlanTable(t *testing.T) {
	out, err := run(t, "--fixtures", fixtures, "plan", "2026-02-18")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, want := range []string{"W2:2026-02-18:START", "BACKUP", "SAME_DAY_CLOSE", "planned=2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPlanJSONForInspector(t *testing.T) {
	out, err := run(t, "--fixtures", fixtures, "--json", "plan", "2026-02-18", "--inspector", "I1")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	var day struct {
		Inspector model.Inspector      `json:"inspector"`
		Visits    []model.PlannedVisit `json:"visits"`
	}
	if err := json.Unmarshal([]byte(out), &day); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if day.Inspector.ID != "I1" || len(day.Visits) != 2 {
		t.Fatalf("day: %+v", day)
	}
}

func TestPlanImportsCSVIntoSQLite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "works.csv")
	csv := "id,status,start_date,end_date,postcode\nW10,PERMITTED,2026-02-18,2026-02-25,2000\nbad,,,,\n"
	if err := os.WriteFile(csvPath, []byte(csv), 0o600); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(dir, "nuts.db")
	if _, err := run(t, "--driver", "sqlite", "--dsn", db, "--fixtures", fixtures, "plan", "2026-02-18", "--csv", csvPath); err != nil {
		t.Fatalf("plan with csv: %v", err)
	}
	// works persist in the database; no fixtures needed the second time
	out, err := run(t, "--driver", "sqlite", "--dsn", db, "plan", "2026-02-18")
	if err != nil {
		t.Fatalf("plan from db: %v", err)
	}
	if !strings.Contains(out, "W10:2026-02-18:START") {
		t.Fatalf("imported work not planned:\n%s", out)
	}
	out, err = run(t, "--driver", "sqlite", "--dsn", db, "migrate")
	if err != nil || !strings.Contains(out, "schema version 1") {
		t.Fatalf("migrate: %q %v", out, err)
	}
}

func TestWeekAndImpact(t *testing.T) {
	out, err := run(t, "--fixtures", fixtures, "week", "2026-02-18", "--days", "3")
	if err != nil {
		t.Fatalf("week: %v", err)
	}
	if !strings.Contains(out, "2026-02-20") || strings.Contains(out, "2026-02-21") {
		t.Fatalf("week output:\n%s", out)
	}
	if _, err := run(t, "--fixtures", fixtures, "week", "2026-02-18", "--days", "30"); err == nil {
		t.Fatalf("30 days should be rejected")
	}
	out, err = run(t, "--fixtures", fixtures, "impact", "2000")
	if err != nil || !strings.Contains(out, "2000") {
		t.Fatalf("impact: %q %v", out, err)
	}
	if _, err := run(t, "--fixtures", fixtures, "impact", "9999"); err == nil {
		t.Fatalf("unknown postcode should fail")
	}
}

func TestVersionAndBadInput(t *testing.T) {
	out, err := run(t, "version")
	if err != nil || !strings.HasPrefix(out, "nutsdispatch ") {
		t.Fatalf("version: %q %v", out, err)
	}
	if _, err := run(t, "plan", "18-02-2026"); err == nil {
		t.Fatalf("bad date should fail")
	}
	if _, err := run(t, "migrate"); err == nil {
		t.Fatalf("migrate on memory store should fail")
	}
}
