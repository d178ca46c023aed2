package csvfeed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nutsdispatch/internal/integrations"
	"nutsdispatch/internal/model"
)

var _ integrations.WorksFeed = (*Feed)(nil)

const export = `ID,GIPOD_ID,Status,Start_Date,End_Date,Postcode,Street,Lat,Lng,Permit_Status
W1,19183552,IN_EFFECT,2026-02-10,2026-02-20,2000,Meir,51.2181,4.4041,linked
W2,,vergund,2026-02-18,2026-02-18,2018,,,,
W3,,DONE,2026-02-18,2026-02-19,2060,,,,
W4,,PERMITTED,2026-02-20,2026-02-18,2060,,,,
W5,,in-effect,2026-02-01,2026-02-28,2140,,51.x,4.4,
`

func TestFetchWorks(t *testing.T) {
	batch, err := FromReader(strings.NewReader(export)).FetchWorks(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(batch.Works) != 2 {
		t.Fatalf("works: %+v", batch.Works)
	}
	w1 := batch.Works[0]
	if w1.Status != model.StatusInEffect || w1.Location == nil || w1.LocationPrecision != model.PrecisionExact || w1.PermitStatus != model.PermitLinked || w1.GipodID != "19183552" {
		t.Fatalf("W1: %+v", w1)
	}
	w2 := batch.Works[1]
	if w2.Status != model.StatusPermitted || w2.Location != nil || w2.LocationPrecision != model.PrecisionPostcode {
		t.Fatalf("W2: %+v", w2)
	}
	if len(batch.Skipped) != 3 {
		t.Fatalf("skipped: %+v", batch.Skipped)
	}
	if batch.Skipped[0].Line != 4 {
		t.Fatalf("line numbers count the header: %+v", batch.Skipped[0])
	}
}

func TestMissingColumn(t *testing.T) {
	_, err := FromReader(strings.NewReader("id,status,postcode\nW1,PERMITTED,2000\n")).FetchWorks(context.Background())
	if err == nil || !strings.Contains(err.Error(), "start_date") {
		t.Fatalf("want missing column error, got %v", err)
	}
}

func TestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "works.csv")
	if err := os.WriteFile(path, []byte(export), 0o600); err != nil {
		t.Fatal(err)
	}
	batch, err := New(path).FetchWorks(context.Background())
	if err != nil || len(batch.Works) != 2 {
		t.Fatalf("file feed: %d works, err=%v", len(batch.Works), err)
	}
	if _, err := New(filepath.Join(t.TempDir(), "nope.csv")).FetchWorks(context.Background()); err == nil {
		t.Fatalf("missing file should fail")
	}
}
