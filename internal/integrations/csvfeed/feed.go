// Package csvfeed reads the works CSV export into dispatch works.
package csvfeed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"nutsdispatch/internal/integrations"
	"nutsdispatch/internal/model"
)

var required = []string{"id", "status", "start_date", "end_date", "postcode"}

// Feed parses a CSV export with a header row. Column names are matched
// case-insensitively; unknown columns are ignored.
type Feed struct {
	Path  string
	Comma rune
	open  func() (io.ReadCloser, error)
}

func New(path string) *Feed {
	return &Feed{Path: path, Comma: ',', open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// FromReader builds a feed over an already open export.
func FromReader(r io.Reader) *Feed {
	return &Feed{Comma: ',', open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil }}
}

func (f *Feed) Name() string { return "csv" }

func (f *Feed) FetchWorks(ctx context.Context) (integrations.WorkBatch, error) {
	var batch integrations.WorkBatch
	rc, err := f.open()
	if err != nil {
		return batch, fmt.Errorf("open works csv: %w", err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.Comma = f.Comma
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return batch, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, c := range required {
		if _, ok := cols[c]; !ok {
			return batch, fmt.Errorf("works csv: missing column %q", c)
		}
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			batch.Skipped = append(batch.Skipped, integrations.RowError{Line: line, Reason: err.Error()})
			continue
		}
		get := func(name string) string {
			if i, ok := cols[name]; ok && i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		w, err := parseRow(get)
		if err != nil {
			batch.Skipped = append(batch.Skipped, integrations.RowError{Line: line, Reason: err.Error()})
			continue
		}
		batch.Works = append(batch.Works, w)
	}
	return batch, nil
}

func parseRow(get func(string) string) (model.Work, error) {
	w := model.Work{
		ID:              get("id"),
		DossierID:       get("dossier_id"),
		GipodID:         get("gipod_id"),
		ReferenceKey:    get("reference_key"),
		Postcode:        get("postcode"),
		Street:          get("street"),
		HouseNumber:     get("house_number"),
		UtilityOperator: get("utility_operator"),
	}
	status, err := parseStatus(get("status"))
	if err != nil {
		return w, err
	}
	w.Status = status
	if w.StartDate, err = model.ParseDate(get("start_date")); err != nil {
		return w, err
	}
	if w.EndDate, err = model.ParseDate(get("end_date")); err != nil {
		return w, err
	}
	switch p := model.PermitStatus(strings.ToLower(get("permit_status"))); p {
	case model.PermitLinked, model.PermitPending, model.PermitMissing:
		w.PermitStatus = p
	}
	w.LocationPrecision = model.PrecisionPostcode
	if lat, lng := get("lat"), get("lng"); lat != "" && lng != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		lo, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			return w, fmt.Errorf("invalid coordinates %q,%q", lat, lng)
		}
		w.Location = &model.GeoPoint{Lat: la, Lng: lo}
		w.LocationPrecision = model.PrecisionExact
	}
	return w, w.Validate()
}

func parseStatus(s string) (model.WorkStatus, error) {
	switch strings.ToUpper(strings.ReplaceAll(s, "-", "_")) {
	case "PERMITTED", "VERGUND":
		return model.StatusPermitted, nil
	case "IN_EFFECT", "IN_UITVOERING":
		return model.StatusInEffect, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}
