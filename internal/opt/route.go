package opt

import (
	"math"
	"sort"

	"nutsdispatch/internal/model"
)

// IndexRoute orders one inspector's visits by descending score, then earlier
// end date, then obligation ID, and stamps 1-based route indices. The input
// slice is left untouched.
func IndexRoute(visits []model.PlannedVisit) []model.PlannedVisit {
	out := append([]model.PlannedVisit(nil), visits...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Work.EndDate != b.Work.EndDate {
			return a.Work.EndDate.Before(b.Work.EndDate)
		}
		return a.ID < b.ID
	})
	for i := range out {
		out[i].RouteIndex = i + 1
	}
	return out
}

// BuildRoute lays the indexed visits out as legs with straight-line
// distances. Visits without a location break the chain: the leg is kept
// with a zero distance so the map can still draw the sequence.
func BuildRoute(inspectorID string, visits []model.PlannedVisit) model.Route {
	r := model.Route{InspectorID: inspectorID, VisitIDs: make([]string, 0, len(visits))}
	for i, v := range visits {
		r.VisitIDs = append(r.VisitIDs, v.ID)
		if i == 0 {
			continue
		}
		prev := visits[i-1]
		leg := model.RouteLeg{Seq: i, FromVisitID: prev.ID, ToVisitID: v.ID}
		if a, b := prev.Work.Location, v.Work.Location; a != nil && b != nil {
			leg.StraightLine = int(math.Round(haversineMeters(a.Lat, a.Lng, b.Lat, b.Lng)))
		}
		r.TotalM += leg.StraightLine
		r.Legs = append(r.Legs, leg)
	}
	return r
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
