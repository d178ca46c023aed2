// Package priority scores a planned visit's urgency, detects conflicts with
// the inspector's other visits, and recommends an action.
package priority

import (
	"fmt"
	"math"

	"nutsdispatch/internal/impact"
	"nutsdispatch/internal/model"
)

// Score components.
const (
	baseScore         = 18
	bonusMandatory    = 20
	bonusStartEnd     = 10
	bonusImminent     = 30 // days to end <= 3
	bonusApproaching  = 18 // days to end <= 14
	bonusOnRoute      = 8
	bonusRouteHead    = 6 // route position <= 3
	bonusConflict     = 16
	bonusPostcodeOnly = 4
	bonusPermitted    = 6
	bonusPastEnd      = 12

	imminentDays    = 3
	approachingDays = 14
	routeHeadLen    = 3

	conflictUrgentOthers = 2
	conflictBusyOthers   = 5
	conflictSamePostcode = 2

	maxInsights = 3
)

// Input is everything needed to score one visit.
type Input struct {
	Visit model.Obligation
	// DayVisits is the inspector's full visit list for the date; the visit
	// itself may be included and is skipped by ID.
	DayVisits  []model.Obligation
	Date       model.Date
	RouteIndex int // 0 when the visit is not on a route
	Impact     *model.ImpactProfile
}

// Evaluate scores the visit and builds its recommendation.
func Evaluate(in Input) model.PriorityResult {
	w := in.Visit.Work
	daysToEnd := in.Date.DaysUntil(w.EndDate)
	imp := impact.Evaluate(in.Impact)
	conflict := DetectConflict(in.Visit, in.DayVisits, in.Date)

	score := baseScore
	if in.Visit.Mandatory {
		score += bonusMandatory
	}
	if in.Visit.Type == model.VisitStart || in.Visit.Type == model.VisitEnd {
		score += bonusStartEnd
	}
	switch {
	case daysToEnd <= imminentDays:
		score += bonusImminent
	case daysToEnd <= approachingDays:
		score += bonusApproaching
	}
	if in.RouteIndex > 0 {
		score += bonusOnRoute
		if in.RouteIndex <= routeHeadLen {
			score += bonusRouteHead
		}
	}
	if conflict {
		score += bonusConflict
	}
	if w.LocationPrecision == model.PrecisionPostcode {
		score += bonusPostcodeOnly
	}
	if w.Status == model.StatusPermitted {
		score += bonusPermitted
	}
	if daysToEnd < 0 {
		score += bonusPastEnd
	}
	if imp != nil {
		score += imp.Delta
	}
	score = clamp(score, 0, 100)
	level := LevelFor(score)

	return model.PriorityResult{
		Score:       score,
		Level:       level,
		Conflict:    conflict,
		Action:      Recommend(in.Visit.Type, daysToEnd, conflict, level),
		Insights:    insights(in, daysToEnd, conflict, imp),
		ProgressPct: Progress(w, in.Date),
		DaysToEnd:   daysToEnd,
		Impact:      imp,
	}
}

// LevelFor maps a priority score to LAAG / MIDDEL / HOOG.
func LevelFor(score int) model.Level {
	switch {
	case score >= 70:
		return model.LevelHigh
	case score >= 45:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

// DetectConflict looks at the inspector's other visits for the date.
func DetectConflict(visit model.Obligation, day []model.Obligation, date model.Date) bool {
	others, urgent, samePostcode := 0, 0, 0
	for _, o := range day {
		if o.ID == visit.ID {
			continue
		}
		others++
		if date.DaysUntil(o.Work.EndDate) <= imminentDays {
			urgent++
		}
		if o.Work.Postcode == visit.Work.Postcode {
			samePostcode++
		}
	}
	return urgent >= conflictUrgentOthers || others >= conflictBusyOthers || samePostcode >= conflictSamePostcode
}

// Recommend picks the first matching action.
func Recommend(t model.VisitType, daysToEnd int, conflict bool, level model.Level) model.Action {
	switch {
	case daysToEnd <= 0:
		return model.ActionCloseOut
	case conflict && level == model.LevelHigh:
		return model.ActionEscalate
	case t == model.VisitEnd || daysToEnd <= imminentDays:
		return model.ActionVerify
	default:
		return model.ActionInterimVisit
	}
}

// Progress is the elapsed share of the work's date range, 0..100.
func Progress(w model.Work, date model.Date) int {
	total := w.StartDate.DaysUntil(w.EndDate)
	elapsed := w.StartDate.DaysUntil(date)
	if total <= 0 {
		if elapsed >= 0 {
			return 100
		}
		return 0
	}
	return clamp(int(math.Round(float64(elapsed)/float64(total)*100)), 0, 100)
}

func insights(in Input, daysToEnd int, conflict bool, imp *model.ImpactResult) []string {
	var out []string
	if daysToEnd <= approachingDays {
		switch {
		case daysToEnd < 0:
			out = append(out, fmt.Sprintf("ended %d days ago", -daysToEnd))
		case daysToEnd == 0:
			out = append(out, "ends today")
		default:
			out = append(out, fmt.Sprintf("ends in %d days", daysToEnd))
		}
	}
	if in.Visit.Type == model.VisitCadence {
		out = append(out, "cadence visit due today")
	}
	if in.RouteIndex > 0 {
		out = append(out, fmt.Sprintf("on today's route at position %d", in.RouteIndex))
	}
	if conflict {
		out = append(out, "conflicts with other visits in this inspector's day")
	}
	if imp != nil {
		out = append(out, fmt.Sprintf("impact %s (%d)", imp.Level, imp.Score))
	}
	if len(out) > maxInsights {
		out = out[:maxInsights]
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
