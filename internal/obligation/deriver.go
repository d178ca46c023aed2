// Package obligation derives the visits a work requires on a given date.
package obligation

import (
	"sort"

	"nutsdispatch/internal/model"
)

// DefaultCadenceInterval alternates cadence checks so that a running work is
// never left two calendar days in a row without a visit.
const DefaultCadenceInterval = 2

// Deriver turns work lifecycles into visit obligations.
type Deriver struct {
	// CadenceInterval is 1 (daily) or 2 (every other day, counted from start).
	CadenceInterval int
	// FollowUpWindowDays limits closure follow-ups to this many days after
	// the end date; 0 means no limit.
	FollowUpWindowDays int
}

func (d Deriver) interval() int {
	if d.CadenceInterval == 1 {
		return 1
	}
	return DefaultCadenceInterval
}

// Derive returns at most one obligation for the work on date. START takes
// precedence over END when a work starts and ends the same day.
func (d Deriver) Derive(w model.Work, date model.Date) (model.Obligation, bool) {
	if date.Before(w.StartDate) || date.After(w.EndDate) {
		return model.Obligation{}, false
	}
	switch {
	case date == w.StartDate:
		ob := newObligation(w, date, model.VisitStart, true)
		ob.SameDayClose = w.StartDate == w.EndDate
		return ob, true
	case date == w.EndDate:
		return newObligation(w, date, model.VisitEnd, true), true
	case w.Status == model.StatusInEffect && d.CadenceDue(w, date):
		return newObligation(w, date, model.VisitCadence, false), true
	}
	return model.Obligation{}, false
}

// CadenceDue reports whether a cadence check falls on date for a running work.
func (d Deriver) CadenceDue(w model.Work, date model.Date) bool {
	offset := w.StartDate.DaysUntil(date)
	if offset <= 0 || !date.Before(w.EndDate) {
		return false
	}
	return offset%d.interval() == 0
}

// DeriveAll derives obligations for every work, ordered by obligation ID.
func (d Deriver) DeriveAll(works []model.Work, date model.Date) []model.Obligation {
	out := make([]model.Obligation, 0, len(works))
	for _, w := range works {
		if ob, ok := d.Derive(w, date); ok {
			out = append(out, ob)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FollowUpsDue returns the closure follow-ups owed on date: running works past
// their end date and single-day works closing today. InspectorID is left for
// the scheduler to fill in.
func (d Deriver) FollowUpsDue(works []model.Work, date model.Date) []model.FollowUpTask {
	var out []model.FollowUpTask
	for _, w := range works {
		switch {
		case w.StartDate == w.EndDate && date == w.EndDate:
			out = append(out, newFollowUp(w, date, model.FollowUpSameDayClose, 0))
		case w.Status == model.StatusInEffect && w.EndDate.Before(date):
			overdue := w.EndDate.DaysUntil(date)
			if d.FollowUpWindowDays > 0 && overdue > d.FollowUpWindowDays {
				continue
			}
			out = append(out, newFollowUp(w, date, model.FollowUpEndPassed, overdue))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func newObligation(w model.Work, date model.Date, t model.VisitType, mandatory bool) model.Obligation {
	return model.Obligation{
		ID:        model.ObligationID(w.ID, date, t),
		WorkID:    w.ID,
		Work:      w,
		Date:      date,
		Type:      t,
		Mandatory: mandatory,
	}
}

func newFollowUp(w model.Work, date model.Date, reason model.FollowUpReason, overdue int) model.FollowUpTask {
	channel := "phone"
	if overdue > 3 {
		channel = "mail"
	}
	return model.FollowUpTask{
		ID:          "fu:" + w.ID + ":" + date.String(),
		WorkID:      w.ID,
		Work:        w,
		Reason:      reason,
		DaysOverdue: overdue,
		Channel:     channel,
	}
}
