package opt

import (
	"sort"

	"nutsdispatch/internal/model"
	"nutsdispatch/internal/obligation"
	"nutsdispatch/internal/priority"
)

const (
	DefaultSoftCapacity = 5
	DefaultHardCapacity = 6
)

// Options tune the assignment engine.
type Options struct {
	SoftCapacity int
	HardCapacity int
	Deriver      obligation.Deriver
	// ReservePool adds inspector IDs to the reserve pool on top of inspectors
	// flagged Reserve in the roster.
	ReservePool []string
}

func DefaultOptions() Options {
	return Options{
		SoftCapacity: DefaultSoftCapacity,
		HardCapacity: DefaultHardCapacity,
		Deriver:      obligation.Deriver{CadenceInterval: obligation.DefaultCadenceInterval},
	}
}

// Input is one fully materialised snapshot for a date.
type Input struct {
	Date         model.Date
	Works        []model.Work
	Roster       []model.Inspector
	Availability model.Availability
	Impact       map[string]model.ImpactProfile
}

// Scheduler assigns a date's obligations to inspectors. It holds no state
// between calls; concurrent Assign calls are safe.
type Scheduler struct {
	opts Options
}

func NewScheduler(o Options) Scheduler {
	if o.SoftCapacity <= 0 {
		o.SoftCapacity = DefaultSoftCapacity
	}
	if o.HardCapacity <= 0 {
		o.HardCapacity = DefaultHardCapacity
	}
	if o.HardCapacity < o.SoftCapacity {
		o.HardCapacity = o.SoftCapacity
	}
	return Scheduler{opts: o}
}

func (s Scheduler) Options() Options { return s.opts }

type assignment struct {
	ob        model.Obligation
	role      model.AssignmentRole
	preferred string
}

// Assign builds the dispatch plan for in.Date. It fails only on structurally
// invalid input; scheduling shortfalls end up in plan.Unassigned.
func (s Scheduler) Assign(in Input) (model.DispatchPlan, error) {
	if err := validate(in); err != nil {
		return model.DispatchPlan{}, err
	}
	cov := newCoverage(in.Roster, in.Availability, in.Date, s.opts.ReservePool)
	plan := model.DispatchPlan{
		Date:                       in.Date,
		VisitsByInspector:          map[string][]model.PlannedVisit{},
		FollowUpsByInspector:       map[string][]model.FollowUpTask{},
		PreferredInspectorByWorkID: map[string]string{},
		Unassigned:                 []model.UnassignedVisit{},
		Routes:                     map[string]model.Route{},
	}

	load := map[string][]assignment{}
	unassign := func(ob model.Obligation, preferred string, reason model.UnassignedReason, score int) {
		plan.Unassigned = append(plan.Unassigned, model.UnassignedVisit{Obligation: ob, PreferredInspectorID: preferred, Reason: reason, Score: score})
	}

	// 1-2: preferred inspector, then backup / reserve for mandatory visits.
	for _, ob := range s.opts.Deriver.DeriveAll(in.Works, in.Date) {
		pref := cov.preferred(ob.Work.Postcode)
		if pref != "" {
			plan.PreferredInspectorByWorkID[ob.WorkID] = pref
		}
		if pref != "" && cov.available(pref) {
			load[pref] = append(load[pref], assignment{ob: ob, role: model.RoleDedicated, preferred: pref})
			continue
		}
		if !ob.Mandatory {
			reason := model.ReasonPreferredUnavailable
			if pref == "" {
				reason = model.ReasonNoCoverage
			}
			unassign(ob, pref, reason, s.evaluate(ob, nil, in, 0).Score)
			continue
		}
		id, role, ok := cov.fallback(ob.Work.Postcode, func(string) bool { return true })
		if !ok {
			unassign(ob, pref, model.ReasonNoCoverage, s.evaluate(ob, nil, in, 0).Score)
			continue
		}
		load[id] = append(load[id], assignment{ob: ob, role: role, preferred: pref})
	}

	// 3: hard capacity. Excess mandatory visits may spill to another eligible
	// inspector below the ceiling; everything else is surfaced as unassigned.
	for _, insp := range in.Roster {
		list := load[insp.ID]
		if len(list) <= s.opts.HardCapacity {
			continue
		}
		day := obligations(list)
		scores := make(map[string]int, len(list))
		for _, a := range list {
			scores[a.ob.ID] = s.evaluate(a.ob, day, in, 0).Score
		}
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if a.ob.Mandatory != b.ob.Mandatory {
				return a.ob.Mandatory
			}
			if scores[a.ob.ID] != scores[b.ob.ID] {
				return scores[a.ob.ID] > scores[b.ob.ID]
			}
			if a.ob.Work.EndDate != b.ob.Work.EndDate {
				return a.ob.Work.EndDate.Before(b.ob.Work.EndDate)
			}
			return a.ob.ID < b.ob.ID
		})
		load[insp.ID] = list[:s.opts.HardCapacity]
		for _, a := range list[s.opts.HardCapacity:] {
			if a.ob.Mandatory {
				self := insp.ID
				id, role, ok := cov.fallback(a.ob.Work.Postcode, func(c string) bool {
					return c != self && len(load[c]) < s.opts.HardCapacity
				})
				if ok {
					load[id] = append(load[id], assignment{ob: a.ob, role: role, preferred: a.preferred})
					continue
				}
			}
			unassign(a.ob, a.preferred, model.ReasonCapacity, scores[a.ob.ID])
		}
	}

	// Route order, then final scoring with the route position known.
	for _, insp := range in.Roster {
		list := load[insp.ID]
		day := obligations(list)
		visits := make([]model.PlannedVisit, 0, len(list))
		for _, a := range list {
			visits = append(visits, model.PlannedVisit{
				Obligation:           a.ob,
				InspectorID:          insp.ID,
				PreferredInspectorID: a.preferred,
				Role:                 a.role,
				Score:                s.evaluate(a.ob, day, in, 0).Score,
			})
		}
		visits = IndexRoute(visits)
		for i := range visits {
			res := s.evaluate(visits[i].Obligation, day, in, visits[i].RouteIndex)
			visits[i].Score = res.Score
			visits[i].Priority = &res
		}
		plan.VisitsByInspector[insp.ID] = visits
		if len(visits) > 0 {
			plan.Routes[insp.ID] = BuildRoute(insp.ID, visits)
		}
	}

	// 4: closure follow-ups stay with the preferred inspector.
	for _, fu := range s.opts.Deriver.FollowUpsDue(in.Works, in.Date) {
		owner := cov.preferred(fu.Work.Postcode)
		if owner != "" {
			plan.PreferredInspectorByWorkID[fu.WorkID] = owner
		} else if len(cov.reserve) > 0 {
			owner = cov.reserve[0]
		}
		fu.InspectorID = owner
		plan.FollowUpsByInspector[owner] = append(plan.FollowUpsByInspector[owner], fu)
	}

	sort.SliceStable(plan.Unassigned, func(i, j int) bool {
		a, b := plan.Unassigned[i], plan.Unassigned[j]
		if a.Mandatory != b.Mandatory {
			return a.Mandatory
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ID < b.ID
	})
	plan.Totals = s.totals(plan)
	return plan, nil
}

// Evaluate scores a single visit against an inspector's day. It is the
// on-demand entry point used outside of plan computation.
func (s Scheduler) Evaluate(v model.PlannedVisit, day []model.PlannedVisit, date model.Date, profiles map[string]model.ImpactProfile) model.PriorityResult {
	obs := make([]model.Obligation, 0, len(day))
	for _, d := range day {
		obs = append(obs, d.Obligation)
	}
	return s.evaluate(v.Obligation, obs, Input{Date: date, Impact: profiles}, v.RouteIndex)
}

func (s Scheduler) evaluate(ob model.Obligation, day []model.Obligation, in Input, routeIndex int) model.PriorityResult {
	var prof *model.ImpactProfile
	if p, ok := in.Impact[ob.Work.Postcode]; ok {
		prof = &p
	}
	return priority.Evaluate(priority.Input{Visit: ob, DayVisits: day, Date: in.Date, RouteIndex: routeIndex, Impact: prof})
}

func (s Scheduler) totals(plan model.DispatchPlan) model.PlanTotals {
	var t model.PlanTotals
	for _, visits := range plan.VisitsByInspector {
		t.Planned += len(visits)
		for _, v := range visits {
			if v.Mandatory {
				t.Mandatory++
			} else {
				t.Optional++
			}
		}
		if len(visits) >= s.opts.SoftCapacity {
			t.OverflowInspectors++
		}
		if len(visits) >= s.opts.HardCapacity {
			t.AtHardCapacity++
		}
	}
	for _, fus := range plan.FollowUpsByInspector {
		t.FollowUps += len(fus)
	}
	t.Unassigned = len(plan.Unassigned)
	for _, u := range plan.Unassigned {
		if u.Mandatory {
			t.UnassignedMandatory++
		}
	}
	return t
}

func obligations(list []assignment) []model.Obligation {
	out := make([]model.Obligation, 0, len(list))
	for _, a := range list {
		out = append(out, a.ob)
	}
	return out
}

func validate(in Input) error {
	if len(in.Roster) == 0 {
		return &model.InputError{Kind: "roster", Reason: "no inspectors"}
	}
	seen := make(map[string]bool, len(in.Roster))
	for _, insp := range in.Roster {
		if insp.ID == "" {
			return &model.InputError{Kind: "inspector", Reason: "missing id"}
		}
		if seen[insp.ID] {
			return &model.InputError{Kind: "inspector", ID: insp.ID, Reason: "duplicate id"}
		}
		seen[insp.ID] = true
	}
	for _, w := range in.Works {
		if err := w.Validate(); err != nil {
			return err
		}
	}
	if in.Date.IsZero() {
		return &model.InputError{Kind: "date", Reason: "missing target date"}
	}
	return nil
}
