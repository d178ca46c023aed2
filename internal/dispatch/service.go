// Package dispatch runs the daily planning cycle: it loads a snapshot from the
// injected source, computes the plan, stores it and tells interested parties.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nutsdispatch/internal/impact"
	"nutsdispatch/internal/metrics"
	"nutsdispatch/internal/model"
	"nutsdispatch/internal/opt"
	"nutsdispatch/internal/store"
)

// MaxWeekDays bounds Week requests.
const MaxWeekDays = 14

// Notifier is told about every freshly computed plan.
type Notifier interface {
	PlanComputed(ctx context.Context, plan model.DispatchPlan)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, plan model.DispatchPlan)

func (f NotifierFunc) PlanComputed(ctx context.Context, plan model.DispatchPlan) { f(ctx, plan) }

type Service struct {
	Source    store.Source
	Plans     store.PlanStore // optional; without it every Plan call recomputes
	Scheduler opt.Scheduler
	Notifiers []Notifier
	Now       func() time.Time
}

func NewService(src store.Source, plans store.PlanStore, o opt.Options, notifiers ...Notifier) *Service {
	return &Service{
		Source:    src,
		Plans:     plans,
		Scheduler: opt.NewScheduler(o),
		Notifiers: notifiers,
		Now:       time.Now,
	}
}

// InspectorDay is one inspector's share of a plan.
type InspectorDay struct {
	Date      model.Date           `json:"date"`
	Inspector model.Inspector      `json:"inspector"`
	Visits    []model.PlannedVisit `json:"visits"`
	FollowUps []model.FollowUpTask `json:"followUps"`
	Route     *model.Route         `json:"route,omitempty"`
}

type snapshot struct {
	works    []model.Work
	roster   []model.Inspector
	avail    model.Availability
	profiles map[string]model.ImpactProfile
}

func (s *Service) load(ctx context.Context, date model.Date) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if snap.works, err = s.Source.Works(gctx, date); err != nil {
			return fmt.Errorf("load works: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if snap.roster, err = s.Source.Roster(gctx); err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if snap.avail, err = s.Source.Availability(gctx, date); err != nil {
			return fmt.Errorf("load availability: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if snap.profiles, err = s.Source.ImpactProfiles(gctx); err != nil {
			return fmt.Errorf("load impact profiles: %w", err)
		}
		return nil
	})
	return snap, g.Wait()
}

// Plan returns the stored plan for date, computing it when none exists yet.
func (s *Service) Plan(ctx context.Context, date model.Date) (model.DispatchPlan, error) {
	if s.Plans != nil {
		p, err := s.Plans.GetPlan(ctx, date)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return model.DispatchPlan{}, fmt.Errorf("get plan %s: %w", date, err)
		}
	}
	return s.Recompute(ctx, date)
}

// Recompute rebuilds the plan for date from a fresh snapshot and replaces
// any stored plan.
func (s *Service) Recompute(ctx context.Context, date model.Date) (model.DispatchPlan, error) {
	start := time.Now()
	snap, err := s.load(ctx, date)
	if err != nil {
		metrics.PlansComputed.WithLabelValues("error").Inc()
		return model.DispatchPlan{}, err
	}
	plan, err := s.Scheduler.Assign(opt.Input{
		Date:         date,
		Works:        snap.works,
		Roster:       snap.roster,
		Availability: snap.avail,
		Impact:       snap.profiles,
	})
	if err != nil {
		metrics.PlansComputed.WithLabelValues("invalid").Inc()
		log.Printf("plan rejected date=%s err=%v", date, err)
		return model.DispatchPlan{}, err
	}
	plan.RunID = uuid.New().String()
	plan.ComputedAt = s.now().UTC()
	if s.Plans != nil {
		if err := s.Plans.SavePlan(ctx, plan); err != nil {
			metrics.PlansComputed.WithLabelValues("error").Inc()
			return model.DispatchPlan{}, err
		}
	}
	metrics.PlansComputed.WithLabelValues("ok").Inc()
	metrics.PlanDuration.Observe(time.Since(start).Seconds())
	metrics.ObservePlan(plan)
	t := plan.Totals
	log.Printf("plan computed date=%s run=%s planned=%d mandatory=%d unassigned=%d unassigned_mandatory=%d overflow=%d followups=%d",
		date, plan.RunID, t.Planned, t.Mandatory, t.Unassigned, t.UnassignedMandatory, t.OverflowInspectors, t.FollowUps)
	for _, n := range s.Notifiers {
		n.PlanComputed(ctx, plan)
	}
	return plan, nil
}

// Priority re-scores one planned visit against its inspector's day.
func (s *Service) Priority(ctx context.Context, date model.Date, visitID string) (model.PriorityResult, error) {
	plan, v, err := s.Visit(ctx, date, visitID)
	if err != nil {
		return model.PriorityResult{}, err
	}
	return s.Score(ctx, plan, v)
}

// Visit looks up a planned visit in the plan for date.
func (s *Service) Visit(ctx context.Context, date model.Date, visitID string) (model.DispatchPlan, model.PlannedVisit, error) {
	plan, err := s.Plan(ctx, date)
	if err != nil {
		return model.DispatchPlan{}, model.PlannedVisit{}, err
	}
	v, ok := plan.FindVisit(visitID)
	if !ok {
		return model.DispatchPlan{}, model.PlannedVisit{}, fmt.Errorf("visit %s on %s: %w", visitID, date, store.ErrNotFound)
	}
	return plan, v, nil
}

// Score evaluates v within plan, which must be the plan v was taken from.
func (s *Service) Score(ctx context.Context, plan model.DispatchPlan, v model.PlannedVisit) (model.PriorityResult, error) {
	profiles, err := s.Source.ImpactProfiles(ctx)
	if err != nil {
		return model.PriorityResult{}, fmt.Errorf("load impact profiles: %w", err)
	}
	return s.Scheduler.Evaluate(v, plan.VisitsByInspector[v.InspectorID], plan.Date, profiles), nil
}

// Impact evaluates a postcode; nil without error when no profile exists.
func (s *Service) Impact(ctx context.Context, postcode string) (*model.ImpactResult, error) {
	profiles, err := s.Source.ImpactProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load impact profiles: %w", err)
	}
	p, ok := profiles[postcode]
	if !ok {
		return nil, nil
	}
	return impact.Evaluate(&p), nil
}

func (s *Service) InspectorDay(ctx context.Context, date model.Date, inspectorID string) (InspectorDay, error) {
	roster, err := s.Source.Roster(ctx)
	if err != nil {
		return InspectorDay{}, fmt.Errorf("load roster: %w", err)
	}
	day := InspectorDay{Date: date}
	found := false
	for _, in := range roster {
		if in.ID == inspectorID {
			day.Inspector, found = in, true
			break
		}
	}
	if !found {
		return InspectorDay{}, fmt.Errorf("inspector %s: %w", inspectorID, store.ErrNotFound)
	}
	plan, err := s.Plan(ctx, date)
	if err != nil {
		return InspectorDay{}, err
	}
	day.Visits = plan.VisitsByInspector[inspectorID]
	if day.Visits == nil {
		day.Visits = []model.PlannedVisit{}
	}
	day.FollowUps = plan.FollowUpsByInspector[inspectorID]
	if day.FollowUps == nil {
		day.FollowUps = []model.FollowUpTask{}
	}
	if r, ok := plan.Routes[inspectorID]; ok {
		day.Route = &r
	}
	return day, nil
}

// Week returns the plans for days consecutive dates starting at from,
// computing missing ones in parallel.
func (s *Service) Week(ctx context.Context, from model.Date, days int) ([]model.DispatchPlan, error) {
	if days < 1 || days > MaxWeekDays {
		return nil, &model.InputError{Kind: "week", Reason: fmt.Sprintf("days must be 1..%d", MaxWeekDays)}
	}
	out := make([]model.DispatchPlan, days)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := 0; i < days; i++ {
		i := i
		g.Go(func() error {
			p, err := s.Plan(gctx, from.AddDays(i))
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
