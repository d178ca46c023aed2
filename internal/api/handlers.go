package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"nutsdispatch/internal/auth"
	"nutsdispatch/internal/dispatch"
	"nutsdispatch/internal/model"
	"nutsdispatch/internal/store"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := s.Store.Ping(ctx); err != nil {
			writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, 200, map[string]string{"status": "ready"})
}

// PlanHandler serves GET /v1/plans/{date}.
func (s *Server) PlanHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	if _, ok := s.authorize(w, r, canPlan); !ok {
		return
	}
	plan, err := s.Svc.Plan(r.Context(), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, plan)
}

// RecomputeHandler serves POST /v1/plans/{date}.
func (s *Server) RecomputeHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	if _, ok := s.authorize(w, r, canPlan); !ok {
		return
	}
	plan, err := s.Svc.Recompute(r.Context(), date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, plan)
}

func (s *Server) InspectorDayHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "inspectorId")
	if _, ok := s.authorize(w, r, func(p auth.Principal) bool { return p.CanReadInspector(id) }); !ok {
		return
	}
	day, err := s.Svc.InspectorDay(r.Context(), date, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, day)
}

// PriorityHandler re-scores a planned visit. Inspectors may only score their
// own visits.
func (s *Server) PriorityHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	p, ok := s.authorize(w, r, nil)
	if !ok {
		return
	}
	plan, v, err := s.Svc.Visit(r.Context(), date, chi.URLParam(r, "visitId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !p.CanReadInspector(v.InspectorID) {
		writeProblem(w, http.StatusForbidden, "Forbidden", "visit belongs to another inspector", r.URL.Path)
		return
	}
	res, err := s.Svc.Score(r.Context(), plan, v)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, res)
}

// ImpactHandler serves GET /v1/impact/{postcode}; 404 when the postcode has
// no impact profile.
func (s *Server) ImpactHandler(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, nil); !ok {
		return
	}
	postcode := chi.URLParam(r, "postcode")
	res, err := s.Svc.Impact(r.Context(), postcode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res == nil {
		writeProblem(w, 404, "Impact profile not found", "no impact profile for postcode "+postcode, r.URL.Path)
		return
	}
	writeJSON(w, 200, res)
}

// WeekHandler serves GET /v1/week/{date}?days=N (default 7).
func (s *Server) WeekHandler(w http.ResponseWriter, r *http.Request) {
	date, ok := pathDate(w, r)
	if !ok {
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > dispatch.MaxWeekDays {
			writeProblem(w, 400, "Invalid days", "days must be 1.."+strconv.Itoa(dispatch.MaxWeekDays), r.URL.Path)
			return
		}
		days = n
	}
	if _, ok := s.authorize(w, r, canPlan); !ok {
		return
	}
	plans, err := s.Svc.Week(r.Context(), date, days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, 200, map[string]any{"from": date, "days": days, "plans": plans})
}

func pathDate(w http.ResponseWriter, r *http.Request) (model.Date, bool) {
	d, err := model.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeProblem(w, 400, "Invalid date", err.Error(), r.URL.Path)
		return d, false
	}
	return d, true
}

// fail maps service errors onto problem responses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, 404, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, model.ErrInvalidInput):
		writeProblem(w, 422, "Invalid dispatch input", err.Error(), r.URL.Path)
	case errors.Is(err, context.Canceled):
		writeProblem(w, 503, "Request cancelled", err.Error(), r.URL.Path)
	default:
		log.Printf("api error %s %s: %v", r.Method, r.URL.Path, err)
		writeProblem(w, 500, "Internal Server Error", "", r.URL.Path)
	}
}
