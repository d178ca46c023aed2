package model

import "time"

// Core domain types for the inspector dispatch.

type WorkStatus string

const (
	StatusPermitted WorkStatus = "PERMITTED"
	StatusInEffect  WorkStatus = "IN_EFFECT"
)

type LocationPrecision string

const (
	PrecisionExact    LocationPrecision = "exact"
	PrecisionPostcode LocationPrecision = "postcode-centroid"
)

type PermitStatus string

const (
	PermitLinked  PermitStatus = "linked"
	PermitPending PermitStatus = "pending"
	PermitMissing PermitStatus = "missing"
)

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// Work is a permitted or running utility excavation.
type Work struct {
	ID                string            `json:"id" yaml:"id"`
	DossierID         string            `json:"dossierId,omitempty" yaml:"dossierId,omitempty"`
	GipodID           string            `json:"gipodId,omitempty" yaml:"gipodId,omitempty"`
	ReferenceKey      string            `json:"referenceKey,omitempty" yaml:"referenceKey,omitempty"`
	Status            WorkStatus        `json:"status" yaml:"status"`
	StartDate         Date              `json:"startDate" yaml:"startDate"`
	EndDate           Date              `json:"endDate" yaml:"endDate"`
	Postcode          string            `json:"postcode" yaml:"postcode"`
	Street            string            `json:"street,omitempty" yaml:"street,omitempty"`
	HouseNumber       string            `json:"houseNumber,omitempty" yaml:"houseNumber,omitempty"`
	UtilityOperator   string            `json:"utilityOperator,omitempty" yaml:"utilityOperator,omitempty"`
	Location          *GeoPoint         `json:"location,omitempty" yaml:"location,omitempty"`
	LocationPrecision LocationPrecision `json:"locationPrecision,omitempty" yaml:"locationPrecision,omitempty"`
	PermitStatus      PermitStatus      `json:"permitStatus,omitempty" yaml:"permitStatus,omitempty"`
}

// Validate checks the invariants the import pipeline is supposed to guarantee.
func (w Work) Validate() error {
	switch {
	case w.ID == "":
		return &InputError{Kind: "work", Reason: "missing id"}
	case w.Status != StatusPermitted && w.Status != StatusInEffect:
		return &InputError{Kind: "work", ID: w.ID, Reason: "unknown status " + string(w.Status)}
	case w.StartDate.IsZero() || w.EndDate.IsZero():
		return &InputError{Kind: "work", ID: w.ID, Reason: "missing start or end date"}
	case w.EndDate.Before(w.StartDate):
		return &InputError{Kind: "work", ID: w.ID, Reason: "end date before start date"}
	}
	return nil
}

type Inspector struct {
	ID               string   `json:"id" yaml:"id"`
	Initials         string   `json:"initials,omitempty" yaml:"initials,omitempty"`
	Name             string   `json:"name" yaml:"name"`
	Color            string   `json:"color,omitempty" yaml:"color,omitempty"`
	PrimaryPostcodes []string `json:"primaryPostcodes" yaml:"primaryPostcodes"`
	BackupPostcodes  []string `json:"backupPostcodes,omitempty" yaml:"backupPostcodes,omitempty"`
	Reserve          bool     `json:"reserve,omitempty" yaml:"reserve,omitempty"`
	ActiveFrom       *Date    `json:"activeFrom,omitempty" yaml:"activeFrom,omitempty"`
	ActiveUntil      *Date    `json:"activeUntil,omitempty" yaml:"activeUntil,omitempty"`
}

// Employed reports whether d falls inside the inspector's employment window.
func (i Inspector) Employed(d Date) bool {
	if i.ActiveFrom != nil && d.Before(*i.ActiveFrom) {
		return false
	}
	if i.ActiveUntil != nil && d.After(*i.ActiveUntil) {
		return false
	}
	return true
}

func (i Inspector) CoversPrimary(postcode string) bool { return contains(i.PrimaryPostcodes, postcode) }
func (i Inspector) CoversBackup(postcode string) bool  { return contains(i.BackupPostcodes, postcode) }

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Availability lists the exceptions for one date.
type Availability struct {
	Date     Date     `json:"date" yaml:"date"`
	Absent   []string `json:"absent,omitempty" yaml:"absent,omitempty"`
	Inactive []string `json:"inactive,omitempty" yaml:"inactive,omitempty"`
}

// Unavailable reports whether the inspector is absent or inactive.
func (a Availability) Unavailable(inspectorID string) bool {
	return contains(a.Absent, inspectorID) || contains(a.Inactive, inspectorID)
}

// ImpactProfile holds the socio-spatial indicators of a postal area. All
// fields except PopulationDensity are 0..1 ratios.
type ImpactProfile struct {
	Postcode            string  `json:"postcode" yaml:"postcode"`
	PopulationDensity   float64 `json:"populationDensity" yaml:"populationDensity"`
	VulnerableShare     float64 `json:"vulnerableShare" yaml:"vulnerableShare"`
	ServicePressure     float64 `json:"servicePressure" yaml:"servicePressure"`
	MobilitySensitivity float64 `json:"mobilitySensitivity" yaml:"mobilitySensitivity"`
}

type VisitType string

const (
	VisitStart   VisitType = "START"
	VisitEnd     VisitType = "END"
	VisitCadence VisitType = "CADENCE"
)

// Obligation is a derived requirement to visit a work on a date.
type Obligation struct {
	ID           string    `json:"id"`
	WorkID       string    `json:"workId"`
	Work         Work      `json:"work"`
	Date         Date      `json:"date"`
	Type         VisitType `json:"type"`
	Mandatory    bool      `json:"mandatory"`
	SameDayClose bool      `json:"sameDayClose,omitempty"`
}

// ObligationID is the stable identity of a visit within a date.
func ObligationID(workID string, d Date, t VisitType) string {
	return workID + ":" + d.String() + ":" + string(t)
}

// VisitKey is the idempotency-key input handed to the sync gateway.
func VisitKey(obligationID, inspectorID string) string {
	return obligationID + "@" + inspectorID
}

type AssignmentRole string

const (
	RoleDedicated AssignmentRole = "DEDICATED"
	RoleBackup    AssignmentRole = "BACKUP"
	RoleReserve   AssignmentRole = "RESERVE"
)

type PlannedVisit struct {
	Obligation
	InspectorID          string          `json:"inspectorId"`
	PreferredInspectorID string          `json:"preferredInspectorId,omitempty"`
	Role                 AssignmentRole  `json:"role"`
	Score                int             `json:"score"`
	RouteIndex           int             `json:"routeIndex,omitempty"`
	Priority             *PriorityResult `json:"priority,omitempty"`
}

type FollowUpReason string

const (
	FollowUpEndPassed    FollowUpReason = "END_PASSED"
	FollowUpSameDayClose FollowUpReason = "SAME_DAY_CLOSE"
)

// FollowUpTask is a closure confirmation by phone or mail; it is never routed.
type FollowUpTask struct {
	ID          string         `json:"id"`
	WorkID      string         `json:"workId"`
	Work        Work           `json:"work"`
	InspectorID string         `json:"inspectorId,omitempty"`
	Reason      FollowUpReason `json:"reason"`
	DaysOverdue int            `json:"daysOverdue"`
	Channel     string         `json:"channel"`
}

type UnassignedReason string

const (
	ReasonCapacity             UnassignedReason = "CAPACITY"
	ReasonNoCoverage           UnassignedReason = "NO_COVERAGE"
	ReasonPreferredUnavailable UnassignedReason = "PREFERRED_UNAVAILABLE"
)

type UnassignedVisit struct {
	Obligation
	PreferredInspectorID string           `json:"preferredInspectorId,omitempty"`
	Reason               UnassignedReason `json:"reason"`
	Score                int              `json:"score"`
}

type RouteLeg struct {
	Seq          int    `json:"seq"`
	FromVisitID  string `json:"fromVisitId"`
	ToVisitID    string `json:"toVisitId"`
	StraightLine int    `json:"straightLineM"`
}

type Route struct {
	InspectorID string     `json:"inspectorId"`
	VisitIDs    []string   `json:"visitIds"`
	Legs        []RouteLeg `json:"legs,omitempty"`
	TotalM      int        `json:"totalM"`
}

type PlanTotals struct {
	Planned             int `json:"planned"`
	Mandatory           int `json:"mandatory"`
	Optional            int `json:"optional"`
	OverflowInspectors  int `json:"overflowInspectors"`
	AtHardCapacity      int `json:"atHardCapacity"`
	FollowUps           int `json:"followUps"`
	Unassigned          int `json:"unassigned"`
	UnassignedMandatory int `json:"unassignedMandatory"`
}

// DispatchPlan is the per-date output. It is recomputed wholesale.
type DispatchPlan struct {
	RunID                      string                    `json:"runId,omitempty"`
	Date                       Date                      `json:"date"`
	ComputedAt                 time.Time                 `json:"computedAt,omitempty"`
	VisitsByInspector          map[string][]PlannedVisit `json:"visitsByInspector"`
	FollowUpsByInspector       map[string][]FollowUpTask `json:"followUpsByInspector"`
	PreferredInspectorByWorkID map[string]string         `json:"preferredInspectorByWorkId"`
	Unassigned                 []UnassignedVisit         `json:"unassigned"`
	Routes                     map[string]Route          `json:"routes"`
	Totals                     PlanTotals                `json:"totals"`
}

// FindVisit looks a planned visit up by obligation ID.
func (p DispatchPlan) FindVisit(visitID string) (PlannedVisit, bool) {
	for _, visits := range p.VisitsByInspector {
		for _, v := range visits {
			if v.ID == visitID {
				return v, true
			}
		}
	}
	return PlannedVisit{}, false
}

type Level string

const (
	LevelLow    Level = "LAAG"
	LevelMedium Level = "MIDDEL"
	LevelHigh   Level = "HOOG"
)

type Action string

const (
	ActionCloseOut     Action = "close-out possible"
	ActionEscalate     Action = "escalate"
	ActionVerify       Action = "verify remediation"
	ActionInterimVisit Action = "schedule interim visit"
)

type PriorityResult struct {
	Score       int           `json:"score"`
	Level       Level         `json:"level"`
	Conflict    bool          `json:"conflict"`
	Action      Action        `json:"action"`
	Insights    []string      `json:"insights"`
	ProgressPct int           `json:"progressPct"`
	DaysToEnd   int           `json:"daysToEnd"`
	Impact      *ImpactResult `json:"impact,omitempty"`
}

type ImpactResult struct {
	Postcode string   `json:"postcode,omitempty"`
	Score    int      `json:"score"`
	Level    Level    `json:"level"`
	Delta    int      `json:"delta"`
	Reasons  []string `json:"reasons"`
}
