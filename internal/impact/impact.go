// Package impact scores the socio-spatial impact of a postal area.
package impact

import (
	"math"

	"nutsdispatch/internal/model"
)

const (
	densityCeiling = 15000.0

	wDensity    = 0.35
	wVulnerable = 0.30
	wService    = 0.20
	wMobility   = 0.15

	reasonThreshold = 0.7
	deltaFactor     = 0.2
)

// Factors are the four indicators after normalisation to [0,1].
type Factors struct {
	Density    float64
	Vulnerable float64
	Service    float64
	Mobility   float64
}

// Normalize scales density against [0, 15000] and clamps every ratio.
func Normalize(p model.ImpactProfile) Factors {
	return Factors{
		Density:    clamp01(p.PopulationDensity / densityCeiling),
		Vulnerable: clamp01(p.VulnerableShare),
		Service:    clamp01(p.ServicePressure),
		Mobility:   clamp01(p.MobilitySensitivity),
	}
}

// Evaluate returns nil when no profile is known for the area.
func Evaluate(p *model.ImpactProfile) *model.ImpactResult {
	if p == nil {
		return nil
	}
	f := Normalize(*p)
	sum := f.Density*wDensity + f.Vulnerable*wVulnerable + f.Service*wService + f.Mobility*wMobility
	score := clampInt(int(math.Round(sum*100)), 0, 100)
	return &model.ImpactResult{
		Postcode: p.Postcode,
		Score:    score,
		Level:    LevelFor(score),
		Delta:    int(math.Round(float64(score) * deltaFactor)),
		Reasons:  reasons(f),
	}
}

// LevelFor maps an impact score to its qualitative level.
func LevelFor(score int) model.Level {
	switch {
	case score >= 70:
		return model.LevelHigh
	case score >= 40:
		return model.LevelMedium
	default:
		return model.LevelLow
	}
}

func reasons(f Factors) []string {
	var out []string
	if f.Density >= reasonThreshold {
		out = append(out, "high population density")
	}
	if f.Vulnerable >= reasonThreshold {
		out = append(out, "large vulnerable population share")
	}
	if f.Service >= reasonThreshold {
		out = append(out, "high pressure on local services")
	}
	if f.Mobility >= reasonThreshold {
		out = append(out, "mobility-sensitive area")
	}
	if len(out) == 0 {
		return []string{"limited impact signal"}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
