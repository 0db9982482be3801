// Package rules holds the pure validation checks gating collection events
// and quality tests. No function here touches the ledger.
package rules

import (
	"herbledger/internal/config"
	"herbledger/internal/domain"
)

// Quality gate thresholds. A moisture reading above 10 percent or a
// contamination reading above 0.1 percent fails the whole test.
const (
	MoistureLimit      = 10.0
	ContaminationLimit = 0.1
)

// SpeciesAllowed reports whether species is on the allowed list.
func SpeciesAllowed(allowed []string, species string) bool {
	for _, s := range allowed {
		if s == species {
			return true
		}
	}
	return false
}

// GeoFenceAllowed checks the collection point against the species' bounding
// box. Species without a fence pass unconditionally.
func GeoFenceAllowed(fences map[string]config.GeoFence, species string, lat, lon float64) bool {
	fence, ok := fences[species]
	if !ok {
		return true
	}
	return lat >= fence.MinLat && lat <= fence.MaxLat && lon >= fence.MinLon && lon <= fence.MaxLon
}

// SeasonalWindowAllowed reports whether month (1-12) is in the species'
// allowed-month list. Species without a window are allowed year-round.
func SeasonalWindowAllowed(seasons map[string][]int, species string, month int) bool {
	months, ok := seasons[species]
	if !ok {
		return true
	}
	for _, m := range months {
		if m == month {
			return true
		}
	}
	return false
}

// EvaluateQualityGates scans results in order and fails on the first
// breached threshold. Test names other than moisture and contamination
// never change the outcome.
func EvaluateQualityGates(results []domain.TestResult) bool {
	for _, t := range results {
		if t.Name == "moisture" && t.Value > MoistureLimit {
			return false
		}
		if t.Name == "contamination" && t.Value > ContaminationLimit {
			return false
		}
	}
	return true
}
