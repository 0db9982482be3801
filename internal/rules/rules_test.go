package rules_test

import (
	"testing"

	"herbledger/internal/config"
	"herbledger/internal/domain"
	"herbledger/internal/rules"
)

func TestSpeciesAllowed(t *testing.T) {
	allowed := []string{"Withania somnifera", "Curcuma longa"}
	if !rules.SpeciesAllowed(allowed, "Curcuma longa") {
		t.Fatalf("expected listed species to pass")
	}
	if rules.SpeciesAllowed(allowed, "Papaver somniferum") {
		t.Fatalf("expected unlisted species to fail")
	}
	if rules.SpeciesAllowed(nil, "Curcuma longa") {
		t.Fatalf("expected empty list to reject everything")
	}
}

func TestGeoFenceBoundingBox(t *testing.T) {
	fences := config.Default().GeoFences
	cases := []struct {
		lat, lon float64
		want     bool
	}{
		{25, 80, true},
		{20, 70, true}, // inclusive corners
		{35, 90, true},
		{50, 80, false},
		{25, 95, false},
		{19.99, 80, false},
	}
	for _, c := range cases {
		got := rules.GeoFenceAllowed(fences, "Withania somnifera", c.lat, c.lon)
		if got != c.want {
			t.Errorf("GeoFenceAllowed(%v,%v) = %v, want %v", c.lat, c.lon, got, c.want)
		}
	}
}

func TestGeoFenceDefaultAllow(t *testing.T) {
	fences := config.Default().GeoFences
	if !rules.GeoFenceAllowed(fences, "Bacopa monnieri", -89, 179) {
		t.Fatalf("species without a fence must pass anywhere")
	}
}

func TestSeasonalWindow(t *testing.T) {
	seasons := config.Default().Seasons
	for _, m := range []int{10, 11, 12, 1, 2} {
		if !rules.SeasonalWindowAllowed(seasons, "Withania somnifera", m) {
			t.Errorf("month %d should be in season", m)
		}
	}
	for _, m := range []int{3, 4, 5, 6, 7, 8, 9} {
		if rules.SeasonalWindowAllowed(seasons, "Withania somnifera", m) {
			t.Errorf("month %d should be out of season", m)
		}
	}
}

func TestSeasonalWindowDefaultAllow(t *testing.T) {
	seasons := config.Default().Seasons
	for m := 1; m <= 12; m++ {
		if !rules.SeasonalWindowAllowed(seasons, "Centella asiatica", m) {
			t.Errorf("species without a window must pass in month %d", m)
		}
	}
}

func TestQualityGateBoundaries(t *testing.T) {
	cases := []struct {
		name    string
		results []domain.TestResult
		want    bool
	}{
		{"moisture at limit", []domain.TestResult{{Name: "moisture", Value: 10.0}}, true},
		{"moisture over limit", []domain.TestResult{{Name: "moisture", Value: 10.01}}, false},
		{"contamination at limit", []domain.TestResult{{Name: "contamination", Value: 0.1}}, true},
		{"contamination over limit", []domain.TestResult{{Name: "contamination", Value: 0.11}}, false},
		{"unknown test ignored", []domain.TestResult{{Name: "potency", Value: 999}}, true},
		{"empty results pass", nil, true},
		{"later failure still caught", []domain.TestResult{
			{Name: "moisture", Value: 5},
			{Name: "contamination", Value: 0.5},
		}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := rules.EvaluateQualityGates(c.results); got != c.want {
				t.Fatalf("got %v, want %v", got, c.want)
			}
		})
	}
}
