package config_test

import (
	"strings"
	"testing"

	"herbledger/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if len(cfg.Species.Allowed) == 0 {
		t.Fatalf("expected seeded species")
	}
	fence, ok := cfg.GeoFences["Withania somnifera"]
	if !ok {
		t.Fatalf("expected Withania geo fence")
	}
	if fence.MinLat >= fence.MaxLat || fence.MinLon >= fence.MaxLon {
		t.Fatalf("degenerate fence: %+v", fence)
	}
}

func TestValidateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no species",
			yaml: "species:\n  allowed: []\n",
			want: "must not be empty",
		},
		{
			name: "inverted fence",
			yaml: "species:\n  allowed: [a]\ngeo_fences:\n  a:\n    min_lat: 10\n    max_lat: 5\n",
			want: "min_lat > max_lat",
		},
		{
			name: "invalid month",
			yaml: "species:\n  allowed: [a]\nseasons:\n  a: [13]\n",
			want: "invalid month",
		},
		{
			name: "webhook without url",
			yaml: "species:\n  allowed: [a]\nwebhooks:\n  - events: [TagProvisioned]\n",
			want: "empty url",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestFromYAMLRoundTrip(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`species:
  allowed: [Curcuma longa]
seasons:
  Curcuma longa: [1, 2, 3]
webhooks:
  - url: http://localhost:9000/hook
    events: [RecallTriggered]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Events[0] != "RecallTriggered" {
		t.Fatalf("unexpected webhooks: %+v", cfg.Webhooks)
	}
	if months := cfg.Seasons["Curcuma longa"]; len(months) != 3 {
		t.Fatalf("unexpected seasons: %v", months)
	}
}
