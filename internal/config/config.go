package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config models the collection rulebook: which species may be collected,
// where, and when. It is seeded into the ledger at init and read back from
// there; the YAML form exists for import/export.
type Config struct {
	Species struct {
		Allowed []string `yaml:"allowed" json:"allowed"`
	} `yaml:"species" json:"species"`
	// GeoFences maps species to a rectangular bounding box. Species without
	// an entry pass the geo-fence check unconditionally. Real deployments
	// need polygon regions; the box is a deliberate placeholder.
	GeoFences map[string]GeoFence `yaml:"geo_fences" json:"geo_fences,omitempty"`
	// Seasons maps species to allowed months (1-12). Species without an
	// entry are collectible year-round.
	Seasons  map[string][]int `yaml:"seasons" json:"seasons,omitempty"`
	Webhooks []WebhookConfig  `yaml:"webhooks" json:"webhooks,omitempty"`
}

type GeoFence struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Species.Allowed) == 0 {
		return fmt.Errorf("config.species.allowed must not be empty")
	}
	for i, s := range c.Species.Allowed {
		if s == "" {
			return fmt.Errorf("config.species.allowed[%d] is empty", i)
		}
	}
	for species, fence := range c.GeoFences {
		if species == "" {
			return fmt.Errorf("config.geo_fences contains empty species name")
		}
		if fence.MinLat > fence.MaxLat {
			return fmt.Errorf("geo fence for %s: min_lat > max_lat", species)
		}
		if fence.MinLon > fence.MaxLon {
			return fmt.Errorf("geo fence for %s: min_lon > max_lon", species)
		}
	}
	for species, months := range c.Seasons {
		if species == "" {
			return fmt.Errorf("config.seasons contains empty species name")
		}
		if len(months) == 0 {
			return fmt.Errorf("season for %s has no months; omit the entry to allow year-round", species)
		}
		for _, m := range months {
			if m < 1 || m > 12 {
				return fmt.Errorf("season for %s has invalid month %d", species, m)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Default returns the seed rulebook used when no config record exists.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `species:
  allowed:
    - Withania somnifera
    - Curcuma longa
    - Ocimum tenuiflorum
    - Bacopa monnieri
    - Centella asiatica

geo_fences:
  Withania somnifera:
    min_lat: 20
    max_lat: 35
    min_lon: 70
    max_lon: 90

seasons:
  Withania somnifera: [10, 11, 12, 1, 2]
  Curcuma longa: [1, 2, 3, 11, 12]
  Ocimum tenuiflorum: [1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12]
`
