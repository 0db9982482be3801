package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"herbledger/internal/config"
	"herbledger/internal/db"
	"herbledger/internal/domain"
	"herbledger/internal/engine"
	"herbledger/internal/ledger"
	"herbledger/internal/migrate"
	"herbledger/internal/rules"
)

// ConfigFileName is the workspace config looked up when no override is given.
const ConfigFileName = "herbledger.yaml"

// RulesRecord is the RULES_CONFIG sentinel payload. It is seeded from the
// active config so the thresholds in force are auditable from the ledger.
type RulesRecord struct {
	ObjectType         string                     `json:"objectType"`
	MoistureLimit      float64                    `json:"moistureLimit"`
	ContaminationLimit float64                    `json:"contaminationLimit"`
	GeoFences          map[string]config.GeoFence `json:"geoFences,omitempty"`
	Seasons            map[string][]int           `json:"seasons,omitempty"`
}

// LoadConfig resolves the effective config: an explicit override path, else
// <workspace>/herbledger.yaml, else built-in defaults.
func LoadConfig(workspace, override string) (*config.Config, error) {
	path := override
	if path == "" {
		candidate := filepath.Join(workspace, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Open opens the workspace database, runs migrations, seeds the sentinel
// records and returns a ready engine. The caller owns the returned *sql.DB.
func Open(ctx context.Context, workspace, configPath string) (engine.Engine, *sql.DB, error) {
	cfg, err := LoadConfig(workspace, configPath)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	if err := Seed(ctx, eng); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("seed ledger: %w", err)
	}
	return eng, conn, nil
}

// Seed writes the ALLOWED_SPECIES and RULES_CONFIG sentinel records when
// they are missing. Existing records are left alone so an operator edit of
// the ledger survives restarts.
func Seed(ctx context.Context, eng engine.Engine) error {
	tx, err := eng.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := eng.Store.GetRecordTx(ctx, tx, domain.SpeciesListKey); errors.Is(err, ledger.ErrNotFound) {
		list := domain.SpeciesList{ObjectType: domain.TypeSpeciesList, Species: eng.Config.Species.Allowed}
		payload, err := json.Marshal(list)
		if err != nil {
			return err
		}
		if err := eng.Store.PutRecordTx(ctx, tx, domain.SpeciesListKey, domain.TypeSpeciesList, payload); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if _, err := eng.Store.GetRecordTx(ctx, tx, domain.RulesConfigKey); errors.Is(err, ledger.ErrNotFound) {
		record := RulesRecord{
			ObjectType:         domain.TypeRulesConfig,
			MoistureLimit:      rules.MoistureLimit,
			ContaminationLimit: rules.ContaminationLimit,
			GeoFences:          eng.Config.GeoFences,
			Seasons:            eng.Config.Seasons,
		}
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		if err := eng.Store.PutRecordTx(ctx, tx, domain.RulesConfigKey, domain.TypeRulesConfig, payload); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return tx.Commit()
}
