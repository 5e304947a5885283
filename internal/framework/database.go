package framework

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"moduleadapter/pkg/framework"
)

func ConnectDB(stateDir string) (*sql.DB, error) {
	dbPath := filepath.Join(stateDir, "module.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

const configSchema = `
CREATE TABLE IF NOT EXISTS module_config (
	module_id TEXT NOT NULL,
	impl_id   TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     TEXT NOT NULL,
	PRIMARY KEY (module_id, impl_id, key)
);
CREATE TABLE IF NOT EXISTS module_info (
	module_id TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	authors   TEXT NOT NULL,
	license   TEXT NOT NULL,
	path      TEXT NOT NULL,
	telemetry INTEGER NOT NULL
);`

// ConfigStore keeps the per-module configuration and metadata handed to the
// module at Init. Values are stored as JSON text.
type ConfigStore struct {
	db *sql.DB
}

func NewConfigStore(ctx context.Context, db *sql.DB) (*ConfigStore, error) {
	if _, err := db.ExecContext(ctx, configSchema); err != nil {
		return nil, fmt.Errorf("create config schema: %w", err)
	}
	return &ConfigStore{db: db}, nil
}

// SetConfig stores one entry. Module-level entries use framework.ModuleConfigKey
// as implID.
func (s *ConfigStore) SetConfig(ctx context.Context, moduleID, implID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode config %s.%s: %w", implID, key, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO module_config (module_id, impl_id, key, value) VALUES (?, ?, ?, ?)
		 ON CONFLICT(module_id, impl_id, key) DO UPDATE SET value = excluded.value`,
		moduleID, implID, key, string(raw))
	if err != nil {
		return fmt.Errorf("store config %s.%s: %w", implID, key, err)
	}
	return nil
}

// ReplaceConfigs stores configs for moduleID, dropping entries not present.
func (s *ConfigStore) ReplaceConfigs(ctx context.Context, moduleID string, configs framework.ModuleConfigs) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM module_config WHERE module_id = ?`, moduleID); err != nil {
		return fmt.Errorf("clear config: %w", err)
	}
	for implID, entries := range configs {
		for key, value := range entries {
			raw, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encode config %s.%s: %w", implID, key, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO module_config (module_id, impl_id, key, value) VALUES (?, ?, ?, ?)`,
				moduleID, implID, key, string(raw)); err != nil {
				return fmt.Errorf("store config %s.%s: %w", implID, key, err)
			}
		}
	}
	return tx.Commit()
}

// ModuleConfigs returns every stored entry of moduleID grouped by
// implementation id.
func (s *ConfigStore) ModuleConfigs(ctx context.Context, moduleID string) (framework.ModuleConfigs, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT impl_id, key, value FROM module_config WHERE module_id = ?`, moduleID)
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	defer rows.Close()

	configs := framework.ModuleConfigs{}
	for rows.Next() {
		var implID, key, raw string
		if err := rows.Scan(&implID, &key, &raw); err != nil {
			return nil, err
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("decode config %s.%s: %w", implID, key, err)
		}
		if configs[implID] == nil {
			configs[implID] = map[string]any{}
		}
		configs[implID][key] = value
	}
	return configs, rows.Err()
}

func (s *ConfigStore) SaveModuleInfo(ctx context.Context, info framework.ModuleInfo) error {
	authors, err := json.Marshal(info.Authors)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO module_info (module_id, name, authors, license, path, telemetry) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(module_id) DO UPDATE SET name = excluded.name, authors = excluded.authors,
		 license = excluded.license, path = excluded.path, telemetry = excluded.telemetry`,
		info.ID, info.Name, string(authors), info.License, info.Path, info.Telemetry)
	if err != nil {
		return fmt.Errorf("store module info: %w", err)
	}
	return nil
}

// ModuleInfo returns the stored metadata of moduleID; ok is false when none
// was saved.
func (s *ConfigStore) ModuleInfo(ctx context.Context, moduleID string) (info framework.ModuleInfo, ok bool, err error) {
	var authors string
	row := s.db.QueryRowContext(ctx,
		`SELECT module_id, name, authors, license, path, telemetry FROM module_info WHERE module_id = ?`, moduleID)
	err = row.Scan(&info.ID, &info.Name, &authors, &info.License, &info.Path, &info.Telemetry)
	if err == sql.ErrNoRows {
		return framework.ModuleInfo{}, false, nil
	}
	if err != nil {
		return framework.ModuleInfo{}, false, fmt.Errorf("query module info: %w", err)
	}
	if err := json.Unmarshal([]byte(authors), &info.Authors); err != nil {
		return framework.ModuleInfo{}, false, fmt.Errorf("decode authors: %w", err)
	}
	return info, true, nil
}
