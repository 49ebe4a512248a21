// Copyright 2025 UltrAI
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStorage implements Storage using PostgreSQL.
//
// Expected schema:
//
//	CREATE TABLE model_providers (
//	    name            TEXT PRIMARY KEY,
//	    type            TEXT NOT NULL,
//	    api_key         TEXT,
//	    endpoint        TEXT,
//	    model           TEXT,
//	    enabled         BOOLEAN NOT NULL DEFAULT true,
//	    weight          INTEGER NOT NULL DEFAULT 0,
//	    timeout_seconds INTEGER NOT NULL DEFAULT 0,
//	    settings        JSONB,
//	    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL-backed storage.
func NewPostgresStorage(db *sql.DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

// SaveProvider persists a provider configuration to the database.
func (s *PostgresStorage) SaveProvider(ctx context.Context, config *ProviderConfig) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	settingsJSON, err := json.Marshal(config.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO model_providers (
			name, type, api_key, endpoint, model,
			enabled, weight, timeout_seconds, settings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE SET
			type = EXCLUDED.type,
			api_key = EXCLUDED.api_key,
			endpoint = EXCLUDED.endpoint,
			model = EXCLUDED.model,
			enabled = EXCLUDED.enabled,
			weight = EXCLUDED.weight,
			timeout_seconds = EXCLUDED.timeout_seconds,
			settings = EXCLUDED.settings,
			updated_at = NOW()
	`

	_, err = s.db.ExecContext(ctx, query,
		config.Name,
		config.Type,
		config.APIKey,
		config.Endpoint,
		config.Model,
		config.Enabled,
		config.Weight,
		config.TimeoutSeconds,
		settingsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save provider: %w", err)
	}

	return nil
}

// GetProvider retrieves a provider configuration by name.
func (s *PostgresStorage) GetProvider(ctx context.Context, name string) (*ProviderConfig, error) {
	query := `
		SELECT name, type, api_key, endpoint, model,
		       enabled, weight, timeout_seconds, settings
		FROM model_providers
		WHERE name = $1
	`

	var config ProviderConfig
	var apiKey, endpoint, model sql.NullString
	var settingsJSON []byte

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&config.Name,
		&config.Type,
		&apiKey,
		&endpoint,
		&model,
		&config.Enabled,
		&config.Weight,
		&config.TimeoutSeconds,
		&settingsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("provider %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}

	config.APIKey = apiKey.String
	config.Endpoint = endpoint.String
	config.Model = model.String

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &config.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}

	return &config, nil
}

// DeleteProvider removes a provider configuration.
func (s *PostgresStorage) DeleteProvider(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM model_providers WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("provider %q not found", name)
	}

	return nil
}

// ListProviders returns all persisted provider names, sorted.
func (s *PostgresStorage) ListProviders(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM model_providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan provider name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating providers: %w", err)
	}

	return names, nil
}

// Verify interface compliance at compile time.
var _ Storage = (*PostgresStorage)(nil)
