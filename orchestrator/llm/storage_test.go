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
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresStorageSaveProvider(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	storage := NewPostgresStorage(db)

	mock.ExpectExec("INSERT INTO model_providers").
		WithArgs("anthropic-primary", "anthropic", "sk-test", "", "claude-3-5-sonnet-20241022",
			true, 10, 60, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	config := &ProviderConfig{
		Name:           "anthropic-primary",
		Type:           ProviderTypeAnthropic,
		APIKey:         "sk-test",
		Model:          "claude-3-5-sonnet-20241022",
		Enabled:        true,
		Weight:         10,
		TimeoutSeconds: 60,
		Settings:       map[string]any{"max_tokens": 4096},
	}
	if err := storage.SaveProvider(context.Background(), config); err != nil {
		t.Fatalf("SaveProvider() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStorageSaveNilConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	storage := NewPostgresStorage(db)
	if err := storage.SaveProvider(context.Background(), nil); err == nil {
		t.Error("expected error for nil config")
	}
}

func TestPostgresStorageGetProvider(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	storage := NewPostgresStorage(db)

	columns := []string{
		"name", "type", "api_key", "endpoint", "model",
		"enabled", "weight", "timeout_seconds", "settings",
	}
	mock.ExpectQuery("SELECT name, type, api_key").
		WithArgs("openai-backup").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"openai-backup", "openai", "sk-o", nil, "gpt-4o",
			true, 5, 30, []byte(`{"org_id":"org-1"}`),
		))

	config, err := storage.GetProvider(context.Background(), "openai-backup")
	if err != nil {
		t.Fatalf("GetProvider() error: %v", err)
	}
	if config.Name != "openai-backup" || config.Type != ProviderTypeOpenAI {
		t.Errorf("unexpected config: %+v", config)
	}
	if config.Endpoint != "" {
		t.Errorf("Endpoint = %q, want empty for NULL column", config.Endpoint)
	}
	if config.Settings["org_id"] != "org-1" {
		t.Errorf("Settings = %v", config.Settings)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStorageGetProviderNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	storage := NewPostgresStorage(db)

	mock.ExpectQuery("SELECT name, type, api_key").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	if _, err := storage.GetProvider(context.Background(), "missing"); err == nil {
		t.Error("expected not-found error")
	}
}

func TestPostgresStorageDeleteProvider(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	storage := NewPostgresStorage(db)

	mock.ExpectExec("DELETE FROM model_providers").
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := storage.DeleteProvider(context.Background(), "gone"); err != nil {
		t.Fatalf("DeleteProvider() error: %v", err)
	}

	mock.ExpectExec("DELETE FROM model_providers").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := storage.DeleteProvider(context.Background(), "missing"); err == nil {
		t.Error("expected error deleting missing provider")
	}
}

func TestPostgresStorageListProviders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	defer db.Close()

	storage := NewPostgresStorage(db)

	mock.ExpectQuery("SELECT name FROM model_providers").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("a").AddRow("b").AddRow("c"))

	names, err := storage.ListProviders(context.Background())
	if err != nil {
		t.Fatalf("ListProviders() error: %v", err)
	}
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("ListProviders() = %v", names)
	}
}
