package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/results-america/internal/config"
	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/database/dbtest"
)

var gdpTemplateID = uuid.MustParse("6f1f0c1e-8d7a-4b8e-9a53-2f6c1d0e9b11")

func gdpSchema() TemplateSchema {
	return TemplateSchema{
		ExpectedHeaders: []string{"State", "Year", "Category", "Measure", "Value"},
		Columns: []ColumnDef{
			{ColumnName: "State", Type: TypeString, Required: true, Mapping: TargetStateName},
			{ColumnName: "Year", Type: TypeNumber, Required: true, Mapping: TargetYear},
			{ColumnName: "Category", Type: TypeString, Mapping: TargetCategoryName},
			{ColumnName: "Measure", Type: TypeString, Required: true, Mapping: TargetStatisticName},
			{ColumnName: "Value", Type: TypeNumber, Required: true, Mapping: TargetValue},
		},
	}
}

// addTemplate stores a template the way the database holds it.
func addTemplate(t *testing.T, store *dbtest.Store, id uuid.UUID, schema TemplateSchema, rulesJSON string) {
	t.Helper()
	raw, err := json.Marshal(schema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	store.Templates = append(store.Templates, database.CsvImportTemplate{
		ID:              id,
		Name:            "State GDP",
		DataSourceID:    pgtype.Int4{Int32: 3, Valid: true},
		Schema:          raw,
		ValidationRules: []byte(rulesJSON),
		IsActive:        true,
	})
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Upload.MaxFileSize = 1 << 20
	cfg.Upload.MaxConcurrent = 2
	cfg.Upload.MaxWaitTime = time.Second
	cfg.Upload.Timeout = 10 * time.Second
	cfg.Import.StateMatchThreshold = 0.8
	cfg.Import.EntityMatchThreshold = 0.7
	cfg.Import.MaxValue = 1e9
	return cfg
}

func newTestService(t *testing.T) (*Service, *dbtest.Store) {
	t.Helper()
	store := dbtest.New()
	addTemplate(t, store, gdpTemplateID, gdpSchema(), "")
	svc, err := NewService(store, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func upload(t *testing.T, svc *Service, csv string) *UploadResult {
	t.Helper()
	res, err := svc.UploadCSV(context.Background(), UploadRequest{
		Filename:   "gdp.csv",
		Content:    []byte(csv),
		TemplateID: gdpTemplateID.String(),
		UploadedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("UploadCSV: %v", err)
	}
	return res
}
