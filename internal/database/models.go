package database

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type State struct {
	ID           int32
	Name         string
	Abbreviation string
}

type Category struct {
	ID   int32
	Name string
}

type Statistic struct {
	ID           int32
	Name         string
	CategoryID   pgtype.Int4
	DataSourceID pgtype.Int4
}

type CsvImport struct {
	ID           uuid.UUID
	Name         string
	Filename     string
	FileSize     int64
	FileHash     string
	DuplicateOf  pgtype.UUID
	Status       string
	UploadedBy   string
	TemplateID   pgtype.UUID
	ErrorMessage pgtype.Text
	UploadedAt   pgtype.Timestamptz
	StagedAt     pgtype.Timestamptz
	ValidatedAt  pgtype.Timestamptz
	PublishedAt  pgtype.Timestamptz
	FailedAt     pgtype.Timestamptz
}

type CsvImportMetadata struct {
	CsvImportID uuid.UUID
	Key         string
	Value       string
}

type CsvImportStaging struct {
	ID               uuid.UUID
	CsvImportID      uuid.UUID
	RowNumber        int32
	StateName        pgtype.Text
	StateID          pgtype.Int4
	Year             pgtype.Int4
	CategoryName     pgtype.Text
	CategoryID       pgtype.Int4
	StatisticName    pgtype.Text
	StatisticID      pgtype.Int4
	Value            pgtype.Float8
	RawData          []byte
	ValidationStatus string
	ValidationErrors []string
	Warnings         []string
	IsProcessed      bool
	ProcessedAt      pgtype.Timestamptz
}

type CsvImportTemplate struct {
	ID              uuid.UUID
	Name            string
	Description     pgtype.Text
	CategoryID      pgtype.Int4
	DataSourceID    pgtype.Int4
	Schema          []byte
	ValidationRules []byte
	SampleData      pgtype.Text
	IsActive        bool
	CreatedAt       pgtype.Timestamptz
}

type ImportSession struct {
	ID           uuid.UUID
	Name         string
	Description  pgtype.Text
	DataSourceID pgtype.Int4
	DataYear     pgtype.Int4
	RecordCount  int32
	CreatedAt    pgtype.Timestamptz
}

type DataPoint struct {
	ID              int64
	ImportSessionID uuid.UUID
	Year            int32
	StateID         int32
	StatisticID     int32
	Value           float64
}

type StagingCounts struct {
	Total     int64
	Valid     int64
	Invalid   int64
	Processed int64
}
