package core

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// ImportStatus is the lifecycle state of a CSV import.
type ImportStatus string

const (
	StatusUploaded  ImportStatus = "uploaded"
	StatusStaged    ImportStatus = "staged"
	StatusValidated ImportStatus = "validated"
	StatusFailed    ImportStatus = "failed"
	StatusPublished ImportStatus = "published"
)

// Valid reports whether s is a known status.
func (s ImportStatus) Valid() bool {
	switch s {
	case StatusUploaded, StatusStaged, StatusValidated, StatusFailed, StatusPublished:
		return true
	}
	return false
}

// RowStatus is the validation state of one staged row.
type RowStatus string

const (
	RowStaged  RowStatus = "staged"
	RowValid   RowStatus = "valid"
	RowInvalid RowStatus = "invalid"
)

// ColumnType is the declared type a column is coerced to.
type ColumnType string

const (
	TypeString  ColumnType = "string"
	TypeNumber  ColumnType = "number"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
)

// Mapping targets understood by the staging store. Any other mapping name is
// kept in the row's raw data under "fields".
const (
	TargetStateName     = "stateName"
	TargetYear          = "year"
	TargetCategoryName  = "categoryName"
	TargetStatisticName = "statisticName"
	TargetValue         = "value"
)

// ColumnDef maps one CSV column onto a record field.
type ColumnDef struct {
	ColumnName string     `json:"columnName" yaml:"columnName"`
	Type       ColumnType `json:"type" yaml:"type"`
	Required   bool       `json:"required,omitempty" yaml:"required,omitempty"`
	Mapping    string     `json:"mapping" yaml:"mapping"`
	Validation Rules      `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// TemplateSchema is the declarative column layout of a template.
type TemplateSchema struct {
	ExpectedHeaders []string    `json:"expectedHeaders" yaml:"expectedHeaders"`
	Columns         []ColumnDef `json:"columns" yaml:"columns"`

	// FlexibleColumns keeps unmapped columns under additionalColumns
	// instead of dropping them.
	FlexibleColumns bool `json:"flexibleColumns,omitempty" yaml:"flexibleColumns,omitempty"`
}

// ValidationRules are the per-field rule sets of a template.
type ValidationRules struct {
	StateName Rules `json:"stateName,omitempty" yaml:"stateName,omitempty"`
	Year      Rules `json:"year,omitempty" yaml:"year,omitempty"`
	Value     Rules `json:"value,omitempty" yaml:"value,omitempty"`
	Custom    Rules `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// ImportTemplate is a named schema plus validation rules chosen per upload.
type ImportTemplate struct {
	ID              uuid.UUID       `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	CategoryID      *int32          `json:"categoryId,omitempty" yaml:"categoryId,omitempty"`
	DataSourceID    *int32          `json:"dataSourceId,omitempty" yaml:"dataSourceId,omitempty"`
	Schema          TemplateSchema  `json:"schema" yaml:"schema"`
	ValidationRules ValidationRules `json:"validationRules" yaml:"validationRules"`
	SampleData      string          `json:"sampleData,omitempty" yaml:"sampleData,omitempty"`
	Source          string          `json:"source" yaml:"-"`
}

// Record is one CSV data row after mapping.
type Record struct {
	RowNumber     int
	StateName     string
	Year          *int
	CategoryName  string
	StatisticName string
	Value         *float64

	// Fields holds mapped values whose target is not a staging column.
	Fields map[string]any
	// Additional holds unmapped columns when the schema is flexible.
	Additional map[string]string
	// Raw is the original row keyed by header.
	Raw map[string]string
	// Errors are problems found while coercing this row.
	Errors []string
}

// UploadRequest is the input to UploadCSV.
type UploadRequest struct {
	Name       string
	Filename   string
	Content    []byte
	TemplateID string
	UploadedBy string
	Metadata   map[string]string
}

// StagingStats summarises a staged upload.
type StagingStats struct {
	TotalRows   int `json:"totalRows"`
	ValidRows   int `json:"validRows"`
	InvalidRows int `json:"invalidRows"`
	Warnings    int `json:"warnings"`
}

// UploadResult is returned by UploadCSV.
type UploadResult struct {
	ImportID    uuid.UUID    `json:"importId"`
	Message     string       `json:"message"`
	Stats       StagingStats `json:"stats"`
	DuplicateOf *uuid.UUID   `json:"duplicateOf,omitempty"`
}

// ValidationStats counts rows by outcome.
type ValidationStats struct {
	TotalRows   int `json:"totalRows"`
	ValidRows   int `json:"validRows"`
	InvalidRows int `json:"invalidRows"`
	WarningRows int `json:"warningRows"`
}

// ValidationReport is returned by ValidateImport. Errors and Warnings are
// prefixed with the row number they belong to.
type ValidationReport struct {
	ImportID uuid.UUID       `json:"importId"`
	IsValid  bool            `json:"isValid"`
	Status   ImportStatus    `json:"status"`
	Errors   []string        `json:"errors"`
	Warnings []string        `json:"warnings"`
	Stats    ValidationStats `json:"stats"`
}

// PublishResult is returned by PublishImport.
type PublishResult struct {
	Success       bool       `json:"success"`
	Message       string     `json:"message"`
	PublishedRows int        `json:"publishedRows"`
	SessionID     *uuid.UUID `json:"sessionId,omitempty"`
}

// Import is a CSV import as shown in history views.
type Import struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	Filename     string            `json:"filename"`
	FileSize     int64             `json:"fileSize"`
	FileHash     string            `json:"fileHash"`
	DuplicateOf  *uuid.UUID        `json:"duplicateOf,omitempty"`
	Status       ImportStatus      `json:"status"`
	UploadedBy   string            `json:"uploadedBy"`
	TemplateID   *uuid.UUID        `json:"templateId,omitempty"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	UploadedAt   *time.Time        `json:"uploadedAt,omitempty"`
	StagedAt     *time.Time        `json:"stagedAt,omitempty"`
	ValidatedAt  *time.Time        `json:"validatedAt,omitempty"`
	PublishedAt  *time.Time        `json:"publishedAt,omitempty"`
	FailedAt     *time.Time        `json:"failedAt,omitempty"`
}

// ImportDetail is an import plus its staged row counts.
type ImportDetail struct {
	Import
	TotalRows     int64 `json:"totalRows"`
	ValidRows     int64 `json:"validRows"`
	InvalidRows   int64 `json:"invalidRows"`
	ProcessedRows int64 `json:"processedRows"`
}

// ImportFilter selects a page of import history.
type ImportFilter struct {
	Status     ImportStatus
	UploadedBy string
	Page       int
	PageSize   int
}

// ImportPage is one page of import history.
type ImportPage struct {
	Imports  []Import `json:"imports"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
}

// StagedRow is a staging row as exposed to callers.
type StagedRow struct {
	ID               uuid.UUID      `json:"id"`
	RowNumber        int            `json:"rowNumber"`
	StateName        string         `json:"stateName,omitempty"`
	StateID          *int32         `json:"stateId,omitempty"`
	Year             *int32         `json:"year,omitempty"`
	CategoryName     string         `json:"categoryName,omitempty"`
	CategoryID       *int32         `json:"categoryId,omitempty"`
	StatisticName    string         `json:"statisticName,omitempty"`
	StatisticID      *int32         `json:"statisticId,omitempty"`
	Value            *float64       `json:"value,omitempty"`
	RawData          map[string]any `json:"rawData,omitempty"`
	ValidationStatus RowStatus      `json:"validationStatus"`
	ValidationErrors []string       `json:"validationErrors,omitempty"`
	Warnings         []string       `json:"warnings,omitempty"`
	IsProcessed      bool           `json:"isProcessed"`
}

// RowFilter selects staged rows of one import.
type RowFilter struct {
	Status   RowStatus
	Page     int
	PageSize int
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// normalizePage clamps page and size so the row offset fits an int32.
func normalizePage(page, size int) (int, int) {
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	if page < 1 {
		page = 1
	}
	if maxPage := math.MaxInt32/size + 1; page > maxPage {
		page = maxPage
	}
	return page, size
}
