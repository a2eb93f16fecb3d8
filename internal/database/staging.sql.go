package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var stagingCopyColumns = []string{
	"id", "csv_import_id", "row_number",
	"state_name", "state_id", "year",
	"category_name", "category_id",
	"statistic_name", "statistic_id", "value",
	"raw_data", "validation_status", "validation_errors", "warnings",
}

// InsertStagedRows bulk copies staged rows in a single COPY.
func (q *Queries) InsertStagedRows(ctx context.Context, rows []CsvImportStaging) (int64, error) {
	return q.db.CopyFrom(ctx,
		pgx.Identifier{"csv_import_staging"},
		stagingCopyColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{
				r.ID, r.CsvImportID, r.RowNumber,
				r.StateName, r.StateID, r.Year,
				r.CategoryName, r.CategoryID,
				r.StatisticName, r.StatisticID, r.Value,
				r.RawData, r.ValidationStatus, r.ValidationErrors, r.Warnings,
			}, nil
		}),
	)
}

const stagingColumns = `id, csv_import_id, row_number, state_name, state_id, year, category_name, category_id,
	statistic_name, statistic_id, value, raw_data, validation_status, validation_errors, warnings,
	is_processed, processed_at`

func scanStaging(row pgx.Row) (CsvImportStaging, error) {
	var s CsvImportStaging
	err := row.Scan(
		&s.ID,
		&s.CsvImportID,
		&s.RowNumber,
		&s.StateName,
		&s.StateID,
		&s.Year,
		&s.CategoryName,
		&s.CategoryID,
		&s.StatisticName,
		&s.StatisticID,
		&s.Value,
		&s.RawData,
		&s.ValidationStatus,
		&s.ValidationErrors,
		&s.Warnings,
		&s.IsProcessed,
		&s.ProcessedAt,
	)
	return s, err
}

func collectStaging(rows pgx.Rows, err error) ([]CsvImportStaging, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CsvImportStaging, error) {
		return scanStaging(row)
	})
}

const listStagedRows = `
SELECT ` + stagingColumns + `
FROM csv_import_staging
WHERE csv_import_id = $1
ORDER BY row_number
`

func (q *Queries) ListStagedRows(ctx context.Context, importID uuid.UUID) ([]CsvImportStaging, error) {
	return collectStaging(q.db.Query(ctx, listStagedRows, importID))
}

const listStagedRowsPage = `
SELECT ` + stagingColumns + `
FROM csv_import_staging
WHERE csv_import_id = $1
  AND ($2::text = '' OR validation_status = $2::text)
ORDER BY row_number
LIMIT $3 OFFSET $4
`

type ListStagedRowsPageParams struct {
	ImportID uuid.UUID
	Status   string
	Limit    int32
	Offset   int32
}

func (q *Queries) ListStagedRowsPage(ctx context.Context, arg ListStagedRowsPageParams) ([]CsvImportStaging, error) {
	return collectStaging(q.db.Query(ctx, listStagedRowsPage, arg.ImportID, arg.Status, arg.Limit, arg.Offset))
}

const listPublishableRows = `
SELECT ` + stagingColumns + `
FROM csv_import_staging
WHERE csv_import_id = $1
  AND validation_status = 'valid'
  AND NOT is_processed
ORDER BY row_number
`

// ListPublishableRows returns valid, not yet processed rows of an import.
func (q *Queries) ListPublishableRows(ctx context.Context, importID uuid.UUID) ([]CsvImportStaging, error) {
	return collectStaging(q.db.Query(ctx, listPublishableRows, importID))
}

const updateStagedRowValidation = `
UPDATE csv_import_staging
SET validation_status = $2, validation_errors = $3, warnings = $4
WHERE id = $1
`

type UpdateStagedRowValidationParams struct {
	ID               uuid.UUID
	ValidationStatus string
	ValidationErrors []string
	Warnings         []string
}

func (q *Queries) UpdateStagedRowValidation(ctx context.Context, arg UpdateStagedRowValidationParams) error {
	_, err := q.db.Exec(ctx, updateStagedRowValidation,
		arg.ID, arg.ValidationStatus, arg.ValidationErrors, arg.Warnings)
	return err
}

const markStagedRowsProcessed = `
UPDATE csv_import_staging
SET is_processed = true, processed_at = now()
WHERE csv_import_id = $1 AND NOT is_processed
`

// MarkStagedRowsProcessed flags every staged row of the import, valid or not.
func (q *Queries) MarkStagedRowsProcessed(ctx context.Context, importID uuid.UUID) (int64, error) {
	tag, err := q.db.Exec(ctx, markStagedRowsProcessed, importID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const countStagedRows = `
SELECT count(*),
       count(*) FILTER (WHERE validation_status = 'valid'),
       count(*) FILTER (WHERE validation_status = 'invalid'),
       count(*) FILTER (WHERE is_processed)
FROM csv_import_staging
WHERE csv_import_id = $1
`

func (q *Queries) CountStagedRows(ctx context.Context, importID uuid.UUID) (StagingCounts, error) {
	var c StagingCounts
	err := q.db.QueryRow(ctx, countStagedRows, importID).Scan(&c.Total, &c.Valid, &c.Invalid, &c.Processed)
	return c, err
}
