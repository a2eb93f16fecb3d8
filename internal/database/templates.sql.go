package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const templateColumns = `id, name, description, category_id, data_source_id, schema, validation_rules, sample_data, is_active, created_at`

func scanTemplate(row pgx.Row) (CsvImportTemplate, error) {
	var t CsvImportTemplate
	err := row.Scan(
		&t.ID,
		&t.Name,
		&t.Description,
		&t.CategoryID,
		&t.DataSourceID,
		&t.Schema,
		&t.ValidationRules,
		&t.SampleData,
		&t.IsActive,
		&t.CreatedAt,
	)
	return t, err
}

const listActiveTemplates = `
SELECT ` + templateColumns + `
FROM csv_import_templates
WHERE is_active
ORDER BY name
`

func (q *Queries) ListActiveTemplates(ctx context.Context) ([]CsvImportTemplate, error) {
	rows, err := q.db.Query(ctx, listActiveTemplates)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CsvImportTemplate, error) {
		return scanTemplate(row)
	})
}

const getActiveTemplate = `
SELECT ` + templateColumns + `
FROM csv_import_templates
WHERE id = $1 AND is_active
`

func (q *Queries) GetActiveTemplate(ctx context.Context, id uuid.UUID) (CsvImportTemplate, error) {
	return scanTemplate(q.db.QueryRow(ctx, getActiveTemplate, id))
}
