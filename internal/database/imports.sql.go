package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const importColumns = `id, name, filename, file_size, file_hash, duplicate_of, status, uploaded_by,
	template_id, error_message, uploaded_at, staged_at, validated_at, published_at, failed_at`

func scanImport(row pgx.Row) (CsvImport, error) {
	var i CsvImport
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Filename,
		&i.FileSize,
		&i.FileHash,
		&i.DuplicateOf,
		&i.Status,
		&i.UploadedBy,
		&i.TemplateID,
		&i.ErrorMessage,
		&i.UploadedAt,
		&i.StagedAt,
		&i.ValidatedAt,
		&i.PublishedAt,
		&i.FailedAt,
	)
	return i, err
}

const findImportByHash = `
SELECT id
FROM csv_imports
WHERE file_hash = $1
ORDER BY uploaded_at
LIMIT 1
`

// FindImportByHash returns the earliest import with the given content hash.
func (q *Queries) FindImportByHash(ctx context.Context, fileHash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, findImportByHash, fileHash).Scan(&id)
	return id, err
}

const createImport = `
INSERT INTO csv_imports (id, name, filename, file_size, file_hash, duplicate_of, status, uploaded_by, template_id)
VALUES ($1, $2, $3, $4, $5, $6, 'uploaded', $7, $8)
RETURNING ` + importColumns

type CreateImportParams struct {
	ID          uuid.UUID
	Name        string
	Filename    string
	FileSize    int64
	FileHash    string
	DuplicateOf pgtype.UUID
	UploadedBy  string
	TemplateID  pgtype.UUID
}

func (q *Queries) CreateImport(ctx context.Context, arg CreateImportParams) (CsvImport, error) {
	row := q.db.QueryRow(ctx, createImport,
		arg.ID,
		arg.Name,
		arg.Filename,
		arg.FileSize,
		arg.FileHash,
		arg.DuplicateOf,
		arg.UploadedBy,
		arg.TemplateID,
	)
	return scanImport(row)
}

// InsertImportMetadata copies key/value metadata rows for one import.
func (q *Queries) InsertImportMetadata(ctx context.Context, rows []CsvImportMetadata) (int64, error) {
	return q.db.CopyFrom(ctx,
		pgx.Identifier{"csv_import_metadata"},
		[]string{"csv_import_id", "key", "value"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return []any{rows[i].CsvImportID, rows[i].Key, rows[i].Value}, nil
		}),
	)
}

const listImportMetadata = `
SELECT csv_import_id, key, value
FROM csv_import_metadata
WHERE csv_import_id = $1
ORDER BY key
`

func (q *Queries) ListImportMetadata(ctx context.Context, importID uuid.UUID) ([]CsvImportMetadata, error) {
	rows, err := q.db.Query(ctx, listImportMetadata, importID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CsvImportMetadata, error) {
		var m CsvImportMetadata
		err := row.Scan(&m.CsvImportID, &m.Key, &m.Value)
		return m, err
	})
}

const getImport = `
SELECT ` + importColumns + `
FROM csv_imports
WHERE id = $1
`

func (q *Queries) GetImport(ctx context.Context, id uuid.UUID) (CsvImport, error) {
	return scanImport(q.db.QueryRow(ctx, getImport, id))
}

const getImportForUpdate = getImport + `FOR UPDATE`

// GetImportForUpdate locks the import row until the surrounding transaction ends.
func (q *Queries) GetImportForUpdate(ctx context.Context, id uuid.UUID) (CsvImport, error) {
	return scanImport(q.db.QueryRow(ctx, getImportForUpdate, id))
}

const updateImportStatus = `
UPDATE csv_imports
SET status        = $2::text,
    error_message = $3,
    staged_at     = CASE WHEN $2::text = 'staged' THEN now() ELSE staged_at END,
    validated_at  = CASE WHEN $2::text = 'validated' THEN now() ELSE validated_at END,
    published_at  = CASE WHEN $2::text = 'published' THEN now() ELSE published_at END,
    failed_at     = CASE WHEN $2::text = 'failed' THEN now() ELSE failed_at END
WHERE id = $1
RETURNING ` + importColumns

type UpdateImportStatusParams struct {
	ID           uuid.UUID
	Status       string
	ErrorMessage pgtype.Text
}

// UpdateImportStatus moves an import to Status and stamps the matching
// transition timestamp.
func (q *Queries) UpdateImportStatus(ctx context.Context, arg UpdateImportStatusParams) (CsvImport, error) {
	return scanImport(q.db.QueryRow(ctx, updateImportStatus, arg.ID, arg.Status, arg.ErrorMessage))
}

const listImports = `
SELECT ` + importColumns + `
FROM csv_imports
WHERE ($1::text = '' OR status = $1::text)
  AND ($2::text = '' OR uploaded_by = $2::text)
ORDER BY uploaded_at DESC, id
LIMIT $3 OFFSET $4
`

type ListImportsParams struct {
	Status     string
	UploadedBy string
	Limit      int32
	Offset     int32
}

func (q *Queries) ListImports(ctx context.Context, arg ListImportsParams) ([]CsvImport, error) {
	rows, err := q.db.Query(ctx, listImports, arg.Status, arg.UploadedBy, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (CsvImport, error) {
		return scanImport(row)
	})
}

const countImports = `
SELECT count(*)
FROM csv_imports
WHERE ($1::text = '' OR status = $1::text)
  AND ($2::text = '' OR uploaded_by = $2::text)
`

func (q *Queries) CountImports(ctx context.Context, status, uploadedBy string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countImports, status, uploadedBy).Scan(&n)
	return n, err
}

const failStaleImports = `
UPDATE csv_imports
SET status = 'failed', error_message = $2, failed_at = now()
WHERE status = 'uploaded' AND uploaded_at < $1
`

// FailStaleImports marks imports stuck in 'uploaded' since before cutoff as failed.
func (q *Queries) FailStaleImports(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	tag, err := q.db.Exec(ctx, failStaleImports, cutoff, message)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
