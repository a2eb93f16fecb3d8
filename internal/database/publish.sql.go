package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const dataPointExists = `
SELECT EXISTS (
    SELECT 1 FROM data_points
    WHERE state_id = $1 AND statistic_id = $2 AND year = $3
)
`

func (q *Queries) DataPointExists(ctx context.Context, stateID, statisticID, year int32) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, dataPointExists, stateID, statisticID, year).Scan(&exists)
	return exists, err
}

const createImportSession = `
INSERT INTO import_sessions (id, name, description, data_source_id, data_year, record_count)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, name, description, data_source_id, data_year, record_count, created_at
`

type CreateImportSessionParams struct {
	ID           uuid.UUID
	Name         string
	Description  pgtype.Text
	DataSourceID pgtype.Int4
	DataYear     pgtype.Int4
	RecordCount  int32
}

func (q *Queries) CreateImportSession(ctx context.Context, arg CreateImportSessionParams) (ImportSession, error) {
	var s ImportSession
	err := q.db.QueryRow(ctx, createImportSession,
		arg.ID,
		arg.Name,
		arg.Description,
		arg.DataSourceID,
		arg.DataYear,
		arg.RecordCount,
	).Scan(
		&s.ID,
		&s.Name,
		&s.Description,
		&s.DataSourceID,
		&s.DataYear,
		&s.RecordCount,
		&s.CreatedAt,
	)
	return s, err
}

// InsertDataPoints bulk copies production data points. IDs are assigned by
// the database.
func (q *Queries) InsertDataPoints(ctx context.Context, points []DataPoint) (int64, error) {
	return q.db.CopyFrom(ctx,
		pgx.Identifier{"data_points"},
		[]string{"import_session_id", "year", "state_id", "statistic_id", "value"},
		pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
			p := points[i]
			return []any{p.ImportSessionID, p.Year, p.StateID, p.StatisticID, p.Value}, nil
		}),
	)
}
