package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound aliases pgx.ErrNoRows so callers need not import pgx.
var ErrNotFound = pgx.ErrNoRows

// IsNotFound reports whether err means a single-row query matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Querier lists every query the import pipeline runs.
type Querier interface {
	ListActiveStates(ctx context.Context) ([]State, error)
	ListActiveCategories(ctx context.Context) ([]Category, error)
	ListActiveStatistics(ctx context.Context) ([]Statistic, error)

	ListActiveTemplates(ctx context.Context) ([]CsvImportTemplate, error)
	GetActiveTemplate(ctx context.Context, id uuid.UUID) (CsvImportTemplate, error)

	FindImportByHash(ctx context.Context, fileHash string) (uuid.UUID, error)
	CreateImport(ctx context.Context, arg CreateImportParams) (CsvImport, error)
	InsertImportMetadata(ctx context.Context, rows []CsvImportMetadata) (int64, error)
	ListImportMetadata(ctx context.Context, importID uuid.UUID) ([]CsvImportMetadata, error)
	GetImport(ctx context.Context, id uuid.UUID) (CsvImport, error)
	GetImportForUpdate(ctx context.Context, id uuid.UUID) (CsvImport, error)
	UpdateImportStatus(ctx context.Context, arg UpdateImportStatusParams) (CsvImport, error)
	ListImports(ctx context.Context, arg ListImportsParams) ([]CsvImport, error)
	CountImports(ctx context.Context, status, uploadedBy string) (int64, error)
	FailStaleImports(ctx context.Context, cutoff time.Time, message string) (int64, error)

	InsertStagedRows(ctx context.Context, rows []CsvImportStaging) (int64, error)
	ListStagedRows(ctx context.Context, importID uuid.UUID) ([]CsvImportStaging, error)
	ListStagedRowsPage(ctx context.Context, arg ListStagedRowsPageParams) ([]CsvImportStaging, error)
	ListPublishableRows(ctx context.Context, importID uuid.UUID) ([]CsvImportStaging, error)
	UpdateStagedRowValidation(ctx context.Context, arg UpdateStagedRowValidationParams) error
	MarkStagedRowsProcessed(ctx context.Context, importID uuid.UUID) (int64, error)
	CountStagedRows(ctx context.Context, importID uuid.UUID) (StagingCounts, error)

	DataPointExists(ctx context.Context, stateID, statisticID, year int32) (bool, error)
	CreateImportSession(ctx context.Context, arg CreateImportSessionParams) (ImportSession, error)
	InsertDataPoints(ctx context.Context, points []DataPoint) (int64, error)
}

var _ Querier = (*Queries)(nil)

// Store is a Querier that can also run a function inside one transaction.
// ExecTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	Querier
	ExecTx(ctx context.Context, fn func(Querier) error) error
}

// PoolStore is the Postgres-backed Store.
type PoolStore struct {
	*Queries
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{
		Queries: New(pool),
		pool:    pool,
	}
}

func (s *PoolStore) ExecTx(ctx context.Context, fn func(Querier) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(s.Queries.WithTx(tx))
	})
}

// Ping checks connectivity for the health endpoint.
func (s *PoolStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
