package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/results-america/internal/config"
	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/metrics"
)

// DefaultMaxValue is the value above which a row gets a sanity warning.
const DefaultMaxValue = 1e9

// Service provides the import pipeline operations. It is safe for
// concurrent use; all per-import state lives in the database.
type Service struct {
	store      database.Store
	templates  *TemplateRegistry
	limiter    *UploadLimiter
	metrics    *metrics.Metrics
	thresholds Thresholds
	maxValue   float64
	maxSize    int64
	timeout    time.Duration

	now func() time.Time
}

// NewService wires the pipeline to store using cfg. A nil m disables metrics.
func NewService(store database.Store, cfg *config.Config, m *metrics.Metrics) (*Service, error) {
	var fileTemplates []ImportTemplate
	if cfg.Import.TemplatesFile != "" {
		var err error
		fileTemplates, err = LoadTemplateFile(cfg.Import.TemplatesFile)
		if err != nil {
			return nil, err
		}
		slog.Info("loaded file templates", "path", cfg.Import.TemplatesFile, "count", len(fileTemplates))
	}

	th := Thresholds{
		State:  cfg.Import.StateMatchThreshold,
		Entity: cfg.Import.EntityMatchThreshold,
	}
	if th.State <= 0 {
		th.State = DefaultThresholds.State
	}
	if th.Entity <= 0 {
		th.Entity = DefaultThresholds.Entity
	}
	maxValue := cfg.Import.MaxValue
	if maxValue <= 0 {
		maxValue = DefaultMaxValue
	}

	return &Service{
		store:      store,
		templates:  NewTemplateRegistry(store, fileTemplates),
		limiter:    NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
		metrics:    m,
		thresholds: th,
		maxValue:   maxValue,
		maxSize:    cfg.Upload.MaxFileSize,
		timeout:    cfg.Upload.Timeout,
		now:        time.Now,
	}, nil
}

// Limiter exposes the upload limiter for health reporting and shutdown.
func (s *Service) Limiter() *UploadLimiter {
	return s.limiter
}

// ListTemplates returns the templates available for upload.
func (s *Service) ListTemplates(ctx context.Context) ([]ImportTemplate, error) {
	return s.templates.List(ctx)
}

// GetTemplate returns one template by id.
func (s *Service) GetTemplate(ctx context.Context, id string) (*ImportTemplate, error) {
	return s.templates.Get(ctx, id)
}

// withTimeout bounds a pipeline operation by the configured upload timeout.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// loadImport fetches an import, translating a missing row to ErrImportNotFound.
func loadImport(ctx context.Context, get func(context.Context, uuid.UUID) (database.CsvImport, error), id uuid.UUID) (database.CsvImport, error) {
	imp, err := get(ctx, id)
	if database.IsNotFound(err) {
		return database.CsvImport{}, fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	if err != nil {
		return database.CsvImport{}, fmt.Errorf("get import: %w", err)
	}
	return imp, nil
}

// markFailed records a failure on an import outside any caller transaction.
// The original error is what the caller returns; a failure here is only logged.
func (s *Service) markFailed(ctx context.Context, id uuid.UUID, message string) {
	// The request context may already be done; the status still needs writing.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	_, err := s.store.UpdateImportStatus(ctx, database.UpdateImportStatusParams{
		ID:           id,
		Status:       string(StatusFailed),
		ErrorMessage: pgtype.Text{String: message, Valid: true},
	})
	if err != nil {
		slog.Error("mark import failed", "import_id", id, "error", err)
	}
}

func toImport(imp database.CsvImport) Import {
	return Import{
		ID:           imp.ID,
		Name:         imp.Name,
		Filename:     imp.Filename,
		FileSize:     imp.FileSize,
		FileHash:     imp.FileHash,
		DuplicateOf:  uuidPtr(imp.DuplicateOf),
		Status:       ImportStatus(imp.Status),
		UploadedBy:   imp.UploadedBy,
		TemplateID:   uuidPtr(imp.TemplateID),
		ErrorMessage: imp.ErrorMessage.String,
		UploadedAt:   timePtr(imp.UploadedAt),
		StagedAt:     timePtr(imp.StagedAt),
		ValidatedAt:  timePtr(imp.ValidatedAt),
		PublishedAt:  timePtr(imp.PublishedAt),
		FailedAt:     timePtr(imp.FailedAt),
	}
}
