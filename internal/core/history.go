package core

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonMunkholm/results-america/internal/database"
)

// ListImports returns one page of import history, newest first.
func (s *Service) ListImports(ctx context.Context, f ImportFilter) (*ImportPage, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("unknown import status %q", f.Status)
	}
	page, size := normalizePage(f.Page, f.PageSize)

	rows, err := s.store.ListImports(ctx, database.ListImportsParams{
		Status:     string(f.Status),
		UploadedBy: f.UploadedBy,
		Limit:      int32(size),
		Offset:     int32((page - 1) * size),
	})
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	total, err := s.store.CountImports(ctx, string(f.Status), f.UploadedBy)
	if err != nil {
		return nil, fmt.Errorf("count imports: %w", err)
	}

	imports := make([]Import, len(rows))
	for i, r := range rows {
		imports[i] = toImport(r)
	}
	return &ImportPage{Imports: imports, Total: total, Page: page, PageSize: size}, nil
}

// GetImport returns an import with its metadata and staged row counts.
func (s *Service) GetImport(ctx context.Context, id uuid.UUID) (*ImportDetail, error) {
	imp, err := loadImport(ctx, s.store.GetImport, id)
	if err != nil {
		return nil, err
	}
	meta, err := s.store.ListImportMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list import metadata: %w", err)
	}
	counts, err := s.store.CountStagedRows(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count staged rows: %w", err)
	}

	detail := &ImportDetail{
		Import:        toImport(imp),
		TotalRows:     counts.Total,
		ValidRows:     counts.Valid,
		InvalidRows:   counts.Invalid,
		ProcessedRows: counts.Processed,
	}
	if len(meta) > 0 {
		detail.Metadata = make(map[string]string, len(meta))
		for _, m := range meta {
			detail.Metadata[m.Key] = m.Value
		}
	}
	return detail, nil
}

// ListStagedRows returns one page of an import's staged rows in row order.
func (s *Service) ListStagedRows(ctx context.Context, id uuid.UUID, f RowFilter) ([]StagedRow, error) {
	if _, err := loadImport(ctx, s.store.GetImport, id); err != nil {
		return nil, err
	}
	page, size := normalizePage(f.Page, f.PageSize)
	rows, err := s.store.ListStagedRowsPage(ctx, database.ListStagedRowsPageParams{
		ImportID: id,
		Status:   string(f.Status),
		Limit:    int32(size),
		Offset:   int32((page - 1) * size),
	})
	if err != nil {
		return nil, fmt.Errorf("list staged rows: %w", err)
	}

	out := make([]StagedRow, len(rows))
	for i, r := range rows {
		out[i] = toStagedRow(r)
	}
	return out, nil
}

func toStagedRow(r database.CsvImportStaging) StagedRow {
	row := StagedRow{
		ID:               r.ID,
		RowNumber:        int(r.RowNumber),
		StateName:        r.StateName.String,
		StateID:          int4Ptr(r.StateID),
		Year:             int4Ptr(r.Year),
		CategoryName:     r.CategoryName.String,
		CategoryID:       int4Ptr(r.CategoryID),
		StatisticName:    r.StatisticName.String,
		StatisticID:      int4Ptr(r.StatisticID),
		Value:            float8Ptr(r.Value),
		ValidationStatus: RowStatus(r.ValidationStatus),
		ValidationErrors: r.ValidationErrors,
		Warnings:         r.Warnings,
		IsProcessed:      r.IsProcessed,
	}
	if len(r.RawData) > 0 {
		_ = json.Unmarshal(r.RawData, &row.RawData)
	}
	return row
}
