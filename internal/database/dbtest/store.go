// Package dbtest provides an in-memory database.Store for tests of the
// import pipeline and its HTTP layer.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/results-america/internal/database"
)

// ErrInjected is returned by the method named in Store.FailOn.
var ErrInjected = errors.New("injected failure")

// Store is an in-memory database.Store. ExecTx restores a snapshot when fn
// fails, which is enough to observe rollback behaviour. Tests may read and
// seed the exported fields directly between calls.
type Store struct {
	mu sync.Mutex

	States     []database.State
	Categories []database.Category
	Statistics []database.Statistic
	Templates  []database.CsvImportTemplate

	Imports  map[uuid.UUID]database.CsvImport
	Metadata []database.CsvImportMetadata
	Staging  []database.CsvImportStaging
	Sessions []database.ImportSession
	Points   []database.DataPoint

	// FailOn names a method that returns ErrInjected.
	FailOn string
	clock  time.Time
}

var _ database.Store = (*Store)(nil)

// New returns a store seeded with four states, two categories and three
// statistics, and no templates or imports.
func New() *Store {
	return &Store{
		States: []database.State{
			{ID: 1, Name: "Alabama", Abbreviation: "AL"},
			{ID: 2, Name: "Alaska", Abbreviation: "AK"},
			{ID: 6, Name: "California", Abbreviation: "CA"},
			{ID: 36, Name: "New York", Abbreviation: "NY"},
		},
		Categories: []database.Category{
			{ID: 1, Name: "Economy"},
			{ID: 2, Name: "Education"},
		},
		Statistics: []database.Statistic{
			{ID: 10, Name: "GDP", CategoryID: pgtype.Int4{Int32: 1, Valid: true}},
			{ID: 11, Name: "Unemployment Rate", CategoryID: pgtype.Int4{Int32: 1, Valid: true}},
			{ID: 20, Name: "Graduation Rate", CategoryID: pgtype.Int4{Int32: 2, Valid: true}},
		},
		Imports: make(map[uuid.UUID]database.CsvImport),
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *Store) now() pgtype.Timestamptz {
	m.clock = m.clock.Add(time.Second)
	return pgtype.Timestamptz{Time: m.clock, Valid: true}
}

func (m *Store) fail(method string) error {
	if m.FailOn == method {
		return fmt.Errorf("%s: %w", method, ErrInjected)
	}
	return nil
}

type snapshot struct {
	imports  map[uuid.UUID]database.CsvImport
	metadata []database.CsvImportMetadata
	staging  []database.CsvImportStaging
	sessions []database.ImportSession
	points   []database.DataPoint
}

func (m *Store) ExecTx(ctx context.Context, fn func(database.Querier) error) error {
	m.mu.Lock()
	snap := snapshot{
		imports:  make(map[uuid.UUID]database.CsvImport, len(m.Imports)),
		metadata: append([]database.CsvImportMetadata(nil), m.Metadata...),
		staging:  append([]database.CsvImportStaging(nil), m.Staging...),
		sessions: append([]database.ImportSession(nil), m.Sessions...),
		points:   append([]database.DataPoint(nil), m.Points...),
	}
	for k, v := range m.Imports {
		snap.imports[k] = v
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.Imports = snap.imports
		m.Metadata = snap.metadata
		m.Staging = snap.staging
		m.Sessions = snap.sessions
		m.Points = snap.points
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *Store) ListActiveStates(ctx context.Context) ([]database.State, error) {
	return append([]database.State(nil), m.States...), m.fail("ListActiveStates")
}

func (m *Store) ListActiveCategories(ctx context.Context) ([]database.Category, error) {
	return append([]database.Category(nil), m.Categories...), nil
}

func (m *Store) ListActiveStatistics(ctx context.Context) ([]database.Statistic, error) {
	return append([]database.Statistic(nil), m.Statistics...), nil
}

func (m *Store) ListActiveTemplates(ctx context.Context) ([]database.CsvImportTemplate, error) {
	var out []database.CsvImportTemplate
	for _, t := range m.Templates {
		if t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Store) GetActiveTemplate(ctx context.Context, id uuid.UUID) (database.CsvImportTemplate, error) {
	for _, t := range m.Templates {
		if t.ID == id && t.IsActive {
			return t, nil
		}
	}
	return database.CsvImportTemplate{}, database.ErrNotFound
}

func (m *Store) FindImportByHash(ctx context.Context, fileHash string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *database.CsvImport
	for _, imp := range m.Imports {
		if imp.FileHash != fileHash {
			continue
		}
		if found == nil || imp.UploadedAt.Time.Before(found.UploadedAt.Time) {
			imp := imp
			found = &imp
		}
	}
	if found == nil {
		return uuid.Nil, database.ErrNotFound
	}
	return found.ID, nil
}

func (m *Store) CreateImport(ctx context.Context, arg database.CreateImportParams) (database.CsvImport, error) {
	if err := m.fail("CreateImport"); err != nil {
		return database.CsvImport{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	imp := database.CsvImport{
		ID:          arg.ID,
		Name:        arg.Name,
		Filename:    arg.Filename,
		FileSize:    arg.FileSize,
		FileHash:    arg.FileHash,
		DuplicateOf: arg.DuplicateOf,
		Status:      "uploaded",
		UploadedBy:  arg.UploadedBy,
		TemplateID:  arg.TemplateID,
		UploadedAt:  m.now(),
	}
	m.Imports[imp.ID] = imp
	return imp, nil
}

func (m *Store) InsertImportMetadata(ctx context.Context, rows []database.CsvImportMetadata) (int64, error) {
	if err := m.fail("InsertImportMetadata"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Metadata = append(m.Metadata, rows...)
	return int64(len(rows)), nil
}

func (m *Store) ListImportMetadata(ctx context.Context, importID uuid.UUID) ([]database.CsvImportMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.CsvImportMetadata
	for _, md := range m.Metadata {
		if md.CsvImportID == importID {
			out = append(out, md)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Store) GetImport(ctx context.Context, id uuid.UUID) (database.CsvImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.Imports[id]
	if !ok {
		return database.CsvImport{}, database.ErrNotFound
	}
	return imp, nil
}

func (m *Store) GetImportForUpdate(ctx context.Context, id uuid.UUID) (database.CsvImport, error) {
	return m.GetImport(ctx, id)
}

func (m *Store) UpdateImportStatus(ctx context.Context, arg database.UpdateImportStatusParams) (database.CsvImport, error) {
	if err := m.fail("UpdateImportStatus"); err != nil {
		return database.CsvImport{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	imp, ok := m.Imports[arg.ID]
	if !ok {
		return database.CsvImport{}, database.ErrNotFound
	}
	imp.Status = arg.Status
	imp.ErrorMessage = arg.ErrorMessage
	switch arg.Status {
	case "staged":
		imp.StagedAt = m.now()
	case "validated":
		imp.ValidatedAt = m.now()
	case "published":
		imp.PublishedAt = m.now()
	case "failed":
		imp.FailedAt = m.now()
	}
	m.Imports[arg.ID] = imp
	return imp, nil
}

func (m *Store) filteredImports(status, uploadedBy string) []database.CsvImport {
	var out []database.CsvImport
	for _, imp := range m.Imports {
		if (status == "" || imp.Status == status) && (uploadedBy == "" || imp.UploadedBy == uploadedBy) {
			out = append(out, imp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Time.After(out[j].UploadedAt.Time) })
	return out
}

func (m *Store) ListImports(ctx context.Context, arg database.ListImportsParams) ([]database.CsvImport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return page(m.filteredImports(arg.Status, arg.UploadedBy), arg.Limit, arg.Offset)
}

func (m *Store) CountImports(ctx context.Context, status, uploadedBy string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.filteredImports(status, uploadedBy))), nil
}

func (m *Store) FailStaleImports(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, imp := range m.Imports {
		if imp.Status == "uploaded" && imp.UploadedAt.Time.Before(cutoff) {
			imp.Status = "failed"
			imp.ErrorMessage = pgtype.Text{String: message, Valid: true}
			imp.FailedAt = m.now()
			m.Imports[id] = imp
			n++
		}
	}
	return n, nil
}

func (m *Store) InsertStagedRows(ctx context.Context, rows []database.CsvImportStaging) (int64, error) {
	if err := m.fail("InsertStagedRows"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Staging = append(m.Staging, rows...)
	return int64(len(rows)), nil
}

// RowsOf returns the staged rows of one import in row order.
func (m *Store) RowsOf(importID uuid.UUID) []database.CsvImportStaging {
	var out []database.CsvImportStaging
	for _, r := range m.Staging {
		if r.CsvImportID == importID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	return out
}

func (m *Store) ListStagedRows(ctx context.Context, importID uuid.UUID) ([]database.CsvImportStaging, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RowsOf(importID), nil
}

func (m *Store) ListStagedRowsPage(ctx context.Context, arg database.ListStagedRowsPageParams) ([]database.CsvImportStaging, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.CsvImportStaging
	for _, r := range m.RowsOf(arg.ImportID) {
		if arg.Status == "" || r.ValidationStatus == arg.Status {
			out = append(out, r)
		}
	}
	return page(out, arg.Limit, arg.Offset)
}

func (m *Store) ListPublishableRows(ctx context.Context, importID uuid.UUID) ([]database.CsvImportStaging, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.CsvImportStaging
	for _, r := range m.RowsOf(importID) {
		if r.ValidationStatus == "valid" && !r.IsProcessed {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Store) UpdateStagedRowValidation(ctx context.Context, arg database.UpdateStagedRowValidationParams) error {
	if err := m.fail("UpdateStagedRowValidation"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.Staging {
		if m.Staging[i].ID == arg.ID {
			m.Staging[i].ValidationStatus = arg.ValidationStatus
			m.Staging[i].ValidationErrors = arg.ValidationErrors
			m.Staging[i].Warnings = arg.Warnings
			return nil
		}
	}
	return database.ErrNotFound
}

func (m *Store) MarkStagedRowsProcessed(ctx context.Context, importID uuid.UUID) (int64, error) {
	if err := m.fail("MarkStagedRowsProcessed"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.Staging {
		if m.Staging[i].CsvImportID == importID && !m.Staging[i].IsProcessed {
			m.Staging[i].IsProcessed = true
			m.Staging[i].ProcessedAt = m.now()
			n++
		}
	}
	return n, nil
}

func (m *Store) CountStagedRows(ctx context.Context, importID uuid.UUID) (database.StagingCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c database.StagingCounts
	for _, r := range m.RowsOf(importID) {
		c.Total++
		switch r.ValidationStatus {
		case "valid":
			c.Valid++
		case "invalid":
			c.Invalid++
		}
		if r.IsProcessed {
			c.Processed++
		}
	}
	return c, nil
}

func (m *Store) DataPointExists(ctx context.Context, stateID, statisticID, year int32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Points {
		if p.StateID == stateID && p.StatisticID == statisticID && p.Year == year {
			return true, nil
		}
	}
	return false, nil
}

func (m *Store) CreateImportSession(ctx context.Context, arg database.CreateImportSessionParams) (database.ImportSession, error) {
	if err := m.fail("CreateImportSession"); err != nil {
		return database.ImportSession{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := database.ImportSession{
		ID:           arg.ID,
		Name:         arg.Name,
		Description:  arg.Description,
		DataSourceID: arg.DataSourceID,
		DataYear:     arg.DataYear,
		RecordCount:  arg.RecordCount,
		CreatedAt:    m.now(),
	}
	m.Sessions = append(m.Sessions, s)
	return s, nil
}

func (m *Store) InsertDataPoints(ctx context.Context, points []database.DataPoint) (int64, error) {
	if err := m.fail("InsertDataPoints"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		p.ID = int64(len(m.Points) + 1)
		m.Points = append(m.Points, p)
	}
	return int64(len(points)), nil
}

// page rejects what Postgres rejects: a negative LIMIT or OFFSET.
func page[T any](items []T, limit, offset int32) ([]T, error) {
	if limit < 0 || offset < 0 {
		return nil, fmt.Errorf("negative limit %d or offset %d", limit, offset)
	}
	if int(offset) >= len(items) {
		return nil, nil
	}
	end := int(offset) + int(limit)
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end], nil
}
