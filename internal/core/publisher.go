package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/logging"
)

// PublishImport copies the valid rows of a validated import into
// data_points under a new import session.
//
// All writes happen in one transaction with the import row locked: the
// session, the data points, the processed flags on staging and the status
// change either all commit or none do. Only validated imports can be
// published; anything else, including a second publish, returns a
// *StateError and writes nothing.
func (s *Service) PublishImport(ctx context.Context, importID uuid.UUID, userID string) (*PublishResult, error) {
	start := time.Now()
	defer s.metrics.ObserveStage("publish", start)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		s.metrics.PublishDone("rejected", 0)
		return nil, ErrMissingUser
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	log := logging.WithFields(ctx, "import_id", importID, "user_id", userID)

	var result *PublishResult
	err := s.store.ExecTx(ctx, func(q database.Querier) error {
		imp, err := loadImport(ctx, q.GetImportForUpdate, importID)
		if err != nil {
			return err
		}
		if ImportStatus(imp.Status) != StatusValidated {
			return &StateError{Op: "publish", Status: ImportStatus(imp.Status)}
		}

		rows, err := q.ListPublishableRows(ctx, importID)
		if err != nil {
			return fmt.Errorf("list publishable rows: %w", err)
		}
		if len(rows) == 0 {
			return ErrNoValidData
		}

		var tpl *ImportTemplate
		if imp.TemplateID.Valid {
			// A template retired since upload only loses the data source link.
			tpl, err = s.templates.Get(ctx, uuid.UUID(imp.TemplateID.Bytes).String())
			if err != nil && !errors.Is(err, ErrTemplateNotFound) {
				return err
			}
		}

		sessionID := uuid.New()
		points := dataPoints(sessionID, rows)
		if len(points) == 0 {
			return ErrNoValidData
		}

		session := database.CreateImportSessionParams{
			ID:          sessionID,
			Name:        fmt.Sprintf("CSV import: %s", imp.Name),
			Description: pgtype.Text{String: fmt.Sprintf("Published from %s by %s", imp.Filename, userID), Valid: true},
			DataYear:    pgtype.Int4{Int32: sessionYear(points), Valid: true},
			RecordCount: int32(len(points)),
		}
		if tpl != nil {
			session.DataSourceID = pgInt4(tpl.DataSourceID)
		}
		if _, err := q.CreateImportSession(ctx, session); err != nil {
			return fmt.Errorf("create import session: %w", err)
		}

		if _, err := q.InsertDataPoints(ctx, points); err != nil {
			return fmt.Errorf("insert data points: %w", err)
		}
		if _, err := q.MarkStagedRowsProcessed(ctx, importID); err != nil {
			return fmt.Errorf("mark rows processed: %w", err)
		}
		if _, err := q.InsertImportMetadata(ctx, []database.CsvImportMetadata{
			{CsvImportID: importID, Key: MetaPublishedBy, Value: userID},
		}); err != nil {
			return fmt.Errorf("record publisher: %w", err)
		}
		if _, err := q.UpdateImportStatus(ctx, database.UpdateImportStatusParams{
			ID:     importID,
			Status: string(StatusPublished),
		}); err != nil {
			return fmt.Errorf("mark import published: %w", err)
		}

		result = &PublishResult{
			Success:       true,
			Message:       fmt.Sprintf("Published %d data points", len(points)),
			PublishedRows: len(points),
			SessionID:     &sessionID,
		}
		return nil
	})
	if err != nil {
		s.metrics.PublishDone("rejected", 0)
		log.Warn("publish rejected", "error", err)
		return nil, err
	}

	s.metrics.PublishDone("published", result.PublishedRows)
	log.Info("import published", "session_id", result.SessionID, "data_points", result.PublishedRows)
	return result, nil
}

// dataPoints keeps rows that carry every field a data point needs.
func dataPoints(sessionID uuid.UUID, rows []database.CsvImportStaging) []database.DataPoint {
	points := make([]database.DataPoint, 0, len(rows))
	for _, r := range rows {
		if !r.StateID.Valid || !r.StatisticID.Valid || !r.Year.Valid || !r.Value.Valid {
			continue
		}
		points = append(points, database.DataPoint{
			ImportSessionID: sessionID,
			Year:            r.Year.Int32,
			StateID:         r.StateID.Int32,
			StatisticID:     r.StatisticID.Int32,
			Value:           r.Value.Float64,
		})
	}
	return points
}

// sessionYear is the shared year of all points, or the latest one when the
// file spans several years.
func sessionYear(points []database.DataPoint) int32 {
	var latest int32
	for _, p := range points {
		if p.Year > latest {
			latest = p.Year
		}
	}
	return latest
}
