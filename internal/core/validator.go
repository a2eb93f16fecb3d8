package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/logging"
)

// maxSummaryErrors caps how many row errors go into the import's message.
const maxSummaryErrors = 5

// ValidateImport re-checks every staged row of an import and records the
// outcome. Running it again re-evaluates all rows and overwrites the
// previous result.
//
// Rows whose state or statistic did not resolve are errors. Values already
// present in data_points, negative values and implausibly large values are
// warnings and do not block publishing.
func (s *Service) ValidateImport(ctx context.Context, importID uuid.UUID) (*ValidationReport, error) {
	start := time.Now()
	defer s.metrics.ObserveStage("validate", start)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	log := logging.WithFields(ctx, "import_id", importID)

	var report *ValidationReport
	err := s.store.ExecTx(ctx, func(q database.Querier) error {
		imp, err := loadImport(ctx, q.GetImportForUpdate, importID)
		if err != nil {
			return err
		}
		switch ImportStatus(imp.Status) {
		case StatusStaged, StatusValidated, StatusFailed:
		default:
			return &StateError{Op: "validate", Status: ImportStatus(imp.Status)}
		}

		rows, err := q.ListStagedRows(ctx, importID)
		if err != nil {
			return fmt.Errorf("list staged rows: %w", err)
		}

		report, err = s.validateRows(ctx, q, importID, rows)
		if err != nil {
			return err
		}

		update := database.UpdateImportStatusParams{ID: importID, Status: string(StatusValidated)}
		if !report.IsValid {
			update.Status = string(StatusFailed)
			update.ErrorMessage = pgtype.Text{String: summarizeErrors(report.Errors), Valid: true}
		}
		if _, err := q.UpdateImportStatus(ctx, update); err != nil {
			return fmt.Errorf("update import status: %w", err)
		}
		report.Status = ImportStatus(update.Status)
		return nil
	})
	if err != nil {
		s.metrics.ValidationDone("error")
		return nil, err
	}

	s.metrics.ValidationDone(string(report.Status))
	log.Info("import validated",
		"status", report.Status,
		"valid_rows", report.Stats.ValidRows,
		"invalid_rows", report.Stats.InvalidRows,
		"warning_rows", report.Stats.WarningRows,
	)
	return report, nil
}

type pointKey struct {
	stateID, statisticID, year int32
}

func (s *Service) validateRows(ctx context.Context, q database.Querier, importID uuid.UUID, rows []database.CsvImportStaging) (*ValidationReport, error) {
	report := &ValidationReport{
		ImportID: importID,
		Errors:   []string{},
		Warnings: []string{},
	}
	seen := make(map[pointKey]int32, len(rows))

	for _, row := range rows {
		issues := decodeIssues(row.RawData)
		errs := append(append([]string(nil), issues.Errors...), entityErrors(row)...)
		warns := append([]string(nil), issues.Warnings...)

		if row.StateID.Valid && row.StatisticID.Valid && row.Year.Valid {
			key := pointKey{row.StateID.Int32, row.StatisticID.Int32, row.Year.Int32}
			exists, err := q.DataPointExists(ctx, key.stateID, key.statisticID, key.year)
			if err != nil {
				return nil, fmt.Errorf("check existing data point: %w", err)
			}
			if exists {
				warns = append(warns, fmt.Sprintf("Data for %s, %s, %d already exists and will be added again",
					row.StateName.String, row.StatisticName.String, key.year))
			}
			if first, dup := seen[key]; dup {
				warns = append(warns, fmt.Sprintf("Same state, statistic and year as row %d", first))
			} else {
				seen[key] = row.RowNumber
			}
		}

		if row.Value.Valid {
			v := row.Value.Float64
			if v < 0 {
				warns = append(warns, fmt.Sprintf("Value %s is negative", formatValue(v)))
			}
			if v > s.maxValue {
				warns = append(warns, fmt.Sprintf("Value %s is unusually large (over %s)", formatValue(v), formatValue(s.maxValue)))
			}
		}

		status := RowValid
		if len(errs) > 0 {
			status = RowInvalid
		}
		if err := q.UpdateStagedRowValidation(ctx, database.UpdateStagedRowValidationParams{
			ID:               row.ID,
			ValidationStatus: string(status),
			ValidationErrors: errs,
			Warnings:         warns,
		}); err != nil {
			return nil, fmt.Errorf("update row %d: %w", row.RowNumber, err)
		}

		report.Stats.TotalRows++
		if status == RowValid {
			report.Stats.ValidRows++
		} else {
			report.Stats.InvalidRows++
		}
		if len(warns) > 0 {
			report.Stats.WarningRows++
		}
		for _, e := range errs {
			report.Errors = append(report.Errors, fmt.Sprintf("Row %d: %s", row.RowNumber, e))
		}
		for _, w := range warns {
			report.Warnings = append(report.Warnings, fmt.Sprintf("Row %d: %s", row.RowNumber, w))
		}
	}

	report.IsValid = len(report.Errors) == 0
	return report, nil
}

func summarizeErrors(errs []string) string {
	if len(errs) > maxSummaryErrors {
		errs = errs[:maxSummaryErrors]
	}
	return strings.Join(errs, "; ")
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
