package core

// staging.go implements the upload half of the pipeline: parse, map,
// resolve entities, apply template rules and copy every row into staging.

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/logging"
)

// rawData is the JSON stored in csv_import_staging.raw_data.
type rawData struct {
	Row               map[string]string `json:"row"`
	AdditionalColumns map[string]string `json:"additionalColumns,omitempty"`
	Fields            map[string]any    `json:"fields,omitempty"`
	Issues            rowIssues         `json:"issues"`
}

// rowIssues are the problems found at staging time that the validator
// cannot recompute from the staged columns alone: coercion errors, rule
// failures and fuzzy corrections.
type rowIssues struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func decodeIssues(raw []byte) rowIssues {
	var rd struct {
		Issues rowIssues `json:"issues"`
	}
	if len(raw) == 0 {
		return rowIssues{}
	}
	if err := json.Unmarshal(raw, &rd); err != nil {
		return rowIssues{}
	}
	return rd.Issues
}

// UploadCSV stages one uploaded file against a template.
//
// Header problems, an unknown template or an unreadable file fail the whole
// upload before anything is written. Problems in individual rows are kept
// on those rows. A file whose bytes match an earlier upload is still staged;
// the result's DuplicateOf names the earlier import.
func (s *Service) UploadCSV(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	start := time.Now()
	result, err := s.uploadCSV(ctx, req)
	s.metrics.ObserveStage("upload", start)
	if err != nil {
		s.metrics.UploadDone("rejected")
		return nil, err
	}
	s.metrics.UploadDone("staged")
	s.metrics.RowsStaged(result.Stats.ValidRows, result.Stats.InvalidRows)
	return result, nil
}

func (s *Service) uploadCSV(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if strings.TrimSpace(req.UploadedBy) == "" {
		return nil, ErrMissingUser
	}
	if len(req.Content) == 0 {
		return nil, ErrEmptyFile
	}
	if s.maxSize > 0 && int64(len(req.Content)) > s.maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFileTooLarge, len(req.Content), s.maxSize)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()
	s.metrics.UploadStarted()
	defer s.metrics.UploadFinished()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	log := logging.WithFields(ctx, "filename", req.Filename, "template_id", req.TemplateID, "uploaded_by", req.UploadedBy)

	tpl, err := s.templates.Get(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	table, err := ParseFile(req.Filename, req.Content)
	if err != nil {
		return nil, err
	}
	records, err := MapTable(tpl.Schema, table)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: header row only", ErrEmptyFile)
	}

	ref, err := loadResolver(ctx, s.store, s.thresholds)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Content)
	hash := hex.EncodeToString(sum[:])
	var duplicateOf *uuid.UUID
	earlier, err := s.store.FindImportByHash(ctx, hash)
	switch {
	case err == nil:
		duplicateOf = &earlier
		log.Warn("file matches an earlier import; staging anyway", "duplicate_of", earlier)
	case !database.IsNotFound(err):
		return nil, fmt.Errorf("check duplicate upload: %w", err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Filename
	}

	importID := uuid.New()
	meta := requestMetadata(ctx, req.Metadata)
	err = s.store.ExecTx(ctx, func(q database.Querier) error {
		if _, err := q.CreateImport(ctx, database.CreateImportParams{
			ID:          importID,
			Name:        name,
			Filename:    req.Filename,
			FileSize:    int64(len(req.Content)),
			FileHash:    hash,
			DuplicateOf: pgUUID(duplicateOf),
			UploadedBy:  req.UploadedBy,
			TemplateID:  pgtype.UUID{Bytes: tpl.ID, Valid: true},
		}); err != nil {
			return fmt.Errorf("create import: %w", err)
		}
		if len(meta) == 0 {
			return nil
		}
		if _, err := q.InsertImportMetadata(ctx, metadataRows(importID, meta)); err != nil {
			return fmt.Errorf("insert import metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log = log.With("import_id", importID)

	rows := make([]database.CsvImportStaging, len(records))
	var stats StagingStats
	for i, rec := range records {
		rows[i] = s.stageRecord(ctx, importID, tpl, ref, rec)
		stats.TotalRows++
		if rows[i].ValidationStatus == string(RowValid) {
			stats.ValidRows++
		} else {
			stats.InvalidRows++
		}
		stats.Warnings += len(rows[i].Warnings)
	}

	err = s.store.ExecTx(ctx, func(q database.Querier) error {
		if _, err := q.InsertStagedRows(ctx, rows); err != nil {
			return fmt.Errorf("insert staged rows: %w", err)
		}
		if _, err := q.UpdateImportStatus(ctx, database.UpdateImportStatusParams{
			ID:     importID,
			Status: string(StatusStaged),
		}); err != nil {
			return fmt.Errorf("mark import staged: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("staging failed", "error", err)
		s.markFailed(ctx, importID, "staging failed")
		return nil, err
	}

	log.Info("import staged",
		"total_rows", stats.TotalRows,
		"valid_rows", stats.ValidRows,
		"invalid_rows", stats.InvalidRows,
		"warnings", stats.Warnings,
	)

	msg := fmt.Sprintf("Staged %d rows (%d valid, %d invalid)", stats.TotalRows, stats.ValidRows, stats.InvalidRows)
	if duplicateOf != nil {
		msg += fmt.Sprintf(". This file is identical to import %s", duplicateOf)
	}
	return &UploadResult{
		ImportID:    importID,
		Message:     msg,
		Stats:       stats,
		DuplicateOf: duplicateOf,
	}, nil
}

func metadataRows(importID uuid.UUID, meta map[string]string) []database.CsvImportMetadata {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]database.CsvImportMetadata, len(keys))
	for i, k := range keys {
		rows[i] = database.CsvImportMetadata{CsvImportID: importID, Key: k, Value: meta[k]}
	}
	return rows
}

// stageRecord resolves and checks one record. A panic is contained to the
// row, which is then staged as invalid.
func (s *Service) stageRecord(ctx context.Context, importID uuid.UUID, tpl *ImportTemplate, ref *resolver, rec Record) (row database.CsvImportStaging) {
	row = database.CsvImportStaging{
		ID:          uuid.New(),
		CsvImportID: importID,
		RowNumber:   int32(rec.RowNumber),
		Year:        pgIntFromInt(rec.Year),
		Value:       pgFloat8(rec.Value),
	}
	issues := rowIssues{Errors: append([]string(nil), rec.Errors...)}

	defer func() {
		if p := recover(); p != nil {
			issues.Errors = append(issues.Errors, fmt.Sprintf("row could not be staged: %v", p))
			finishRow(&row, rec, issues)
		}
	}()

	state := ref.State(rec.StateName)
	if state.Fuzzy {
		issues.Warnings = append(issues.Warnings, correctionWarning("State", rec.StateName, state))
	}
	row.StateName = pgText(state.Name)
	row.StateID = pgInt4(state.ID)

	var category resolution
	if strings.TrimSpace(rec.CategoryName) == "" && tpl.CategoryID != nil {
		category = resolution{ID: tpl.CategoryID, Name: ref.CategoryName(*tpl.CategoryID), Score: 1}
	} else {
		category = ref.Category(rec.CategoryName)
		if category.Fuzzy {
			issues.Warnings = append(issues.Warnings, correctionWarning("Category", rec.CategoryName, category))
		}
	}
	row.CategoryName = pgText(category.Name)
	row.CategoryID = pgInt4(category.ID)

	statistic := ref.Statistic(rec.StatisticName, category.ID)
	if statistic.Fuzzy {
		issues.Warnings = append(issues.Warnings, correctionWarning("Statistic", rec.StatisticName, statistic))
	}
	row.StatisticName = pgText(statistic.Name)
	row.StatisticID = pgInt4(statistic.ID)

	for _, v := range s.evaluateRules(ctx, tpl, rec) {
		if v.Severity == SeverityWarning {
			issues.Warnings = append(issues.Warnings, v.Message)
		} else {
			issues.Errors = append(issues.Errors, v.Message)
		}
	}

	finishRow(&row, rec, issues)
	return row
}

// finishRow stores raw data and derives the row status.
func finishRow(row *database.CsvImportStaging, rec Record, issues rowIssues) {
	raw, err := json.Marshal(rawData{
		Row:               rec.Raw,
		AdditionalColumns: rec.Additional,
		Fields:            rec.Fields,
		Issues:            issues,
	})
	if err != nil {
		issues.Errors = append(issues.Errors, fmt.Sprintf("row data could not be stored: %v", err))
		raw, _ = json.Marshal(rawData{Row: rec.Raw, Issues: issues})
	}
	row.RawData = raw

	errs := append(append([]string(nil), issues.Errors...), entityErrors(*row)...)
	row.ValidationErrors = errs
	row.Warnings = append([]string(nil), issues.Warnings...)
	if len(errs) > 0 {
		row.ValidationStatus = string(RowInvalid)
	} else {
		row.ValidationStatus = string(RowValid)
	}
}

// evaluateRules runs the template's field rules, per-column rules and row
// level custom rules against one record.
func (s *Service) evaluateRules(ctx context.Context, tpl *ImportTemplate, rec Record) []Violation {
	row := rec.ruleRow()
	var out []Violation

	check := func(field string, value any, rules Rules) {
		for _, rule := range rules {
			v, err := EvaluateRule(ctx, rule, RuleInput{Field: field, Value: value, Row: row})
			if err != nil {
				out = append(out, Violation{
					Field:    field,
					Message:  fmt.Sprintf("%s: rule could not be evaluated: %v", field, err),
					Severity: SeverityError,
				})
				continue
			}
			if v != nil {
				out = append(out, *v)
			}
		}
	}

	check(TargetStateName, rec.fieldValue(TargetStateName), tpl.ValidationRules.StateName)
	check(TargetYear, rec.fieldValue(TargetYear), tpl.ValidationRules.Year)
	check(TargetValue, rec.fieldValue(TargetValue), tpl.ValidationRules.Value)
	for _, col := range tpl.Schema.Columns {
		if len(col.Validation) == 0 {
			continue
		}
		key := col.Mapping
		if key == "" {
			key = col.ColumnName
		}
		check(key, rec.fieldValue(key), col.Validation)
	}
	check(rowField, nil, tpl.ValidationRules.Custom)
	return out
}

// fieldValue returns a record field for rule evaluation, or nil when empty.
func (r Record) fieldValue(name string) any {
	switch name {
	case TargetStateName:
		if r.StateName == "" {
			return nil
		}
		return r.StateName
	case TargetCategoryName:
		if r.CategoryName == "" {
			return nil
		}
		return r.CategoryName
	case TargetStatisticName:
		if r.StatisticName == "" {
			return nil
		}
		return r.StatisticName
	case TargetYear:
		if r.Year == nil {
			return nil
		}
		return *r.Year
	case TargetValue:
		if r.Value == nil {
			return nil
		}
		return *r.Value
	}
	if v, ok := r.Fields[name]; ok && v != nil {
		return v
	}
	if v, ok := r.Additional[name]; ok && v != "" {
		return v
	}
	return nil
}
