package core

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

var invalidRowHeaders = []string{"Row", "State", "Year", "Category", "Statistic", "Value", "Errors", "Warnings"}

const exportSheet = "Invalid Rows"

// InvalidRows returns every invalid staged row of an import in row order.
func (s *Service) InvalidRows(ctx context.Context, id uuid.UUID) ([]StagedRow, error) {
	if _, err := loadImport(ctx, s.store.GetImport, id); err != nil {
		return nil, err
	}
	rows, err := s.store.ListStagedRows(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list staged rows: %w", err)
	}
	var out []StagedRow
	for _, r := range rows {
		if r.ValidationStatus == string(RowInvalid) {
			out = append(out, toStagedRow(r))
		}
	}
	return out, nil
}

// ExportInvalidRowsCSV writes an import's invalid rows and their errors as CSV.
func (s *Service) ExportInvalidRowsCSV(ctx context.Context, id uuid.UUID, w io.Writer) error {
	rows, err := s.InvalidRows(ctx, id)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(invalidRowHeaders); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(invalidRowRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportInvalidRowsXLSX writes the same report as a single-sheet workbook.
func (s *Service) ExportInvalidRowsXLSX(ctx context.Context, id uuid.UUID, w io.Writer) error {
	rows, err := s.InvalidRows(ctx, id)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("xlsx style: %w", err)
	}

	header := make([]any, len(invalidRowHeaders))
	for i, h := range invalidRowHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(invalidRowHeaders), 1)
	if err := f.SetCellStyle(exportSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("xlsx header style: %w", err)
	}

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{
			r.RowNumber,
			r.StateName,
			optionalInt(r.Year),
			r.CategoryName,
			r.StatisticName,
			optionalFloat(r.Value),
			strings.Join(r.ValidationErrors, "; "),
			strings.Join(r.Warnings, "; "),
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return fmt.Errorf("xlsx row %d: %w", r.RowNumber, err)
		}
	}

	_ = f.SetColWidth(exportSheet, "B", "F", 18)
	_ = f.SetColWidth(exportSheet, "G", "H", 60)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func invalidRowRecord(r StagedRow) []string {
	year := ""
	if r.Year != nil {
		year = strconv.Itoa(int(*r.Year))
	}
	value := ""
	if r.Value != nil {
		value = formatValue(*r.Value)
	}
	return []string{
		strconv.Itoa(r.RowNumber),
		r.StateName,
		year,
		r.CategoryName,
		r.StatisticName,
		value,
		strings.Join(r.ValidationErrors, "; "),
		strings.Join(r.Warnings, "; "),
	}
}

func optionalInt(p *int32) any {
	if p == nil {
		return ""
	}
	return *p
}

func optionalFloat(p *float64) any {
	if p == nil {
		return ""
	}
	return *p
}
