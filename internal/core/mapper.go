package core

// mapper.go turns an uploaded file into Records using a template schema.
//
// Parsing and mapping are pure: nothing here touches the database. A row
// that cannot be coerced keeps its problems in Record.Errors and the rest of
// the file carries on.

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is a parsed file: one header row and the data rows under it.
type Table struct {
	Headers []string
	Rows    [][]string
}

var zipMagic = []byte("PK\x03\x04")

// ParseFile reads CSV or XLSX content. The format comes from the file
// extension, falling back to sniffing the zip signature XLSX files start with.
func ParseFile(filename string, content []byte) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".xlsx" || (ext == "" && bytes.HasPrefix(content, zipMagic)):
		return parseXLSX(content)
	case ext == ".csv" || ext == ".txt" || ext == "":
		return parseCSV(bytes.NewReader(content))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
}

func parseCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(NewTextReader(r))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		records = append(records, rec)
	}
	return newTable(records)
}

func parseXLSX(content []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("parse xlsx: sheet %q: %w", sheets[0], err)
	}
	return newTable(rows)
}

// newTable takes the first record with any text as the header. After the
// header only empty lines are dropped: a line of bare separators is a data
// row with every cell empty.
func newTable(records [][]string) (*Table, error) {
	t := &Table{}
	for _, rec := range records {
		if t.Headers == nil {
			if isBlankRecord(rec) {
				continue
			}
			t.Headers = make([]string, len(rec))
			for i, h := range rec {
				t.Headers[i] = CleanCell(h)
			}
			continue
		}
		if isEmptyLine(rec) {
			continue
		}
		t.Rows = append(t.Rows, rec)
	}
	if t.Headers == nil {
		return nil, ErrEmptyFile
	}
	return t, nil
}

func isBlankRecord(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// isEmptyLine reports a record read from a line holding only whitespace.
func isEmptyLine(rec []string) bool {
	return len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "")
}

// MissingHeaders returns the expected headers that no actual header
// contains, compared case-insensitively.
func MissingHeaders(expected, actual []string) []string {
	lowered := make([]string, len(actual))
	for i, h := range actual {
		lowered[i] = strings.ToLower(h)
	}

	var missing []string
	for _, want := range expected {
		w := strings.ToLower(strings.TrimSpace(want))
		found := false
		for _, h := range lowered {
			if strings.Contains(h, w) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, want)
		}
	}
	return missing
}

type boundColumn struct {
	def   ColumnDef
	index int // -1 when the file has no such column
}

// Mapper applies a schema to rows of one file.
type Mapper struct {
	schema  TemplateSchema
	headers []string
	columns []boundColumn
	bound   map[int]bool
}

// NewMapper checks the header row against the schema and binds each schema
// column to a header. It fails with ErrInvalidCSVFormat when an expected
// header is missing.
func NewMapper(schema TemplateSchema, headers []string) (*Mapper, error) {
	if missing := MissingHeaders(schema.ExpectedHeaders, headers); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing expected headers: %s", ErrInvalidCSVFormat, strings.Join(missing, ", "))
	}

	m := &Mapper{
		schema:  schema,
		headers: headers,
		bound:   make(map[int]bool),
	}
	for _, col := range schema.Columns {
		idx := findHeader(headers, col.ColumnName)
		if idx >= 0 {
			m.bound[idx] = true
		}
		m.columns = append(m.columns, boundColumn{def: col, index: idx})
	}
	return m, nil
}

// findHeader prefers an exact case-insensitive match, then the first header
// containing name.
func findHeader(headers []string, name string) int {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return -1
	}
	for i, h := range headers {
		if strings.ToLower(h) == name {
			return i
		}
	}
	for i, h := range headers {
		if strings.Contains(strings.ToLower(h), name) {
			return i
		}
	}
	return -1
}

// MapTable maps every data row. Row numbers start at 1 for the first data
// row under the header.
func MapTable(schema TemplateSchema, t *Table) ([]Record, error) {
	m, err := NewMapper(schema, t.Headers)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(t.Rows))
	for i, row := range t.Rows {
		records[i] = m.Map(i+1, row)
	}
	return records, nil
}

// Map converts one row. It never fails; problems land in Record.Errors.
func (m *Mapper) Map(rowNumber int, cells []string) (rec Record) {
	rec = Record{
		RowNumber: rowNumber,
		Raw:       make(map[string]string, len(cells)),
	}
	defer func() {
		if p := recover(); p != nil {
			rec.Errors = append(rec.Errors, fmt.Sprintf("row could not be mapped: %v", p))
		}
	}()

	for i, cell := range cells {
		rec.Raw[m.headerName(i)] = cell
	}

	for _, col := range m.columns {
		cell := ""
		if col.index >= 0 && col.index < len(cells) {
			cell = CleanCell(cells[col.index])
		}
		m.assign(&rec, col.def, cell)
	}

	if m.schema.FlexibleColumns {
		for i, cell := range cells {
			if m.bound[i] {
				continue
			}
			if rec.Additional == nil {
				rec.Additional = make(map[string]string)
			}
			rec.Additional[m.headerName(i)] = CleanCell(cell)
		}
	}
	return rec
}

func (m *Mapper) headerName(i int) string {
	if i < len(m.headers) && m.headers[i] != "" {
		return m.headers[i]
	}
	return fmt.Sprintf("column_%d", i+1)
}

func (m *Mapper) assign(rec *Record, def ColumnDef, cell string) {
	if cell == "" {
		if def.Required {
			rec.Errors = append(rec.Errors, fmt.Sprintf("required field %q is empty", def.ColumnName))
		}
		return
	}

	value, err := coerce(def.Type, cell)
	if err != nil {
		rec.Errors = append(rec.Errors, fmt.Sprintf("%s in column %q", err, def.ColumnName))
		return
	}

	switch def.Mapping {
	case TargetStateName:
		rec.StateName = toText(value)
	case TargetCategoryName:
		rec.CategoryName = toText(value)
	case TargetStatisticName:
		rec.StatisticName = toText(value)
	case TargetYear:
		year, ok := yearOf(value)
		if !ok {
			rec.Errors = append(rec.Errors, fmt.Sprintf("invalid year %q in column %q", cell, def.ColumnName))
			return
		}
		rec.Year = &year
	case TargetValue:
		f, ok := toFloat(value)
		if !ok {
			if s, isText := value.(string); isText {
				f, ok = ParseNumber(s)
			}
		}
		if !ok {
			rec.Errors = append(rec.Errors, fmt.Sprintf("invalid number %q in column %q", cell, def.ColumnName))
			return
		}
		rec.Value = &f
	default:
		key := def.Mapping
		if key == "" {
			key = def.ColumnName
		}
		if rec.Fields == nil {
			rec.Fields = make(map[string]any)
		}
		rec.Fields[key] = value
	}
}

// coerce converts cell text to the column's declared type.
func coerce(t ColumnType, cell string) (any, error) {
	switch t {
	case TypeNumber:
		f, ok := ParseNumber(cell)
		if !ok {
			return nil, fmt.Errorf("invalid number %q", cell)
		}
		return f, nil
	case TypeDate:
		d, ok := ParseDate(cell)
		if !ok {
			return nil, fmt.Errorf("invalid date %q", cell)
		}
		return d, nil
	case TypeBoolean:
		return ParseTruthy(cell), nil
	default:
		return strings.TrimSpace(cell), nil
	}
}

func yearOf(v any) (int, bool) {
	switch y := v.(type) {
	case float64:
		if y != math.Trunc(y) || y < minYear || y > maxYear {
			return 0, false
		}
		return int(y), true
	case string:
		return ParseYear(y)
	default:
		if t, ok := v.(interface{ Year() int }); ok {
			year := t.Year()
			return year, year >= minYear && year <= maxYear
		}
	}
	return 0, false
}

// ruleRow is the record as seen by custom rules.
func (r Record) ruleRow() map[string]any {
	row := make(map[string]any, 5+len(r.Fields)+len(r.Additional))
	for k, v := range r.Additional {
		row[k] = v
	}
	for k, v := range r.Fields {
		row[k] = v
	}
	if r.StateName != "" {
		row[TargetStateName] = r.StateName
	}
	if r.CategoryName != "" {
		row[TargetCategoryName] = r.CategoryName
	}
	if r.StatisticName != "" {
		row[TargetStatisticName] = r.StatisticName
	}
	if r.Year != nil {
		row[TargetYear] = *r.Year
	}
	if r.Value != nil {
		row[TargetValue] = *r.Value
	}
	return row
}
