package core

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestParseFile_CSV(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		wantHdr  []string
		wantRows int
	}{
		{"basic", "a.csv", "A,B\n1,2\n3,4\n", []string{"A", "B"}, 2},
		{"bom and crlf", "a.csv", "\ufeffA,B\r\n1,2\r\n", []string{"A", "B"}, 1},
		{"leading blank lines", "a.csv", "\n,,\nA,B\n1,2\n", []string{"A", "B"}, 1},
		{"separator-only data line", "a.csv", "A,B\n1,2\n,\n  \n3,4\n", []string{"A", "B"}, 3},
		{"ragged rows", "a.txt", "A,B,C\n1\n1,2,3,4\n", []string{"A", "B", "C"}, 2},
		{"no extension", "upload", "A\n1\n", []string{"A"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ParseFile(tt.filename, []byte(tt.content))
			if err != nil {
				t.Fatalf("ParseFile: %v", err)
			}
			if !reflect.DeepEqual(table.Headers, tt.wantHdr) {
				t.Errorf("Headers = %q, want %q", table.Headers, tt.wantHdr)
			}
			if len(table.Rows) != tt.wantRows {
				t.Errorf("len(Rows) = %d, want %d", len(table.Rows), tt.wantRows)
			}
		})
	}
}

func TestParseFile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		want     error
	}{
		{"blank", "a.csv", "\n\n", ErrEmptyFile},
		{"unsupported", "a.json", "{}", ErrUnsupportedFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFile(tt.filename, []byte(tt.content)); !errors.Is(err, tt.want) {
				t.Errorf("ParseFile error = %v, want %v", err, tt.want)
			}
		})
	}
}

func xlsxBytes(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestParseFile_XLSX(t *testing.T) {
	content := xlsxBytes(t, [][]any{
		{"State", "Year", "Category", "Measure", "Value"},
		{"Alabama", 2023, "Economy", "GDP", 200000},
	})

	for _, name := range []string{"gdp.xlsx", "gdp"} {
		table, err := ParseFile(name, content)
		if err != nil {
			t.Fatalf("ParseFile(%q): %v", name, err)
		}
		if len(table.Headers) != 5 || table.Headers[3] != "Measure" {
			t.Errorf("Headers = %q", table.Headers)
		}
		if len(table.Rows) != 1 || table.Rows[0][0] != "Alabama" || table.Rows[0][4] != "200000" {
			t.Errorf("Rows = %q", table.Rows)
		}
	}

	if _, err := ParseFile("broken.xlsx", []byte("not a zip")); err == nil || !strings.Contains(err.Error(), "parse xlsx") {
		t.Errorf("ParseFile(broken) error = %v, want parse xlsx error", err)
	}
}

func TestMissingHeaders(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
		actual   []string
		want     []string
	}{
		{"all present", []string{"State", "Value"}, []string{"state", "VALUE"}, nil},
		{"substring", []string{"Value"}, []string{"Value (USD)"}, nil},
		{"missing", []string{"State", "Year", "Value"}, []string{"State"}, []string{"Year", "Value"}},
		{"none expected", nil, []string{"Anything"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MissingHeaders(tt.expected, tt.actual)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MissingHeaders() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMapper_Map(t *testing.T) {
	m, err := NewMapper(gdpSchema(), []string{"State", "Year", "Category", "Measure", "Value (USD)"})
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}

	tests := []struct {
		name      string
		cells     []string
		wantState string
		wantYear  int
		wantValue float64
		wantErr   string
	}{
		{"clean", []string{"Alabama", "2023", "Economy", "GDP", "$1,500"}, "Alabama", 2023, 1500, ""},
		{"excel quoted", []string{`="Alaska"`, "2023.0", "Economy", "GDP", "(12)"}, "Alaska", 2023, -12, ""},
		{"bad value", []string{"Alabama", "2023", "Economy", "GDP", "n/a"}, "Alabama", 2023, 0, `invalid number "n/a" in column "Value"`},
		{"fractional year", []string{"Alabama", "2023.5", "Economy", "GDP", "1"}, "Alabama", 0, 1, `invalid year "2023.5" in column "Year"`},
		{"year past int32", []string{"Alabama", "4294969319", "Economy", "GDP", "5"}, "Alabama", 0, 5, `invalid year "4294969319" in column "Year"`},
		{"year zero", []string{"Alabama", "0", "Economy", "GDP", "5"}, "Alabama", 0, 5, `invalid year "0" in column "Year"`},
		{"short row", []string{"Alabama", "2023"}, "Alabama", 2023, 0, `required field "Measure" is empty`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := m.Map(7, tt.cells)
			if rec.RowNumber != 7 {
				t.Errorf("RowNumber = %d, want 7", rec.RowNumber)
			}
			if rec.StateName != tt.wantState {
				t.Errorf("StateName = %q, want %q", rec.StateName, tt.wantState)
			}
			if tt.wantYear == 0 && rec.Year != nil {
				t.Errorf("Year = %d, want unset", *rec.Year)
			}
			if tt.wantYear != 0 && (rec.Year == nil || *rec.Year != tt.wantYear) {
				t.Errorf("Year = %v, want %d", rec.Year, tt.wantYear)
			}
			if tt.wantValue != 0 && (rec.Value == nil || *rec.Value != tt.wantValue) {
				t.Errorf("Value = %v, want %v", rec.Value, tt.wantValue)
			}
			if tt.wantErr == "" && len(rec.Errors) > 0 {
				t.Errorf("Errors = %v, want none", rec.Errors)
			}
			if tt.wantErr != "" && !containsText(rec.Errors, tt.wantErr) {
				t.Errorf("Errors = %v, want %q", rec.Errors, tt.wantErr)
			}
		})
	}
}

func TestMapper_FlexibleColumns(t *testing.T) {
	schema := gdpSchema()
	schema.FlexibleColumns = true
	schema.Columns = append(schema.Columns, ColumnDef{ColumnName: "Source", Type: TypeString, Mapping: "source"})

	headers := []string{"State", "Year", "Category", "Measure", "Value", "Source", "Notes"}
	m, err := NewMapper(schema, headers)
	if err != nil {
		t.Fatalf("NewMapper: %v", err)
	}
	rec := m.Map(1, []string{"Alabama", "2023", "Economy", "GDP", "1", "BEA", " revised "})

	if rec.Fields["source"] != "BEA" {
		t.Errorf("Fields = %v, want source=BEA", rec.Fields)
	}
	if want := map[string]string{"Notes": "revised"}; !reflect.DeepEqual(rec.Additional, want) {
		t.Errorf("Additional = %v, want %v", rec.Additional, want)
	}
	if rec.Raw["Notes"] != " revised " {
		t.Errorf("Raw[Notes] = %q, want original cell", rec.Raw["Notes"])
	}

	schema.FlexibleColumns = false
	m, _ = NewMapper(schema, headers)
	if rec := m.Map(1, []string{"Alabama", "2023", "Economy", "GDP", "1", "BEA", "x"}); rec.Additional != nil {
		t.Errorf("Additional = %v, want nil for fixed schema", rec.Additional)
	}
}

func TestMapTable_MissingHeaders(t *testing.T) {
	_, err := MapTable(gdpSchema(), &Table{Headers: []string{"State", "Value"}})
	if !errors.Is(err, ErrInvalidCSVFormat) {
		t.Fatalf("MapTable error = %v, want ErrInvalidCSVFormat", err)
	}
	if !strings.Contains(err.Error(), "missing expected headers: Year, Category, Measure") {
		t.Errorf("error = %q", err)
	}
}

func TestMapTable_RowNumbers(t *testing.T) {
	table, err := ParseFile("a.csv", []byte(gdpHeader+"Alabama,2020,Economy,GDP,1\n\nAlaska,2020,Economy,GDP,2\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	records, err := MapTable(gdpSchema(), table)
	if err != nil {
		t.Fatalf("MapTable: %v", err)
	}
	if len(records) != 2 || records[0].RowNumber != 1 || records[1].RowNumber != 2 {
		t.Errorf("records = %+v", records)
	}
}

func TestMapTable_SeparatorOnlyLineIsInvalidRow(t *testing.T) {
	table, err := ParseFile("a.csv", []byte(gdpHeader+"Alabama,2020,Economy,GDP,1\n,,,,\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	records, err := MapTable(gdpSchema(), table)
	if err != nil {
		t.Fatalf("MapTable: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if !containsText(records[1].Errors, `required field "State" is empty`) {
		t.Errorf("Errors = %v, want required field error", records[1].Errors)
	}
}
