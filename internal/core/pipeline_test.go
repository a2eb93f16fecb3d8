package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/database/dbtest"
)

const gdpHeader = "State,Year,Category,Measure,Value\n"

func containsText(list []string, sub string) bool {
	for _, s := range list {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func TestUploadValidatePublish(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res := upload(t, svc, gdpHeader+"Alabama,2023,Economy,GDP,200000\n")
	if res.Stats != (StagingStats{TotalRows: 1, ValidRows: 1}) {
		t.Fatalf("Stats = %+v, want 1 valid row", res.Stats)
	}
	if res.DuplicateOf != nil {
		t.Errorf("DuplicateOf = %v, want nil", res.DuplicateOf)
	}
	if got := store.Imports[res.ImportID].Status; got != string(StatusStaged) {
		t.Errorf("status after upload = %q, want staged", got)
	}

	report, err := svc.ValidateImport(ctx, res.ImportID)
	if err != nil {
		t.Fatalf("ValidateImport: %v", err)
	}
	if !report.IsValid || report.Status != StatusValidated {
		t.Fatalf("report = %+v, want valid and validated", report)
	}
	if report.Stats.ValidRows != 1 || report.Stats.InvalidRows != 0 {
		t.Errorf("Stats = %+v", report.Stats)
	}

	pub, err := svc.PublishImport(ctx, res.ImportID, "admin@example.com")
	if err != nil {
		t.Fatalf("PublishImport: %v", err)
	}
	if !pub.Success || pub.PublishedRows != 1 || pub.SessionID == nil {
		t.Fatalf("PublishResult = %+v", pub)
	}

	if len(store.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(store.Sessions))
	}
	session := store.Sessions[0]
	if session.ID != *pub.SessionID {
		t.Errorf("session id = %v, want %v", session.ID, *pub.SessionID)
	}
	if session.RecordCount != 1 || session.DataYear.Int32 != 2023 || session.DataSourceID.Int32 != 3 {
		t.Errorf("session = %+v", session)
	}

	if len(store.Points) != 1 {
		t.Fatalf("data points = %d, want 1", len(store.Points))
	}
	want := database.DataPoint{ID: 1, ImportSessionID: session.ID, Year: 2023, StateID: 1, StatisticID: 10, Value: 200000}
	if store.Points[0] != want {
		t.Errorf("data point = %+v, want %+v", store.Points[0], want)
	}

	imp := store.Imports[res.ImportID]
	if imp.Status != string(StatusPublished) || !imp.PublishedAt.Valid {
		t.Errorf("import after publish = %+v", imp)
	}
	for _, r := range store.RowsOf(res.ImportID) {
		if !r.IsProcessed {
			t.Errorf("row %d not marked processed", r.RowNumber)
		}
	}

	detail, err := svc.GetImport(ctx, res.ImportID)
	if err != nil {
		t.Fatalf("GetImport: %v", err)
	}
	if detail.Metadata[MetaPublishedBy] != "admin@example.com" {
		t.Errorf("metadata = %v, want published_by", detail.Metadata)
	}
	if detail.ProcessedRows != 1 {
		t.Errorf("ProcessedRows = %d, want 1", detail.ProcessedRows)
	}
}

func TestOutOfRangeYearNeverPublished(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res := upload(t, svc, gdpHeader+"Alabama,4294969319,Economy,GDP,5\n")
	if res.Stats.InvalidRows != 1 {
		t.Fatalf("InvalidRows = %d, want 1", res.Stats.InvalidRows)
	}
	rows := store.RowsOf(res.ImportID)
	if len(rows) != 1 || rows[0].Year.Valid {
		t.Fatalf("staged rows = %+v, want one row without a year", rows)
	}

	report, err := svc.ValidateImport(ctx, res.ImportID)
	if err != nil {
		t.Fatalf("ValidateImport: %v", err)
	}
	if report.IsValid || !containsText(report.Errors, `invalid year "4294969319"`) {
		t.Errorf("report = %+v, want invalid year error", report)
	}

	if _, err := svc.PublishImport(ctx, res.ImportID, "admin@example.com"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("PublishImport error = %v, want ErrInvalidState", err)
	}
	if len(store.Points) != 0 {
		t.Errorf("data points = %+v, want none", store.Points)
	}
}

func TestUnknownStateBlocksPublish(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res := upload(t, svc, gdpHeader+"InvalidState,2023,Economy,GDP,100\n")
	if res.Stats.InvalidRows != 1 {
		t.Fatalf("InvalidRows = %d, want 1", res.Stats.InvalidRows)
	}

	report, err := svc.ValidateImport(ctx, res.ImportID)
	if err != nil {
		t.Fatalf("ValidateImport: %v", err)
	}
	if report.IsValid {
		t.Fatal("IsValid = true, want false")
	}
	if !containsText(report.Errors, "not found in database") {
		t.Errorf("Errors = %v, want state not found", report.Errors)
	}
	if report.Errors[0] != `Row 1: State "InvalidState" not found in database` {
		t.Errorf("Errors[0] = %q", report.Errors[0])
	}

	imp := store.Imports[res.ImportID]
	if imp.Status != string(StatusFailed) {
		t.Errorf("status = %q, want failed", imp.Status)
	}
	if !strings.Contains(imp.ErrorMessage.String, "InvalidState") {
		t.Errorf("error message = %q", imp.ErrorMessage.String)
	}

	_, err = svc.PublishImport(ctx, res.ImportID, "admin")
	var se *StateError
	if !errors.As(err, &se) || se.Status != StatusFailed {
		t.Fatalf("PublishImport error = %v, want StateError for failed import", err)
	}
	if len(store.Sessions) != 0 || len(store.Points) != 0 {
		t.Errorf("publish wrote %d sessions and %d points", len(store.Sessions), len(store.Points))
	}
}

func TestPublishTwiceIsRejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	res := upload(t, svc, gdpHeader+"Alabama,2023,Economy,GDP,200000\n")
	if _, err := svc.ValidateImport(ctx, res.ImportID); err != nil {
		t.Fatalf("ValidateImport: %v", err)
	}
	if _, err := svc.PublishImport(ctx, res.ImportID, "admin"); err != nil {
		t.Fatalf("first PublishImport: %v", err)
	}

	_, err := svc.PublishImport(ctx, res.ImportID, "admin")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second PublishImport error = %v, want ErrInvalidState", err)
	}
	if !strings.Contains(err.Error(), "already been published") {
		t.Errorf("error = %q", err)
	}
	if len(store.Points) != 1 || len(store.Sessions) != 1 {
		t.Errorf("points = %d, sessions = %d, want 1 and 1", len(store.Points), len(store.Sessions))
	}
}

func TestValidateWarningsDoNotBlock(t *testing.T) {
	svc, store := newTestService(t)
	store.Points = append(store.Points, database.DataPoint{ID: 1, StateID: 1, StatisticID: 10, Year: 2023, Value: 1})
	ctx := context.Background()

	res := upload(t, svc, gdpHeader+
		"Alabama,2023,Economy,GDP,200000\n"+
		"Alabama,2023,Economy,GDP,210000\n"+
		"Alaska,2023,Economy,GDP,-4\n"+
		"California,2023,Economy,GDP,5000000000\n")

	report, err := svc.ValidateImport(ctx, res.ImportID)
	if err != nil {
		t.Fatalf("ValidateImport: %v", err)
	}
	if !report.IsValid || report.Status != StatusValidated {
		t.Fatalf("report = %+v, want validated", report)
	}
	if report.Stats.WarningRows != 4 {
		t.Errorf("WarningRows = %d, want 4", report.Stats.WarningRows)
	}

	wantWarnings := []string{
		"Row 1: Data for Alabama, GDP, 2023 already exists and will be added again",
		"Row 2: Same state, statistic and year as row 1",
		"Row 3: Value -4 is negative",
		"Row 4: Value 5000000000 is unusually large (over 1000000000)",
	}
	for _, w := range wantWarnings {
		if !containsText(report.Warnings, w) {
			t.Errorf("Warnings = %v, missing %q", report.Warnings, w)
		}
	}
}

func TestPublishRollsBackOnFailure(t *testing.T) {
	for _, method := range []string{"InsertDataPoints", "MarkStagedRowsProcessed", "UpdateImportStatus"} {
		t.Run(method, func(t *testing.T) {
			svc, store := newTestService(t)
			ctx := context.Background()

			res := upload(t, svc, gdpHeader+"Alabama,2023,Economy,GDP,200000\n")
			if _, err := svc.ValidateImport(ctx, res.ImportID); err != nil {
				t.Fatalf("ValidateImport: %v", err)
			}

			store.FailOn = method
			result, err := svc.PublishImport(ctx, res.ImportID, "admin")
			if !errors.Is(err, dbtest.ErrInjected) {
				t.Fatalf("PublishImport error = %v, want injected failure", err)
			}
			if result != nil {
				t.Errorf("result = %+v, want nil", result)
			}

			if len(store.Sessions) != 0 || len(store.Points) != 0 {
				t.Errorf("sessions = %d, points = %d, want none", len(store.Sessions), len(store.Points))
			}
			if got := store.Imports[res.ImportID].Status; got != string(StatusValidated) {
				t.Errorf("status = %q, want validated", got)
			}
			for _, r := range store.RowsOf(res.ImportID) {
				if r.IsProcessed {
					t.Errorf("row %d left processed", r.RowNumber)
				}
			}

			store.FailOn = ""
			if _, err := svc.PublishImport(ctx, res.ImportID, "admin"); err != nil {
				t.Fatalf("retry PublishImport: %v", err)
			}
			if len(store.Points) != 1 {
				t.Errorf("points after retry = %d, want 1", len(store.Points))
			}
		})
	}
}

func TestPublishRequiresUser(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.PublishImport(context.Background(), uuid.New(), "  "); !errors.Is(err, ErrMissingUser) {
		t.Errorf("PublishImport error = %v, want ErrMissingUser", err)
	}
}

func TestPublishUnknownImport(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.PublishImport(context.Background(), uuid.New(), "admin"); !errors.Is(err, ErrImportNotFound) {
		t.Errorf("PublishImport error = %v, want ErrImportNotFound", err)
	}
}

func TestPublishBeforeValidate(t *testing.T) {
	svc, _ := newTestService(t)
	res := upload(t, svc, gdpHeader+"Alabama,2023,Economy,GDP,200000\n")

	_, err := svc.PublishImport(context.Background(), res.ImportID, "admin")
	var se *StateError
	if !errors.As(err, &se) || se.Status != StatusStaged {
		t.Errorf("PublishImport error = %v, want StateError for staged import", err)
	}
}

func TestPublishWithNoPublishableRows(t *testing.T) {
	svc, store := newTestService(t)
	id := uuid.New()
	store.Imports[id] = database.CsvImport{ID: id, Name: "empty", Status: string(StatusValidated)}

	_, err := svc.PublishImport(context.Background(), id, "admin")
	if !errors.Is(err, ErrNoValidData) {
		t.Fatalf("PublishImport error = %v, want ErrNoValidData", err)
	}
	if len(store.Sessions) != 0 {
		t.Errorf("sessions = %d, want 0", len(store.Sessions))
	}
}

func TestValidateRejectsUnstagedImport(t *testing.T) {
	svc, store := newTestService(t)
	id := uuid.New()
	store.Imports[id] = database.CsvImport{ID: id, Status: string(StatusUploaded)}

	_, err := svc.ValidateImport(context.Background(), id)
	var se *StateError
	if !errors.As(err, &se) || se.Op != "validate" {
		t.Errorf("ValidateImport error = %v, want validate StateError", err)
	}
}

func TestValidateIsRepeatable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	res := upload(t, svc, gdpHeader+"Alabama,2023,Economy,GDP,1\nNowhere,2023,Economy,GDP,2\n")

	first, err := svc.ValidateImport(ctx, res.ImportID)
	if err != nil {
		t.Fatalf("first ValidateImport: %v", err)
	}
	second, err := svc.ValidateImport(ctx, res.ImportID)
	if err != nil {
		t.Fatalf("second ValidateImport: %v", err)
	}
	if first.Stats != second.Stats {
		t.Errorf("Stats changed: %+v then %+v", first.Stats, second.Stats)
	}
	if strings.Join(first.Errors, "|") != strings.Join(second.Errors, "|") {
		t.Errorf("Errors changed: %v then %v", first.Errors, second.Errors)
	}
}

func TestUploadRejectsMissingHeaders(t *testing.T) {
	svc, store := newTestService(t)
	_, err := svc.UploadCSV(context.Background(), UploadRequest{
		Filename:   "gdp.csv",
		Content:    []byte("State,Year,Value\nAlabama,2023,1\n"),
		TemplateID: gdpTemplateID.String(),
		UploadedBy: "user-1",
	})
	if !errors.Is(err, ErrInvalidCSVFormat) {
		t.Fatalf("UploadCSV error = %v, want ErrInvalidCSVFormat", err)
	}
	if !strings.Contains(err.Error(), "Category, Measure") {
		t.Errorf("error = %q, want missing headers listed", err)
	}
	if len(store.Imports) != 0 {
		t.Errorf("imports = %d, want none created", len(store.Imports))
	}
}

func TestUploadRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		req  UploadRequest
		want error
	}{
		{"missing user", UploadRequest{Filename: "a.csv", Content: []byte(gdpHeader), TemplateID: gdpTemplateID.String()}, ErrMissingUser},
		{"empty content", UploadRequest{Filename: "a.csv", TemplateID: gdpTemplateID.String(), UploadedBy: "u"}, ErrEmptyFile},
		{"header only", UploadRequest{Filename: "a.csv", Content: []byte(gdpHeader), TemplateID: gdpTemplateID.String(), UploadedBy: "u"}, ErrEmptyFile},
		{"unknown template", UploadRequest{Filename: "a.csv", Content: []byte(gdpHeader + "Alabama,2023,Economy,GDP,1\n"), TemplateID: uuid.NewString(), UploadedBy: "u"}, ErrTemplateNotFound},
		{"malformed template id", UploadRequest{Filename: "a.csv", Content: []byte(gdpHeader), TemplateID: "gdp", UploadedBy: "u"}, ErrTemplateNotFound},
		{"unsupported type", UploadRequest{Filename: "a.pdf", Content: []byte("%PDF-1.4"), TemplateID: gdpTemplateID.String(), UploadedBy: "u"}, ErrUnsupportedFile},
		{"too large", UploadRequest{Filename: "a.csv", Content: make([]byte, 2<<20), TemplateID: gdpTemplateID.String(), UploadedBy: "u"}, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)
			_, err := svc.UploadCSV(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("UploadCSV error = %v, want %v", err, tt.want)
			}
			if len(store.Imports) != 0 {
				t.Errorf("imports = %d, want none", len(store.Imports))
			}
		})
	}
}

func TestUploadDuplicateFileIsFlagged(t *testing.T) {
	svc, store := newTestService(t)
	body := gdpHeader + "Alabama,2023,Economy,GDP,200000\n"

	first := upload(t, svc, body)
	second := upload(t, svc, body)

	if second.DuplicateOf == nil || *second.DuplicateOf != first.ImportID {
		t.Fatalf("DuplicateOf = %v, want %v", second.DuplicateOf, first.ImportID)
	}
	if !strings.Contains(second.Message, first.ImportID.String()) {
		t.Errorf("Message = %q, want earlier import id", second.Message)
	}
	if got := store.Imports[second.ImportID]; got.Status != string(StatusStaged) || !got.DuplicateOf.Valid {
		t.Errorf("duplicate import = %+v, want staged with duplicate_of", got)
	}
}

func TestUploadFuzzyCorrections(t *testing.T) {
	svc, store := newTestService(t)
	res := upload(t, svc, gdpHeader+
		"Calfornia,2022,Economy,GDP,10\n"+
		"NY,2022,Economy,Unemployment Rte,4.1\n"+
		"Klfrnia,2022,Economy,GDP,10\n")

	if res.Stats.ValidRows != 2 || res.Stats.InvalidRows != 1 {
		t.Fatalf("Stats = %+v, want 2 valid and 1 invalid", res.Stats)
	}

	rows := store.RowsOf(res.ImportID)
	if rows[0].StateID.Int32 != 6 || rows[0].StateName.String != "California" {
		t.Errorf("row 1 state = %v/%q, want California", rows[0].StateID, rows[0].StateName.String)
	}
	if !containsText(rows[0].Warnings, `State "Calfornia" matched to "California" (90% similarity)`) {
		t.Errorf("row 1 warnings = %v", rows[0].Warnings)
	}

	if rows[1].StateID.Int32 != 36 {
		t.Errorf("abbreviation NY resolved to %v, want 36", rows[1].StateID)
	}
	if containsText(rows[1].Warnings, "State") {
		t.Errorf("direct abbreviation lookup should not warn: %v", rows[1].Warnings)
	}
	if rows[1].StatisticID.Int32 != 11 || !containsText(rows[1].Warnings, `Statistic "Unemployment Rte" matched to "Unemployment Rate"`) {
		t.Errorf("row 2 statistic = %v, warnings = %v", rows[1].StatisticID, rows[1].Warnings)
	}

	if rows[2].StateID.Valid {
		t.Errorf("row 3 state resolved to %v, want unresolved", rows[2].StateID)
	}
	if !containsText(rows[2].ValidationErrors, `State "Klfrnia" not found in database`) {
		t.Errorf("row 3 errors = %v", rows[2].ValidationErrors)
	}
}

func TestUploadStagesEveryDataRow(t *testing.T) {
	svc, store := newTestService(t)
	res := upload(t, svc, gdpHeader+
		"Alabama,2021,Economy,GDP,1\n"+
		"\n"+
		",,,,\n"+
		"Alaska,twenty,Economy,GDP,2\n"+
		"California,2021,Economy,,3\n"+
		"New York,2021,Economy,GDP,\"1,234.5\"\n")

	if res.Stats.TotalRows != 4 {
		t.Fatalf("TotalRows = %d, want 4", res.Stats.TotalRows)
	}
	rows := store.RowsOf(res.ImportID)
	if len(rows) != 4 {
		t.Fatalf("staged rows = %d, want 4", len(rows))
	}
	for i, r := range rows {
		if int(r.RowNumber) != i+1 {
			t.Errorf("rows[%d].RowNumber = %d, want %d", i, r.RowNumber, i+1)
		}
	}
	if !containsText(rows[1].ValidationErrors, `in column "Year"`) {
		t.Errorf("row 2 errors = %v, want year error", rows[1].ValidationErrors)
	}
	if !containsText(rows[2].ValidationErrors, `required field "Measure" is empty`) {
		t.Errorf("row 3 errors = %v, want required error", rows[2].ValidationErrors)
	}
	if rows[3].Value.Float64 != 1234.5 || rows[3].ValidationStatus != string(RowValid) {
		t.Errorf("row 4 = %+v", rows[3])
	}
}

func TestUploadStagingFailureMarksImportFailed(t *testing.T) {
	svc, store := newTestService(t)
	store.FailOn = "InsertStagedRows"

	_, err := svc.UploadCSV(context.Background(), UploadRequest{
		Filename:   "gdp.csv",
		Content:    []byte(gdpHeader + "Alabama,2023,Economy,GDP,1\n"),
		TemplateID: gdpTemplateID.String(),
		UploadedBy: "user-1",
	})
	if !errors.Is(err, dbtest.ErrInjected) {
		t.Fatalf("UploadCSV error = %v, want injected failure", err)
	}
	if len(store.Imports) != 1 {
		t.Fatalf("imports = %d, want 1", len(store.Imports))
	}
	for _, imp := range store.Imports {
		if imp.Status != string(StatusFailed) || imp.ErrorMessage.String != "staging failed" {
			t.Errorf("import = %+v, want failed with message", imp)
		}
	}
	if len(store.Staging) != 0 {
		t.Errorf("staging rows = %d, want 0", len(store.Staging))
	}
}

func TestUploadRecordsRequestMetadata(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := ContextWithUserAgent(ContextWithClientIP(context.Background(), "203.0.113.9"), "curl/8.0")

	res, err := svc.UploadCSV(ctx, UploadRequest{
		Filename:   "gdp.csv",
		Content:    []byte(gdpHeader + "Alabama,2023,Economy,GDP,1\n"),
		TemplateID: gdpTemplateID.String(),
		UploadedBy: "user-1",
		Metadata:   map[string]string{"source": "bea", MetaClientIP: "override"},
	})
	if err != nil {
		t.Fatalf("UploadCSV: %v", err)
	}

	detail, err := svc.GetImport(context.Background(), res.ImportID)
	if err != nil {
		t.Fatalf("GetImport: %v", err)
	}
	want := map[string]string{"source": "bea", MetaClientIP: "override", MetaUserAgent: "curl/8.0"}
	for k, v := range want {
		if detail.Metadata[k] != v {
			t.Errorf("Metadata[%q] = %q, want %q", k, detail.Metadata[k], v)
		}
	}
}

func TestUploadAppliesTemplateRules(t *testing.T) {
	store := dbtest.New()
	rulesID := uuid.New()
	addTemplate(t, store, rulesID, gdpSchema(), `{
		"value": [{"type": "range", "min": 0, "message": "must not be negative"}],
		"year": [{"type": "range", "min": 2000, "max": 2030, "severity": "warning"}],
		"custom": [{"type": "custom", "expression": "row.stateName != \"Alaska\"", "message": "Alaska is collected separately"}]
	}`)
	svc, err := NewService(store, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	res, err := svc.UploadCSV(context.Background(), UploadRequest{
		Filename: "gdp.csv",
		Content: []byte(gdpHeader +
			"Alabama,2023,Economy,GDP,-5\n" +
			"California,1990,Economy,GDP,5\n" +
			"Alaska,2023,Economy,GDP,5\n"),
		TemplateID: rulesID.String(),
		UploadedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("UploadCSV: %v", err)
	}

	rows := store.RowsOf(res.ImportID)
	if rows[0].ValidationStatus != string(RowInvalid) || !containsText(rows[0].ValidationErrors, "value: must not be negative") {
		t.Errorf("row 1 = %s %v", rows[0].ValidationStatus, rows[0].ValidationErrors)
	}
	if rows[1].ValidationStatus != string(RowValid) || !containsText(rows[1].Warnings, "year 1990 must be between 2000 and 2030") {
		t.Errorf("row 2 = %s %v", rows[1].ValidationStatus, rows[1].Warnings)
	}
	if rows[2].ValidationStatus != string(RowInvalid) || !containsText(rows[2].ValidationErrors, "Alaska is collected separately") {
		t.Errorf("row 3 = %s %v", rows[2].ValidationStatus, rows[2].ValidationErrors)
	}

	// Rule failures persist through validation.
	report, err := svc.ValidateImport(context.Background(), res.ImportID)
	if err != nil {
		t.Fatalf("ValidateImport: %v", err)
	}
	if report.Stats.InvalidRows != 2 {
		t.Errorf("InvalidRows = %d, want 2", report.Stats.InvalidRows)
	}
}

func TestUploadUsesTemplateCategory(t *testing.T) {
	store := dbtest.New()
	id := uuid.New()
	schema := gdpSchema()
	schema.ExpectedHeaders = []string{"State", "Year", "Measure", "Value"}
	schema.Columns = append(schema.Columns[:2], schema.Columns[3:]...)
	addTemplate(t, store, id, schema, "")
	store.Templates[0].CategoryID = pgtype.Int4{Int32: 2, Valid: true}

	svc, err := NewService(store, testConfig(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	res, err := svc.UploadCSV(context.Background(), UploadRequest{
		Filename:   "grad.csv",
		Content:    []byte("State,Year,Measure,Value\nAlabama,2022,Graduation Rate,88.1\n"),
		TemplateID: id.String(),
		UploadedBy: "user-1",
	})
	if err != nil {
		t.Fatalf("UploadCSV: %v", err)
	}
	row := store.RowsOf(res.ImportID)[0]
	if row.CategoryID.Int32 != 2 || row.CategoryName.String != "Education" || row.StatisticID.Int32 != 20 {
		t.Errorf("row = %+v", row)
	}
}

func TestUploadLimiterRejectsWhenBusy(t *testing.T) {
	svc, _ := newTestService(t)
	svc.limiter = NewUploadLimiter(1, 20*time.Millisecond)
	if err := svc.limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer svc.limiter.Release()

	_, err := svc.UploadCSV(context.Background(), UploadRequest{
		Filename:   "gdp.csv",
		Content:    []byte(gdpHeader + "Alabama,2023,Economy,GDP,1\n"),
		TemplateID: gdpTemplateID.String(),
		UploadedBy: "user-1",
	})
	if !errors.Is(err, ErrTooManyUploads) {
		t.Errorf("UploadCSV error = %v, want ErrTooManyUploads", err)
	}
}
