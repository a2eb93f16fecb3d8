package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/results-america/internal/config"
	"github.com/JonMunkholm/results-america/internal/core"
	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/database/dbtest"
)

const templateID = "6f1f0c1e-8d7a-4b8e-9a53-2f6c1d0e9b11"

const gdpSchemaJSON = `{
	"expectedHeaders": ["State", "Year", "Measure", "Value"],
	"columns": [
		{"columnName": "State", "type": "string", "required": true, "mapping": "stateName"},
		{"columnName": "Year", "type": "number", "required": true, "mapping": "year"},
		{"columnName": "Measure", "type": "string", "required": true, "mapping": "statisticName"},
		{"columnName": "Value", "type": "number", "required": true, "mapping": "value"}
	]
}`

var importIDPattern = regexp.MustCompile(`import id: ([0-9a-f-]{36})`)

func newTestOpener(t *testing.T) (ServiceOpener, *dbtest.Store) {
	t.Helper()
	store := dbtest.New()
	store.Templates = append(store.Templates, database.CsvImportTemplate{
		ID:       uuid.MustParse(templateID),
		Name:     "State GDP",
		Schema:   []byte(gdpSchemaJSON),
		IsActive: true,
	})

	cfg := &config.Config{}
	cfg.Upload.MaxFileSize = 1 << 20
	cfg.Upload.MaxConcurrent = 1
	cfg.Upload.MaxWaitTime = time.Second
	cfg.Upload.Timeout = 10 * time.Second
	cfg.Import.StateMatchThreshold = 0.8
	cfg.Import.EntityMatchThreshold = 0.7
	cfg.Import.MaxValue = 1e9

	svc, err := core.NewService(store, cfg, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return func(ctx context.Context) (*core.Service, func(), error) {
		return svc, func() {}, nil
	}, store
}

func run(t *testing.T, open ServiceOpener, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--no-color"}, args...))
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestUploadValidatePublish(t *testing.T) {
	open, store := newTestOpener(t)
	file := writeFile(t, "gdp.csv", "State,Year,Measure,Value\nAlabama,2023,GDP,200000\nAlaska,2023,GDP,50000\n")

	out, err := run(t, open, "upload", file, "--template", templateID, "--user", "alice", "--meta", "source=BEA")
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	m := importIDPattern.FindStringSubmatch(out)
	if m == nil {
		t.Fatalf("upload output has no import id:\n%s", out)
	}
	id := m[1]
	if !strings.Contains(out, "2 total, 2 valid, 0 invalid") {
		t.Errorf("upload output = %q", out)
	}

	out, err = run(t, open, "validate", id)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "status: validated") || !strings.Contains(out, "ready to publish") {
		t.Errorf("validate output = %q", out)
	}

	out, err = run(t, open, "publish", id, "--user", "alice")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !strings.Contains(out, "Published 2 data points") {
		t.Errorf("publish output = %q", out)
	}
	if len(store.Points) != 2 {
		t.Errorf("data points = %d, want 2", len(store.Points))
	}

	if _, err := run(t, open, "publish", id, "--user", "alice"); !errors.Is(err, core.ErrInvalidState) {
		t.Errorf("second publish error = %v, want ErrInvalidState", err)
	}

	out, err = run(t, open, "show", id)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"gdp.csv", "published", "source = BEA", "2 processed"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestListAndTemplates(t *testing.T) {
	open, _ := newTestOpener(t)
	file := writeFile(t, "gdp.csv", "State,Year,Measure,Value\nAlabama,2023,GDP,1\n")
	if _, err := run(t, open, "upload", file, "-t", templateID, "-u", "bob"); err != nil {
		t.Fatalf("upload: %v", err)
	}

	out, err := run(t, open, "list", "--uploaded-by", "bob")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "gdp.csv") || !strings.Contains(out, "staged") || !strings.Contains(out, "1 of 1 imports") {
		t.Errorf("list output = %q", out)
	}

	if _, err := run(t, open, "list", "--status", "archived"); err == nil {
		t.Error("list with unknown status succeeded")
	}

	out, err = run(t, open, "templates")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	if !strings.Contains(out, "State GDP") || !strings.Contains(out, "State, Year, Measure, Value") {
		t.Errorf("templates output = %q", out)
	}
}

func TestShowInvalidRowsAndExport(t *testing.T) {
	open, _ := newTestOpener(t)
	file := writeFile(t, "bad.csv", "State,Year,Measure,Value\nAtlantis,2023,GDP,1\nAlabama,2023,GDP,2\n")
	out, err := run(t, open, "upload", file, "-t", templateID, "-u", "bob")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	id := importIDPattern.FindStringSubmatch(out)[1]

	out, err = run(t, open, "show", id, "--rows", "invalid")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "Atlantis") || strings.Contains(out, "Alabama") {
		t.Errorf("invalid rows output = %q", out)
	}

	for _, name := range []string{"errors.csv", "errors.xlsx"} {
		path := filepath.Join(t.TempDir(), name)
		if _, err := run(t, open, "show", id, "--export", path); err != nil {
			t.Fatalf("export %s: %v", name, err)
		}
		if info, err := os.Stat(path); err != nil || info.Size() == 0 {
			t.Errorf("export %s: stat = %v, %v", name, info, err)
		}
	}

	path := filepath.Join(t.TempDir(), "errors.json")
	if _, err := run(t, open, "show", id, "--export", path); err == nil {
		t.Error("export to .json succeeded")
	}
}

func TestCommandErrors(t *testing.T) {
	open, _ := newTestOpener(t)
	file := writeFile(t, "gdp.csv", "State,Year,Measure,Value\nAlabama,2023,GDP,1\n")

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{"bad id", []string{"validate", "nope"}, nil},
		{"unknown import", []string{"validate", uuid.NewString()}, core.ErrImportNotFound},
		{"missing user flag", []string{"upload", file, "-t", templateID}, nil},
		{"unknown template", []string{"upload", file, "-t", uuid.NewString(), "-u", "bob"}, core.ErrTemplateNotFound},
		{"missing file", []string{"upload", filepath.Join(t.TempDir(), "none.csv"), "-t", templateID, "-u", "bob"}, os.ErrNotExist},
		{"publish unvalidated", []string{"publish", uuid.NewString(), "-u", "bob"}, core.ErrImportNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, open, tt.args...)
			if err == nil {
				t.Fatal("command succeeded")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenerError(t *testing.T) {
	boom := errors.New("connection refused")
	open := func(ctx context.Context) (*core.Service, func(), error) { return nil, nil, boom }
	if _, err := run(t, open, "templates"); !errors.Is(err, boom) {
		t.Errorf("error = %v, want opener error", err)
	}
}
