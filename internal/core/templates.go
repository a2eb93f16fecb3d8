package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/results-america/internal/database"
)

// Template sources.
const (
	SourceDatabase = "database"
	SourceFile     = "file"
)

// TemplateRegistry resolves import templates. Active templates in the
// database win; templates from an optional YAML file fill in ids the
// database does not have.
type TemplateRegistry struct {
	q    database.Querier
	file []ImportTemplate
}

// NewTemplateRegistry builds a registry over q plus read-only file templates.
func NewTemplateRegistry(q database.Querier, fileTemplates []ImportTemplate) *TemplateRegistry {
	file := make([]ImportTemplate, len(fileTemplates))
	copy(file, fileTemplates)
	for i := range file {
		file[i].Source = SourceFile
	}
	return &TemplateRegistry{q: q, file: file}
}

type templateFile struct {
	Templates []ImportTemplate `yaml:"templates"`
}

// LoadTemplateFile reads templates from a YAML document of the form
//
//	templates:
//	  - id: 7f0c...
//	    name: State GDP
//	    schema: {...}
//	    validationRules: {...}
func LoadTemplateFile(path string) ([]ImportTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}

	var tf templateFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTemplate, path, err)
	}

	seen := make(map[uuid.UUID]bool, len(tf.Templates))
	for i, t := range tf.Templates {
		if t.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: %s: template %d has no id", ErrInvalidTemplate, path, i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: %s: duplicate template id %s", ErrInvalidTemplate, path, t.ID)
		}
		seen[t.ID] = true
		if err := checkTemplate(t); err != nil {
			return nil, fmt.Errorf("%s: template %q: %w", path, t.Name, err)
		}
	}
	return tf.Templates, nil
}

// List returns every usable template sorted by name. Database templates
// that fail to decode are logged and skipped.
func (r *TemplateRegistry) List(ctx context.Context) ([]ImportTemplate, error) {
	rows, err := r.q.ListActiveTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	out := make([]ImportTemplate, 0, len(rows)+len(r.file))
	fromDB := make(map[uuid.UUID]bool, len(rows))
	for _, row := range rows {
		fromDB[row.ID] = true
		t, err := decodeTemplate(row)
		if err != nil {
			slog.Warn("skipping invalid template", "template_id", row.ID, "error", err)
			continue
		}
		out = append(out, t)
	}
	for _, t := range r.file {
		if !fromDB[t.ID] {
			out = append(out, t)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Get returns the template with the given id. Unknown or malformed ids give
// ErrTemplateNotFound; a stored template that does not decode gives
// ErrInvalidTemplate.
func (r *TemplateRegistry) Get(ctx context.Context, id string) (*ImportTemplate, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, id)
	}

	row, err := r.q.GetActiveTemplate(ctx, uid)
	switch {
	case err == nil:
		t, err := decodeTemplate(row)
		if err != nil {
			return nil, err
		}
		return &t, nil
	case !database.IsNotFound(err):
		return nil, fmt.Errorf("get template: %w", err)
	}

	for _, t := range r.file {
		if t.ID == uid {
			t := t
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, uid)
}

func decodeTemplate(row database.CsvImportTemplate) (ImportTemplate, error) {
	t := ImportTemplate{
		ID:           row.ID,
		Name:         row.Name,
		Description:  row.Description.String,
		CategoryID:   int4Ptr(row.CategoryID),
		DataSourceID: int4Ptr(row.DataSourceID),
		SampleData:   row.SampleData.String,
		Source:       SourceDatabase,
	}

	if err := json.Unmarshal(row.Schema, &t.Schema); err != nil {
		return ImportTemplate{}, fmt.Errorf("%w: %s schema: %v", ErrInvalidTemplate, row.Name, err)
	}
	if len(row.ValidationRules) > 0 {
		if err := json.Unmarshal(row.ValidationRules, &t.ValidationRules); err != nil {
			return ImportTemplate{}, fmt.Errorf("%w: %s rules: %v", ErrInvalidTemplate, row.Name, err)
		}
	}
	if err := checkTemplate(t); err != nil {
		return ImportTemplate{}, fmt.Errorf("%s: %w", row.Name, err)
	}
	return t, nil
}

// checkTemplate rejects schemas the mapper could not use.
func checkTemplate(t ImportTemplate) error {
	if len(t.Schema.Columns) == 0 {
		return fmt.Errorf("%w: schema has no columns", ErrInvalidTemplate)
	}
	for i, col := range t.Schema.Columns {
		if col.ColumnName == "" {
			return fmt.Errorf("%w: column %d has no name", ErrInvalidTemplate, i)
		}
		switch col.Type {
		case "", TypeString, TypeNumber, TypeDate, TypeBoolean:
		default:
			return fmt.Errorf("%w: column %q has unknown type %q", ErrInvalidTemplate, col.ColumnName, col.Type)
		}
	}
	return nil
}
