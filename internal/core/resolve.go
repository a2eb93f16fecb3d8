package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/results-america/internal/database"
	"github.com/JonMunkholm/results-america/internal/fuzzy"
)

// Thresholds are the minimum fuzzy scores at which a match is accepted.
type Thresholds struct {
	State  float64
	Entity float64
}

// DefaultThresholds: 0.8 for states, 0.7 for categories and statistics.
var DefaultThresholds = Thresholds{State: 0.8, Entity: 0.7}

// resolution is the outcome of matching one name against reference data.
type resolution struct {
	ID   *int32
	Name string // canonical name when matched, otherwise the input
	// Score is 1 for direct lookups and the similarity for fuzzy ones.
	Score float64
	Fuzzy bool
}

// resolver maps record names onto active reference entities. It is loaded
// once per upload and discarded afterwards.
type resolver struct {
	thresholds Thresholds

	stateByKey map[string]database.State
	stateIndex *fuzzy.Index
	states     []database.State

	categoryIndex *fuzzy.Index
	categories    []database.Category

	statisticIndex *fuzzy.Index
	statistics     []database.Statistic
	// statisticsByCategory holds per-category indexes for preferring a
	// statistic in the record's own category.
	statisticsByCategory map[int32]*categoryStats
}

type categoryStats struct {
	index *fuzzy.Index
	stats []database.Statistic
}

func loadResolver(ctx context.Context, q database.Querier, th Thresholds) (*resolver, error) {
	states, err := q.ListActiveStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	categories, err := q.ListActiveCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}
	statistics, err := q.ListActiveStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}
	return newResolver(states, categories, statistics, th), nil
}

func newResolver(states []database.State, categories []database.Category, statistics []database.Statistic, th Thresholds) *resolver {
	// Candidate order decides fuzzy ties, so always sort by id.
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	sort.Slice(categories, func(i, j int) bool { return categories[i].ID < categories[j].ID })
	sort.Slice(statistics, func(i, j int) bool { return statistics[i].ID < statistics[j].ID })

	r := &resolver{
		thresholds:           th,
		stateByKey:           make(map[string]database.State, len(states)*3),
		states:               states,
		categories:           categories,
		statistics:           statistics,
		statisticsByCategory: make(map[int32]*categoryStats),
	}

	stateNames := make([]string, len(states))
	for i, s := range states {
		stateNames[i] = s.Name
		for _, key := range stateKeys(s) {
			if _, taken := r.stateByKey[key]; !taken {
				r.stateByKey[key] = s
			}
		}
	}
	r.stateIndex = fuzzy.NewIndex(stateNames)

	categoryNames := make([]string, len(categories))
	for i, c := range categories {
		categoryNames[i] = c.Name
	}
	r.categoryIndex = fuzzy.NewIndex(categoryNames)

	statNames := make([]string, len(statistics))
	grouped := make(map[int32][]database.Statistic)
	for i, s := range statistics {
		statNames[i] = s.Name
		if s.CategoryID.Valid {
			grouped[s.CategoryID.Int32] = append(grouped[s.CategoryID.Int32], s)
		}
	}
	r.statisticIndex = fuzzy.NewIndex(statNames)
	for catID, stats := range grouped {
		names := make([]string, len(stats))
		for i, s := range stats {
			names[i] = s.Name
		}
		r.statisticsByCategory[catID] = &categoryStats{index: fuzzy.NewIndex(names), stats: stats}
	}
	return r
}

func stateKeys(s database.State) []string {
	keys := []string{strings.ToLower(s.Name)}
	if s.Abbreviation != "" {
		keys = append(keys, strings.ToLower(s.Abbreviation))
	}
	if noSpace := strings.ReplaceAll(strings.ToLower(s.Name), " ", ""); noSpace != keys[0] {
		keys = append(keys, noSpace)
	}
	return keys
}

// State tries a direct lookup on name, abbreviation and name without spaces
// before falling back to fuzzy matching.
func (r *resolver) State(name string) resolution {
	name = strings.TrimSpace(name)
	if name == "" {
		return resolution{}
	}
	key := strings.ToLower(name)
	if s, ok := r.stateByKey[key]; ok {
		return resolution{ID: ptrOf(s.ID), Name: s.Name, Score: 1}
	}
	if s, ok := r.stateByKey[strings.ReplaceAll(key, " ", "")]; ok {
		return resolution{ID: ptrOf(s.ID), Name: s.Name, Score: 1}
	}

	m, ok := r.stateIndex.Accept(name, r.thresholds.State)
	if !ok {
		return resolution{Name: name}
	}
	for _, s := range r.states {
		if s.Name == m.Value {
			return resolution{ID: ptrOf(s.ID), Name: s.Name, Score: m.Score, Fuzzy: true}
		}
	}
	return resolution{Name: name}
}

// Category is fuzzy only.
func (r *resolver) Category(name string) resolution {
	name = strings.TrimSpace(name)
	if name == "" {
		return resolution{}
	}
	m, ok := r.categoryIndex.Accept(name, r.thresholds.Entity)
	if !ok {
		return resolution{Name: name}
	}
	for _, c := range r.categories {
		if c.Name == m.Value {
			return resolution{ID: ptrOf(c.ID), Name: c.Name, Score: m.Score, Fuzzy: m.Score < 1}
		}
	}
	return resolution{Name: name}
}

// Statistic is fuzzy only. When categoryID is set, statistics in that
// category are tried first so same-named measures in other categories do
// not win.
func (r *resolver) Statistic(name string, categoryID *int32) resolution {
	name = strings.TrimSpace(name)
	if name == "" {
		return resolution{}
	}
	if categoryID != nil {
		if cs, ok := r.statisticsByCategory[*categoryID]; ok {
			if m, ok := cs.index.Accept(name, r.thresholds.Entity); ok {
				for _, s := range cs.stats {
					if s.Name == m.Value {
						return resolution{ID: ptrOf(s.ID), Name: s.Name, Score: m.Score, Fuzzy: m.Score < 1}
					}
				}
			}
		}
	}

	m, ok := r.statisticIndex.Accept(name, r.thresholds.Entity)
	if !ok {
		return resolution{Name: name}
	}
	for _, s := range r.statistics {
		if s.Name == m.Value {
			return resolution{ID: ptrOf(s.ID), Name: s.Name, Score: m.Score, Fuzzy: m.Score < 1}
		}
	}
	return resolution{Name: name}
}

// CategoryName returns the name of a category id, used when the template
// fixes the category instead of the file.
func (r *resolver) CategoryName(id int32) string {
	for _, c := range r.categories {
		if c.ID == id {
			return c.Name
		}
	}
	return ""
}

// correctionWarning describes an accepted fuzzy correction.
func correctionWarning(kind, input string, res resolution) string {
	return fmt.Sprintf("%s %q matched to %q (%.0f%% similarity)", kind, input, res.Name, res.Score*100)
}

// entityErrors are the row errors derived from resolved columns alone. The
// staging store and the validator share them so both agree on what makes a
// row invalid.
func entityErrors(row database.CsvImportStaging) []string {
	var errs []string
	if row.StateName.Valid && !row.StateID.Valid {
		errs = append(errs, fmt.Sprintf("State %q not found in database", row.StateName.String))
	}
	if row.StatisticName.Valid && !row.StatisticID.Valid {
		errs = append(errs, fmt.Sprintf("Statistic %q not found in database", row.StatisticName.String))
	}
	if !row.Year.Valid {
		errs = append(errs, "Year is missing")
	}
	if !row.Value.Valid {
		errs = append(errs, "Value is missing")
	}
	return errs
}
