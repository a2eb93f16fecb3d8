package database

import (
	"context"

	"github.com/jackc/pgx/v5"
)

const listActiveStates = `
SELECT id, name, abbreviation
FROM states
WHERE is_active
ORDER BY id
`

func (q *Queries) ListActiveStates(ctx context.Context) ([]State, error) {
	rows, err := q.db.Query(ctx, listActiveStates)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (State, error) {
		var s State
		err := row.Scan(&s.ID, &s.Name, &s.Abbreviation)
		return s, err
	})
}

const listActiveCategories = `
SELECT id, name
FROM categories
WHERE is_active
ORDER BY id
`

func (q *Queries) ListActiveCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.Query(ctx, listActiveCategories)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Category, error) {
		var c Category
		err := row.Scan(&c.ID, &c.Name)
		return c, err
	})
}

const listActiveStatistics = `
SELECT id, name, category_id, data_source_id
FROM statistics
WHERE is_active
ORDER BY id
`

func (q *Queries) ListActiveStatistics(ctx context.Context) ([]Statistic, error) {
	rows, err := q.db.Query(ctx, listActiveStatistics)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Statistic, error) {
		var s Statistic
		err := row.Scan(&s.ID, &s.Name, &s.CategoryID, &s.DataSourceID)
		return s, err
	})
}
