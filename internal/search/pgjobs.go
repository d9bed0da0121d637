package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// PgJobs implements Searcher with case-insensitive substring matching on
// the jobs table.
type PgJobs struct {
	db *sql.DB
}

func NewPgJobs(db *sql.DB) *PgJobs {
	return &PgJobs{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgJobs) Healthy() bool {
	return true
}

func (p *PgJobs) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	categories := q.Categories
	if categories == nil {
		categories = []string{}
	}
	where := `(title ILIKE $1 OR description ILIKE $1 OR location ILIKE $1)
		AND (cardinality($2::text[]) = 0 OR categories && $2::text[])
		AND ($3 = '' OR status = $3)
		AND ($4 = '' OR location ILIKE $5)`
	args := []any{likePattern(q.Text), categories, q.Status, strings.TrimSpace(q.Location), likePattern(q.Location)}

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgjobs count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, title, left(description, 200), location, budget, categories, status
		FROM jobs WHERE %s
		ORDER BY created_at DESC, id
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgjobs query: %w", err)
	}
	defer rows.Close()

	typeMap := pgtype.NewMap()
	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Location, &r.Budget, typeMap.SQLScanner(&r.Categories), &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgjobs scan: %w", err)
		}
		if r.Categories == nil {
			r.Categories = []string{}
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every job for full reindexing.
func (p *PgJobs) LoadAllRecords(ctx context.Context) ([]JobRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, description, location, budget, categories, status, client
		FROM jobs
	`)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	defer rows.Close()

	typeMap := pgtype.NewMap()
	jobs := make([]JobRecord, 0)
	for rows.Next() {
		var j JobRecord
		if err := rows.Scan(&j.ID, &j.Title, &j.Description, &j.Location, &j.Budget, typeMap.SQLScanner(&j.Categories), &j.Status, &j.Client); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func likePattern(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.TrimSpace(value)) + "%"
}
