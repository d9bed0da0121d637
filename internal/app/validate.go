package app

import (
	"net/http"
	"strconv"
	"strings"

	"ogacraft/api/internal/store"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Limit  int
}

func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

// Pages is the number of pages needed for total items.
func (p Page) Pages(total int) int {
	if p.Limit <= 0 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}

// pageFromQuery reads page and limit, falling back to page 1 and
// defaultLimit for missing or invalid values.
func pageFromQuery(r *http.Request, defaultLimit int) Page {
	page := Page{Number: 1, Limit: defaultLimit}
	if value, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && value > 0 {
		page.Number = value
	}
	if value, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && value > 0 {
		page.Limit = min(value, maxPageLimit)
	}
	return page
}

// parseCategories splits a comma separated list and sorts the entries into
// known and unknown categories.
func parseCategories(raw string) (valid, invalid []string) {
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if store.IsCategory(part) {
			valid = append(valid, part)
		} else {
			invalid = append(invalid, part)
		}
	}
	return valid, invalid
}

func validateCategories(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, validationError("Missing categories in required fields", nil)
	}
	valid, invalid := parseCategories(raw)
	if len(invalid) > 0 {
		return nil, validationError("Invalid categories provided", invalid)
	}
	return valid, nil
}

// JobListFilter holds the raw job filters of a listing or search request.
type JobListFilter struct {
	Location   string
	Categories string
	Status     string
}

func (f JobListFilter) parse() ([]string, store.JobStatus, error) {
	categories, _ := parseCategories(f.Categories)
	status := store.JobStatus(strings.ToLower(strings.TrimSpace(f.Status)))
	switch status {
	case "", store.JobOpen, store.JobOngoing, store.JobCompleted:
		return categories, status, nil
	}
	return nil, "", validationError("Invalid job status", f.Status)
}

func parseNonNegative(value string) (int, error) {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if parsed < 0 {
		return 0, strconv.ErrRange
	}
	return parsed, nil
}
