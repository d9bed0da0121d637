// Package search indexes jobs for free-text lookup. Meilisearch is used
// when reachable; Postgres substring matching serves as the fallback.
package search

import "strings"

// Result is a single job hit returned to the caller.
type Result struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	Location   string   `json:"location"`
	Budget     string   `json:"budget"`
	Categories []string `json:"categories"`
	Status     string   `json:"status"`
}

// Query describes a job search request.
type Query struct {
	Text       string
	Location   string
	Categories []string
	Status     string
	Limit      int
	Offset     int
}

// Response is the envelope returned by job search.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a job search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// JobRecord is the data we index for a job.
type JobRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	LocationKey string   `json:"location_key"`
	Budget      string   `json:"budget"`
	Categories  []string `json:"categories"`
	Status      string   `json:"status"`
	Client      string   `json:"client"`
}

// locationKey normalizes a location for exact, case-insensitive filtering.
func locationKey(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}
