package search

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxJobs = "ogacraft_jobs"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	logger  zerolog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the job index.
// An unreachable server is not an error; the health loop picks it up later.
func NewMeili(url, apiKey string, logger zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		logger: logger.With().Str("component", "meili").Logger(),
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		m.logger.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxJobs,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug().Err(err).Str("index", idxJobs).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxJobs)
	filterable := []interface{}{"categories", "status", "client", "location_key"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Error().Err(err).Str("index", idxJobs).Msg("update filterable attributes")
	}
	searchable := []string{"title", "description", "location"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Error().Err(err).Str("index", idxJobs).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxJobs,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := buildFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

// buildFilters renders category, status and location constraints in
// Meilisearch filter syntax. Entries in the outer slice are ANDed. Location
// matches the whole normalized value, unlike the substring match of the
// Postgres fallback.
func buildFilters(q Query) []string {
	var filters []string
	if len(q.Categories) > 0 {
		quoted := make([]string, 0, len(q.Categories))
		for _, category := range q.Categories {
			quoted = append(quoted, strconv.Quote(category))
		}
		filters = append(filters, "categories IN ["+strings.Join(quoted, ", ")+"]")
	}
	if q.Status != "" {
		filters = append(filters, "status = "+strconv.Quote(q.Status))
	}
	if key := locationKey(q.Location); key != "" {
		filters = append(filters, "location_key = "+strconv.Quote(key))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	return Result{
		ID:         decodeString(hit, "id"),
		Title:      decodeString(hit, "title"),
		Snippet:    firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
		Location:   decodeString(hit, "location"),
		Budget:     decodeString(hit, "budget"),
		Categories: decodeStrings(hit, "categories"),
		Status:     decodeString(hit, "status"),
	}
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeStrings(hit meili.Hit, key string) []string {
	values := []string{}
	raw, ok := hit[key]
	if !ok {
		return values
	}
	_ = json.Unmarshal(raw, &values)
	if values == nil {
		values = []string{}
	}
	return values
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexJob adds or updates a job in the search index.
func (m *Meili) IndexJob(job JobRecord) error {
	_, err := m.client.Index(idxJobs).AddDocuments([]JobRecord{document(job)}, nil)
	return err
}

// DeleteJob removes a job from the search index.
func (m *Meili) DeleteJob(id string) error {
	_, err := m.client.Index(idxJobs).DeleteDocument(id, nil)
	return err
}

// IndexJobs bulk-indexes jobs.
func (m *Meili) IndexJobs(jobs []JobRecord) error {
	if len(jobs) == 0 {
		return nil
	}
	docs := make([]JobRecord, 0, len(jobs))
	for _, job := range jobs {
		docs = append(docs, document(job))
	}
	_, err := m.client.Index(idxJobs).AddDocuments(docs, nil)
	return err
}

func document(job JobRecord) JobRecord {
	job.LocationKey = locationKey(job.Location)
	return job
}
