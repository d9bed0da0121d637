package search

import (
	"context"

	"github.com/rs/zerolog"
)

type reindexSource interface {
	LoadAllRecords(ctx context.Context) ([]JobRecord, error)
}

type jobIndexer interface {
	Searcher
	IndexJob(job JobRecord) error
	IndexJobs(jobs []JobRecord) error
	DeleteJob(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to Postgres.
type Service struct {
	primary  jobIndexer
	fallback Searcher
	source   reindexSource
	logger   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgJobs, logger zerolog.Logger) *Service {
	s := &Service{logger: logger.With().Str("component", "search").Logger()}
	if meili != nil {
		s.primary = meili
	}
	if pg != nil {
		s.fallback = pg
		s.source = pg
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to Postgres.
func (s *Service) Search(q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to postgres")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Error().Err(err).Msg("postgres job search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexJob indexes a job (fire-and-forget to Meilisearch).
func (s *Service) IndexJob(job JobRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexJob(job); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("index job")
		}
	}()
}

// DeleteJob removes a job from the search index (fire-and-forget).
func (s *Service) DeleteJob(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteJob(id); err != nil {
			s.logger.Error().Err(err).Str("job_id", id).Msg("delete job from index")
		}
	}()
}

// ReindexAllFromPG pushes every job in Postgres into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.primary == nil || !s.primary.Healthy() || s.source == nil {
		return
	}
	jobs, err := s.source.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.primary.IndexJobs(jobs); err != nil {
		s.logger.Error().Err(err).Msg("reindex jobs")
		return
	}
	s.logger.Info().Int("jobs", len(jobs)).Msg("reindexed jobs")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
