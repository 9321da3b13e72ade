// Package history records every repository snapshot as rows in BigQuery, so
// rankings can be compared over time.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/ranking"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
)

// RepositoryStatsRow is one repository in one snapshot.
type RepositoryStatsRow struct {
	CollectedAt     time.Time `bigquery:"collected_at"`
	StarRank        int       `bigquery:"star_rank"`
	Name            string    `bigquery:"name"`
	FullName        string    `bigquery:"full_name"`
	HTMLURL         string    `bigquery:"html_url"`
	ForksCount      int       `bigquery:"forks_count"`
	StargazersCount int       `bigquery:"stargazers_count"`
	OpenIssuesCount int       `bigquery:"open_issues_count"`
	UpdatedAt       time.Time `bigquery:"updated_at"`
}

// RepositoryHistorySink inserts each repository snapshot it receives.
type RepositoryHistorySink struct {
	inserter DataBatchInserter[RepositoryStatsRow]
	topN     int
	logger   zerolog.Logger
}

var _ cache.SnapshotSink[types.RepositorySnapshot] = (*RepositoryHistorySink)(nil)

// NewRepositoryHistorySink creates a sink. topN limits each snapshot to its
// most starred repositories; zero means no limit.
func NewRepositoryHistorySink(inserter DataBatchInserter[RepositoryStatsRow], topN int, logger zerolog.Logger) (*RepositoryHistorySink, error) {
	if inserter == nil {
		return nil, errors.New("inserter cannot be nil")
	}
	if topN < 0 {
		return nil, fmt.Errorf("top n cannot be negative, got %d", topN)
	}
	return &RepositoryHistorySink{
		inserter: inserter,
		topN:     topN,
		logger:   logger.With().Str("component", "RepositoryHistorySink").Logger(),
	}, nil
}

// Rows converts a snapshot into rows ordered by stars.
func (s *RepositoryHistorySink) Rows(metric types.Metric[types.RepositorySnapshot]) []*RepositoryStatsRow {
	repos := metric.Value.Repositories
	limit := len(repos)
	if s.topN > 0 {
		limit = min(s.topN, limit)
	}
	top := ranking.Top(repos, ranking.Stars, limit)

	rows := make([]*RepositoryStatsRow, 0, len(top))
	for i, r := range top {
		rows = append(rows, &RepositoryStatsRow{
			CollectedAt:     metric.CollectedAt.UTC(),
			StarRank:        i + 1,
			Name:            r.Name,
			FullName:        r.FullName,
			HTMLURL:         r.HTMLURL,
			ForksCount:      r.ForksCount,
			StargazersCount: r.StargazersCount,
			OpenIssuesCount: r.OpenIssuesCount,
			UpdatedAt:       r.UpdatedAt.UTC(),
		})
	}
	return rows
}

// Store inserts the snapshot's rows.
func (s *RepositoryHistorySink) Store(ctx context.Context, metric types.Metric[types.RepositorySnapshot]) error {
	rows := s.Rows(metric)
	if len(rows) == 0 {
		return nil
	}
	if err := s.inserter.InsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("recording repository history: %w", err)
	}
	s.logger.Info().Int("rows", len(rows)).Time("collected_at", metric.CollectedAt).Msg("Recorded repository snapshot.")
	return nil
}

// Close closes the inserter.
func (s *RepositoryHistorySink) Close() error {
	return s.inserter.Close()
}
