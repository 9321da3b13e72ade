package collector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-readcache/pkg/types"
)

// GitHubAPI is the subset of the upstream client used by the GitHub
// collectors. It is satisfied by *github.Client.
type GitHubAPI interface {
	Overview(ctx context.Context) (json.RawMessage, error)
	Organization(ctx context.Context, org string) (json.RawMessage, error)
	Members(ctx context.Context, org string) (json.RawMessage, error)
	Repositories(ctx context.Context, org string) (json.RawMessage, error)
}

// Set holds one collector per metric type for a single organization.
type Set struct {
	Proxied      []Collector[json.RawMessage]
	Repositories Collector[types.RepositorySnapshot]
}

// NewGitHubCollectors builds the collectors for every metric type served for
// org. Proxied metrics are returned verbatim; the repository metric is also
// decoded for ranking.
func NewGitHubCollectors(api GitHubAPI, org string, options ...Option) (Set, error) {
	if api == nil {
		return Set{}, fmt.Errorf("github api cannot be nil")
	}
	if org == "" {
		return Set{}, fmt.Errorf("organization cannot be empty")
	}

	fetchers := []struct {
		metricType types.MetricType
		fetch      Func[json.RawMessage]
	}{
		{types.Overview, api.Overview},
		{types.Organization, func(ctx context.Context) (json.RawMessage, error) {
			return api.Organization(ctx, org)
		}},
		{types.Members, func(ctx context.Context) (json.RawMessage, error) {
			return api.Members(ctx, org)
		}},
	}

	var set Set
	for _, f := range fetchers {
		c, err := New(f.metricType, validJSON(f.fetch), options...)
		if err != nil {
			return Set{}, err
		}
		set.Proxied = append(set.Proxied, c)
	}

	repos, err := New(types.Repositories, func(ctx context.Context) (types.RepositorySnapshot, error) {
		raw, err := api.Repositories(ctx, org)
		if err != nil {
			return types.RepositorySnapshot{}, err
		}
		return DecodeRepositories(raw)
	}, options...)
	if err != nil {
		return Set{}, err
	}
	set.Repositories = repos
	return set, nil
}

// validJSON rejects upstream payloads that are not well-formed JSON so they
// are never cached as a proxied value.
func validJSON(fetch Func[json.RawMessage]) Func[json.RawMessage] {
	return func(ctx context.Context) (json.RawMessage, error) {
		raw, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("upstream returned invalid JSON (%d bytes)", len(raw))
		}
		return raw, nil
	}
}

// DecodeRepositories decodes an upstream repository list, keeping the raw
// payload alongside the decoded records.
func DecodeRepositories(raw json.RawMessage) (types.RepositorySnapshot, error) {
	var repos []types.Repository
	if err := json.Unmarshal(raw, &repos); err != nil {
		return types.RepositorySnapshot{}, fmt.Errorf("failed to decode repositories: %w", err)
	}
	return types.RepositorySnapshot{Raw: raw, Repositories: repos}, nil
}
