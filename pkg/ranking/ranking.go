// Package ranking builds the top-N repository views served from the cached
// repository snapshot.
package ranking

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/types"
)

// Criterion selects the field repositories are ordered by. Every criterion
// orders descending: most forks, most recently updated, most open issues,
// most stars.
type Criterion int

const (
	Forks Criterion = iota + 1
	LastUpdated
	OpenIssues
	Stars
)

var criterionNames = map[Criterion]string{
	Forks:       "forks",
	LastUpdated: "last_updated",
	OpenIssues:  "open_issues",
	Stars:       "stars",
}

// AllCriteria returns every supported criterion.
func AllCriteria() []Criterion {
	return []Criterion{Forks, LastUpdated, OpenIssues, Stars}
}

// ParseCriterion maps a path segment such as "open_issues" to a Criterion.
func ParseCriterion(s string) (Criterion, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for c, n := range criterionNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown ranking criterion %q", s)
}

func (c Criterion) String() string {
	if n, ok := criterionNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Criterion(%d)", int(c))
}

// Tuple is one ranked repository in transport form:
// [name, html_url, forks_count, stargazers_count, open_issues_count, updated_at].
// The projection is the same for every criterion.
type Tuple []any

// AsTuple projects a repository into its Tuple. updated_at is formatted as
// RFC 3339 in UTC.
func AsTuple(r types.Repository) Tuple {
	return Tuple{
		r.Name,
		r.HTMLURL,
		r.ForksCount,
		r.StargazersCount,
		r.OpenIssuesCount,
		r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Top returns at most limit repositories ordered by the criterion. The input
// is never modified. Repositories with equal keys keep their input order. A
// limit of zero or less, an empty input or an unknown criterion gives an
// empty result.
func Top(repos []types.Repository, c Criterion, limit int) []types.Repository {
	compare := comparator(c)
	if limit <= 0 || len(repos) == 0 || compare == nil {
		return []types.Repository{}
	}

	sorted := slices.Clone(repos)
	slices.SortStableFunc(sorted, compare)
	if limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted
}

// Rank is Top projected to tuples.
func Rank(repos []types.Repository, c Criterion, limit int) []Tuple {
	top := Top(repos, c, limit)
	tuples := make([]Tuple, 0, len(top))
	for _, r := range top {
		tuples = append(tuples, AsTuple(r))
	}
	return tuples
}

// comparator returns a descending comparison for the criterion, or nil.
func comparator(c Criterion) func(a, b types.Repository) int {
	switch c {
	case Forks:
		return func(a, b types.Repository) int { return cmp.Compare(b.ForksCount, a.ForksCount) }
	case LastUpdated:
		return func(a, b types.Repository) int { return b.UpdatedAt.Compare(a.UpdatedAt) }
	case OpenIssues:
		return func(a, b types.Repository) int { return cmp.Compare(b.OpenIssuesCount, a.OpenIssuesCount) }
	case Stars:
		return func(a, b types.Repository) int { return cmp.Compare(b.StargazersCount, a.StargazersCount) }
	default:
		return nil
	}
}
