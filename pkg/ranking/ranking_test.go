package ranking_test

import (
	"slices"
	"testing"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/ranking"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func names(repos []types.Repository) []string {
	out := make([]string, 0, len(repos))
	for _, r := range repos {
		out = append(out, r.Name)
	}
	return out
}

func TestParseCriterion(t *testing.T) {
	for _, c := range ranking.AllCriteria() {
		parsed, err := ranking.ParseCriterion(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}

	parsed, err := ranking.ParseCriterion(" Open_Issues ")
	require.NoError(t, err)
	assert.Equal(t, ranking.OpenIssues, parsed)

	_, err = ranking.ParseCriterion("watchers")
	assert.Error(t, err)
}

func TestTop(t *testing.T) {
	t.Run("Forks with tie keeps input order", func(t *testing.T) {
		repos := []types.Repository{
			{Name: "a", ForksCount: 5},
			{Name: "b", ForksCount: 9},
			{Name: "c", ForksCount: 1},
			{Name: "d", ForksCount: 9},
		}

		top := ranking.Top(repos, ranking.Forks, 3)

		assert.Equal(t, []string{"b", "d", "a"}, names(top))
		assert.Equal(t, []string{"a", "b", "c", "d"}, names(repos), "input must not be reordered")
	})

	t.Run("Zero limit gives empty result", func(t *testing.T) {
		repos := []types.Repository{{Name: "a", StargazersCount: 3}}
		assert.Empty(t, ranking.Rank(repos, ranking.Stars, 0))
		assert.Empty(t, ranking.Rank(repos, ranking.Stars, -4))
	})

	t.Run("Empty input gives empty result", func(t *testing.T) {
		result := ranking.Rank(nil, ranking.LastUpdated, 10)
		assert.NotNil(t, result)
		assert.Empty(t, result)
	})

	t.Run("Limit above length returns everything", func(t *testing.T) {
		repos := []types.Repository{{Name: "a", OpenIssuesCount: 1}, {Name: "b", OpenIssuesCount: 2}}
		assert.Equal(t, []string{"b", "a"}, names(ranking.Top(repos, ranking.OpenIssues, 50)))
	})

	t.Run("Last updated puts the most recent first", func(t *testing.T) {
		repos := []types.Repository{
			{Name: "old", UpdatedAt: base},
			{Name: "new", UpdatedAt: base.Add(48 * time.Hour)},
			{Name: "mid", UpdatedAt: base.Add(time.Hour)},
		}
		assert.Equal(t, []string{"new", "mid", "old"}, names(ranking.Top(repos, ranking.LastUpdated, 3)))
	})

	t.Run("Unknown criterion gives empty result", func(t *testing.T) {
		repos := []types.Repository{{Name: "a"}}
		assert.Empty(t, ranking.Top(repos, ranking.Criterion(99), 1))
	})
}

func TestRank_Projection(t *testing.T) {
	repo := types.Repository{
		Name:            "zuul",
		FullName:        "Netflix/zuul",
		HTMLURL:         "https://github.com/Netflix/zuul",
		ForksCount:      2300,
		StargazersCount: 13000,
		OpenIssuesCount: 250,
		UpdatedAt:       time.Date(2024, 5, 6, 7, 8, 9, 0, time.FixedZone("CEST", 2*3600)),
	}

	for _, c := range ranking.AllCriteria() {
		t.Run(c.String(), func(t *testing.T) {
			tuples := ranking.Rank([]types.Repository{repo}, c, 1)
			require.Len(t, tuples, 1)
			assert.Equal(t, ranking.Tuple{
				"zuul", "https://github.com/Netflix/zuul", 2300, 13000, 250, "2024-05-06T05:08:09Z",
			}, tuples[0])
		})
	}
}

func repositoryGen() *rapid.Generator[types.Repository] {
	return rapid.Custom(func(t *rapid.T) types.Repository {
		return types.Repository{
			Name:            rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "name"),
			ForksCount:      rapid.IntRange(0, 20).Draw(t, "forks"),
			StargazersCount: rapid.IntRange(0, 20).Draw(t, "stars"),
			OpenIssuesCount: rapid.IntRange(0, 20).Draw(t, "issues"),
			UpdatedAt:       base.Add(time.Duration(rapid.IntRange(0, 20).Draw(t, "hours")) * time.Hour),
		}
	})
}

func key(r types.Repository, c ranking.Criterion) int64 {
	switch c {
	case ranking.Forks:
		return int64(r.ForksCount)
	case ranking.Stars:
		return int64(r.StargazersCount)
	case ranking.OpenIssues:
		return int64(r.OpenIssuesCount)
	default:
		return r.UpdatedAt.Unix()
	}
}

func TestTop_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		repos := rapid.SliceOf(repositoryGen()).Draw(t, "repos")
		c := rapid.SampledFrom(ranking.AllCriteria()).Draw(t, "criterion")
		limit := rapid.IntRange(-3, 30).Draw(t, "limit")
		before := slices.Clone(repos)

		top := ranking.Top(repos, c, limit)

		if !slices.Equal(before, repos) {
			t.Fatalf("input was modified")
		}
		want := max(0, min(limit, len(repos)))
		if len(top) != want {
			t.Fatalf("got %d results, want %d", len(top), want)
		}
		for i := 1; i < len(top); i++ {
			if key(top[i-1], c) < key(top[i], c) {
				t.Fatalf("results not descending at %d", i)
			}
		}
		// Every returned key must be at least as large as any key left out.
		if len(top) > 0 && len(top) < len(repos) {
			cutoff := key(top[len(top)-1], c)
			kept := 0
			for _, r := range repos {
				if key(r, c) > cutoff {
					kept++
				}
			}
			if kept > len(top) {
				t.Fatalf("a larger key was dropped")
			}
		}
		if len(top) == len(repos) && len(repos) > 0 {
			full := ranking.Top(repos, c, len(repos))
			if !slices.Equal(full, top) {
				t.Fatalf("ordering is not deterministic")
			}
		}
	})
}

func TestTop_StableForEqualKeys(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 15).Draw(t, "n")
		repos := make([]types.Repository, n)
		for i := range repos {
			repos[i] = types.Repository{Name: string(rune('a' + i)), StargazersCount: 7}
		}

		top := ranking.Top(repos, ranking.Stars, n)

		if !slices.Equal(names(repos), names(top)) {
			t.Fatalf("equal keys reordered: %v", names(top))
		}
	})
}
