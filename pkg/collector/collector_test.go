package collector_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-readcache/pkg/collector"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	fetch := func(context.Context) (string, error) { return "", nil }

	_, err := collector.New[string]("", fetch)
	require.Error(t, err)

	_, err = collector.New[string](types.Overview, nil)
	require.Error(t, err)

	_, err = collector.New(types.Overview, fetch, collector.WithTimeout(-time.Second))
	require.Error(t, err)
}

func TestCollect(t *testing.T) {
	ctx := context.Background()

	t.Run("Success stamps type and time", func(t *testing.T) {
		// Arrange
		clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
		var calls atomic.Int32
		c, err := collector.New(types.Members, func(context.Context) (string, error) {
			calls.Add(1)
			return "payload", nil
		}, collector.WithClock(clock))
		require.NoError(t, err)

		// Act
		metric, err := c.Collect(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, types.Members, c.Type())
		assert.Equal(t, types.Members, metric.Type)
		assert.Equal(t, "payload", metric.Value)
		assert.Equal(t, clock.Now(), metric.CollectedAt)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("Upstream failure is a CollectionError", func(t *testing.T) {
		// Arrange
		upstreamErr := errors.New("502 bad gateway")
		c, err := collector.New(types.Overview, func(context.Context) (string, error) {
			return "", upstreamErr
		})
		require.NoError(t, err)

		// Act
		_, err = c.Collect(ctx)

		// Assert
		var collErr *collector.CollectionError
		require.ErrorAs(t, err, &collErr)
		assert.Equal(t, types.Overview, collErr.Type)
		assert.ErrorIs(t, err, upstreamErr)
		assert.False(t, collErr.IsTimeout())
	})

	t.Run("Timeout bounds the fetch", func(t *testing.T) {
		// Arrange
		c, err := collector.New(types.Organization, func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}, collector.WithTimeout(20*time.Millisecond))
		require.NoError(t, err)

		// Act
		start := time.Now()
		_, err = c.Collect(ctx)

		// Assert
		var collErr *collector.CollectionError
		require.ErrorAs(t, err, &collErr)
		assert.True(t, collErr.IsTimeout())
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("Fetch ignoring its context is still reported as timeout", func(t *testing.T) {
		c, err := collector.New(types.Organization, func(ctx context.Context) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "", errors.New("connection reset")
		}, collector.WithTimeout(5*time.Millisecond))
		require.NoError(t, err)

		_, err = c.Collect(ctx)

		var collErr *collector.CollectionError
		require.ErrorAs(t, err, &collErr)
		assert.True(t, collErr.IsTimeout())
	})
}

type fakeGitHub struct {
	overview json.RawMessage
	repos    json.RawMessage
	reposErr error
	orgs     []string
}

func (f *fakeGitHub) Overview(context.Context) (json.RawMessage, error) {
	if f.overview != nil {
		return f.overview, nil
	}
	return json.RawMessage(`{"current_user_url":"https://api.github.com/user"}`), nil
}

func (f *fakeGitHub) Organization(_ context.Context, org string) (json.RawMessage, error) {
	f.orgs = append(f.orgs, org)
	return json.RawMessage(`{"login":"` + org + `"}`), nil
}

func (f *fakeGitHub) Members(_ context.Context, org string) (json.RawMessage, error) {
	f.orgs = append(f.orgs, org)
	return json.RawMessage(`[{"login":"octocat"}]`), nil
}

func (f *fakeGitHub) Repositories(_ context.Context, org string) (json.RawMessage, error) {
	f.orgs = append(f.orgs, org)
	return f.repos, f.reposErr
}

func TestNewGitHubCollectors(t *testing.T) {
	ctx := context.Background()

	t.Run("Builds one collector per metric type", func(t *testing.T) {
		api := &fakeGitHub{repos: json.RawMessage(`[{"name":"zuul","forks_count":3,"stargazers_count":10,"updated_at":"2024-01-02T03:04:05Z"}]`)}

		set, err := collector.NewGitHubCollectors(api, "Netflix")
		require.NoError(t, err)

		var proxiedTypes []types.MetricType
		for _, c := range set.Proxied {
			proxiedTypes = append(proxiedTypes, c.Type())
			_, err := c.Collect(ctx)
			require.NoError(t, err)
		}
		assert.Equal(t, []types.MetricType{types.Overview, types.Organization, types.Members}, proxiedTypes)

		metric, err := set.Repositories.Collect(ctx)
		require.NoError(t, err)
		assert.Equal(t, types.Repositories, metric.Type)
		require.Len(t, metric.Value.Repositories, 1)
		assert.Equal(t, "zuul", metric.Value.Repositories[0].Name)
		assert.Equal(t, 3, metric.Value.Repositories[0].ForksCount)
		assert.JSONEq(t, string(api.repos), string(metric.Value.Raw))
		assert.Equal(t, []string{"Netflix", "Netflix", "Netflix"}, api.orgs)
	})

	t.Run("Undecodable repositories payload fails collection", func(t *testing.T) {
		api := &fakeGitHub{repos: json.RawMessage(`{"message":"not a list"}`)}

		set, err := collector.NewGitHubCollectors(api, "Netflix")
		require.NoError(t, err)

		_, err = set.Repositories.Collect(ctx)
		var collErr *collector.CollectionError
		require.ErrorAs(t, err, &collErr)
		assert.Equal(t, types.Repositories, collErr.Type)
	})

	t.Run("Malformed proxied payload fails collection", func(t *testing.T) {
		for _, payload := range []string{`<html>oops`, `{"a":`} {
			api := &fakeGitHub{overview: json.RawMessage(payload)}
			set, err := collector.NewGitHubCollectors(api, "Netflix")
			require.NoError(t, err)

			_, err = set.Proxied[0].Collect(ctx)

			var collErr *collector.CollectionError
			require.ErrorAs(t, err, &collErr, "payload %q", payload)
			assert.Equal(t, types.Overview, collErr.Type)
		}
	})

	t.Run("Requires api and organization", func(t *testing.T) {
		_, err := collector.NewGitHubCollectors(nil, "Netflix")
		require.Error(t, err)
		_, err = collector.NewGitHubCollectors(&fakeGitHub{}, "")
		require.Error(t, err)
	})
}
