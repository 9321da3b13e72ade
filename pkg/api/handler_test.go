package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/illmade-knight/go-readcache/pkg/api"
	"github.com/illmade-knight/go-readcache/pkg/apierror"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/ranking"
	"github.com/illmade-knight/go-readcache/pkg/registry"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	payloads  map[types.MetricType]json.RawMessage
	err       error
	lastLimit int
	lastCrit  ranking.Criterion
}

func (f *fakeReader) Lookup(t types.MetricType) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	raw, ok := f.payloads[t]
	if !ok {
		return nil, fmt.Errorf("%s: %w", t, registry.ErrUnknownMetric)
	}
	return raw, nil
}

func (f *fakeReader) TopRepositories(c ranking.Criterion, limit int) ([]ranking.Tuple, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastCrit, f.lastLimit = c, limit
	if limit <= 0 {
		return []ranking.Tuple{}, nil
	}
	return []ranking.Tuple{{"zuul", "https://github.com/Netflix/zuul", 9, 100, 2, "2024-01-01T00:00:00Z"}}, nil
}

func (f *fakeReader) Status() []cache.Stats {
	return []cache.Stats{{Type: types.Overview, Initialized: true, Refreshed: 3}}
}

type fakeUpstream struct {
	paths []string
}

func (f *fakeUpstream) Get(_ context.Context, path string) (json.RawMessage, error) {
	f.paths = append(f.paths, path)
	if path == "/missing" {
		return nil, apierror.New(errors.New("Not Found"), http.StatusNotFound)
	}
	return json.RawMessage(`{"proxied":true}`), nil
}

func newReader() *fakeReader {
	return &fakeReader{payloads: map[types.MetricType]json.RawMessage{
		types.Overview:     json.RawMessage(`{"current_user_url":"x"}`),
		types.Organization: json.RawMessage(`{"login":"Netflix"}`),
		types.Members:      json.RawMessage(`[{"login":"octocat"}]`),
		types.Repositories: json.RawMessage(`[{"name":"zuul"}]`),
	}}
}

func serve(t *testing.T, h *api.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apierror.Message {
	t.Helper()
	var msg apierror.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	return msg
}

func TestHandler_Metrics(t *testing.T) {
	h, err := api.NewHandler(newReader(), "Netflix", nil, zerolog.Nop())
	require.NoError(t, err)

	testCases := []struct {
		path string
		want string
	}{
		{"/", `{"current_user_url":"x"}`},
		{"/orgs/Netflix", `{"login":"Netflix"}`},
		{"/orgs/netflix/members", `[{"login":"octocat"}]`},
		{"/orgs/Netflix/repos", `[{"name":"zuul"}]`},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			rec := serve(t, h, tc.path)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tc.want, rec.Body.String())
		})
	}

	t.Run("Other organizations are not served", func(t *testing.T) {
		rec := serve(t, h, "/orgs/google/repos")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, http.StatusNotFound, decodeError(t, rec).Status)
	})

	t.Run("Uncached paths without upstream", func(t *testing.T) {
		rec := serve(t, h, "/repos/Netflix/zuul")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_TopRepositories(t *testing.T) {
	reader := newReader()
	h, err := api.NewHandler(reader, "Netflix", nil, zerolog.Nop())
	require.NoError(t, err)

	t.Run("Ranked tuples", func(t *testing.T) {
		rec := serve(t, h, "/view/top/5/forks")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[["zuul","https://github.com/Netflix/zuul",9,100,2,"2024-01-01T00:00:00Z"]]`, rec.Body.String())
		assert.Equal(t, ranking.Forks, reader.lastCrit)
		assert.Equal(t, 5, reader.lastLimit)
	})

	t.Run("Every criterion is routed", func(t *testing.T) {
		for _, c := range ranking.AllCriteria() {
			rec := serve(t, h, "/view/top/2/"+c.String())
			require.Equal(t, http.StatusOK, rec.Code, c.String())
			assert.Equal(t, c, reader.lastCrit)
		}
	})

	t.Run("Negative count gives empty list", func(t *testing.T) {
		rec := serve(t, h, "/view/top/-3/stars")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("Non integer count", func(t *testing.T) {
		rec := serve(t, h, "/view/top/ten/stars")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec).Message, "ten")
	})

	t.Run("Unknown criterion", func(t *testing.T) {
		rec := serve(t, h, "/view/top/3/watchers")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_Errors(t *testing.T) {
	t.Run("Not initialized maps to 503", func(t *testing.T) {
		reader := newReader()
		reader.err = fmt.Errorf("lookup: %w", cache.ErrNotInitialized)
		h, err := api.NewHandler(reader, "Netflix", nil, zerolog.Nop())
		require.NoError(t, err)

		for _, path := range []string{"/", "/view/top/3/stars"} {
			rec := serve(t, h, path)

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			msg := decodeError(t, rec)
			assert.Equal(t, http.StatusServiceUnavailable, msg.Status)
			assert.Contains(t, msg.Message, "not initialized")
		}
	})

	t.Run("Unknown metric maps to 404", func(t *testing.T) {
		reader := newReader()
		delete(reader.payloads, types.Members)
		h, err := api.NewHandler(reader, "Netflix", nil, zerolog.Nop())
		require.NoError(t, err)

		rec := serve(t, h, "/orgs/Netflix/members")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Anything else is a 500", func(t *testing.T) {
		reader := newReader()
		reader.err = errors.New("boom")
		h, err := api.NewHandler(reader, "Netflix", nil, zerolog.Nop())
		require.NoError(t, err)

		rec := serve(t, h, "/")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHandler_StatusAndProxy(t *testing.T) {
	upstream := &fakeUpstream{}
	h, err := api.NewHandler(newReader(), "Netflix", upstream, zerolog.Nop())
	require.NoError(t, err)

	t.Run("Status", func(t *testing.T) {
		rec := serve(t, h, "/statusz")

		require.Equal(t, http.StatusOK, rec.Code)
		var stats []cache.Stats
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
		require.Len(t, stats, 1)
		assert.Equal(t, uint64(3), stats[0].Refreshed)
	})

	t.Run("Uncached paths are forwarded", func(t *testing.T) {
		rec := serve(t, h, "/repos/Netflix/zuul?ref=main")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `{"proxied":true}`, rec.Body.String())
		assert.Equal(t, []string{"/repos/Netflix/zuul?ref=main"}, upstream.paths)
	})

	t.Run("Upstream status is kept", func(t *testing.T) {
		rec := serve(t, h, "/missing")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "Not Found", decodeError(t, rec).Message)
	})
}

func TestNewHandler_Validation(t *testing.T) {
	_, err := api.NewHandler(nil, "Netflix", nil, zerolog.Nop())
	require.Error(t, err)
	_, err = api.NewHandler(newReader(), "", nil, zerolog.Nop())
	require.Error(t, err)
}
