// Package api exposes the cached metrics and ranked views over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/illmade-knight/go-readcache/pkg/apierror"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/ranking"
	"github.com/illmade-knight/go-readcache/pkg/registry"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
)

// Reader is the read side of the cache registry.
type Reader interface {
	Lookup(t types.MetricType) (json.RawMessage, error)
	TopRepositories(c ranking.Criterion, limit int) ([]ranking.Tuple, error)
	Status() []cache.Stats
}

var _ Reader = (*registry.Registry)(nil)

// Upstream forwards requests for paths that are not cached.
type Upstream interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

// Handler serves the cache. Only the configured organization is served.
type Handler struct {
	reader   Reader
	org      string
	upstream Upstream
	logger   zerolog.Logger
}

// NewHandler creates a handler for org. upstream may be nil, in which case
// paths that are not cached get 404.
func NewHandler(reader Reader, org string, upstream Upstream, logger zerolog.Logger) (*Handler, error) {
	if reader == nil {
		return nil, errors.New("reader cannot be nil")
	}
	if org == "" {
		return nil, errors.New("organization cannot be empty")
	}
	return &Handler{
		reader:   reader,
		org:      org,
		upstream: upstream,
		logger:   logger.With().Str("component", "APIHandler").Logger(),
	}, nil
}

// Routes returns a router serving the cache.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/", h.metric(types.Overview))
	r.Get("/orgs/{org}", h.orgMetric(types.Organization))
	r.Get("/orgs/{org}/members", h.orgMetric(types.Members))
	r.Get("/orgs/{org}/repos", h.orgMetric(types.Repositories))
	r.Get("/view/top/{n}/{criterion}", h.topRepositories)
	r.Get("/statusz", h.status)
	r.NotFound(h.proxy)
	return r
}

func (h *Handler) metric(t types.MetricType) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		raw, err := h.reader.Lookup(t)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeRaw(w, raw)
	}
}

func (h *Handler) orgMetric(t types.MetricType) http.HandlerFunc {
	serve := h.metric(t)
	return func(w http.ResponseWriter, r *http.Request) {
		org := chi.URLParam(r, "org")
		if !strings.EqualFold(org, h.org) {
			h.writeError(w, apierror.New(fmt.Errorf("organization %q is not cached", org), http.StatusNotFound))
			return
		}
		serve(w, r)
	}
}

func (h *Handler) topRepositories(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		h.writeError(w, apierror.New(fmt.Errorf("invalid repository count %q", chi.URLParam(r, "n")), http.StatusBadRequest))
		return
	}
	criterion, err := ranking.ParseCriterion(chi.URLParam(r, "criterion"))
	if err != nil {
		h.writeError(w, apierror.New(err, http.StatusNotFound))
		return
	}

	tuples, err := h.reader.TopRepositories(criterion, n)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tuples)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.reader.Status())
}

func (h *Handler) proxy(w http.ResponseWriter, r *http.Request) {
	if h.upstream == nil || r.Method != http.MethodGet {
		h.writeError(w, apierror.New(errors.New("not found"), http.StatusNotFound))
		return
	}
	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}
	raw, err := h.upstream.Get(r.Context(), path)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeRaw(w, raw)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", status).Msg("Request failed.")
	}
	if apierror.StatusOf(err, 0) != status {
		err = apierror.New(err, status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(apierror.EncodeError(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, cache.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, registry.ErrUnknownMetric):
		return http.StatusNotFound
	default:
		return apierror.StatusOf(err, http.StatusInternalServerError)
	}
}

func writeRaw(w http.ResponseWriter, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(apierror.EncodeError(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("Handled request.")
	})
}
