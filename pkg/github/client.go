// Package github is a small read-only client for the GitHub REST API,
// covering the endpoints served by the cache.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/illmade-knight/go-readcache/pkg/apierror"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.github.com"
	pageSize       = 100
	maxBodySize    = 32 << 20
)

// ErrBodyTooLarge is returned when an upstream response exceeds the
// configured body limit.
var ErrBodyTooLarge = errors.New("response body too large")

// Config holds the configuration for the upstream client.
type Config struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"-"`
	TokenEnv     string        `yaml:"token_env"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     int           `yaml:"retry_max"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
	MaxPages     int           `yaml:"max_pages"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// DefaultConfig returns the configuration used for any zero field.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		TokenEnv:     "GITHUB_TOKEN",
		Timeout:      10 * time.Second,
		RetryMax:     3,
		RetryWaitMin: 1 * time.Second,
		RetryWaitMax: 30 * time.Second,
		MaxPages:     50,
		MaxBodyBytes: maxBodySize,
	}
}

// Client issues GET requests against the GitHub API. Server errors, rate
// limiting and transport failures are retried with backoff.
type Client struct {
	baseURL  *url.URL
	token    string
	maxPages int
	maxBody  int64
	http     *retryablehttp.Client
	logger   zerolog.Logger
}

// NewClient creates a client. Zero fields of cfg take their defaults.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryMax < 0 {
		return nil, fmt.Errorf("retry max cannot be negative, got %d", cfg.RetryMax)
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = max(def.RetryWaitMax, cfg.RetryWaitMin)
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	baseURL, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	logger = logger.With().Str("component", "GitHubClient").Logger()
	rclient := &retryablehttp.Client{
		HTTPClient:   &http.Client{Timeout: cfg.Timeout},
		Logger:       leveledLogger{logger: logger},
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		RetryMax:     cfg.RetryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	return &Client{
		baseURL:  baseURL,
		token:    cfg.Token,
		maxPages: cfg.MaxPages,
		maxBody:  cfg.MaxBodyBytes,
		http:     rclient,
		logger:   logger,
	}, nil
}

// Get fetches a single resource and returns its body unchanged. path is
// relative to the base URL and may carry a query string.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	body, _, err := c.get(ctx, c.resolve(path))
	return body, err
}

// GetAllPages fetches a list resource, following Link rel="next" headers, and
// joins the pages into one JSON array.
func (c *Client) GetAllPages(ctx context.Context, path string) (json.RawMessage, error) {
	next := c.resolve(withPageSize(path))
	var items []json.RawMessage
	for page := 1; next != ""; page++ {
		if page > c.maxPages {
			return nil, fmt.Errorf("%s: more than %d pages", path, c.maxPages)
		}
		body, header, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		var pageItems []json.RawMessage
		if err := json.Unmarshal(body, &pageItems); err != nil {
			return nil, fmt.Errorf("%s page %d is not a JSON array: %w", path, page, err)
		}
		items = append(items, pageItems...)
		next = nextLink(header.Get("Link"))
	}
	return joinArray(items), nil
}

// Overview returns the API root document.
func (c *Client) Overview(ctx context.Context) (json.RawMessage, error) {
	return c.Get(ctx, "/")
}

// Organization returns the organization document.
func (c *Client) Organization(ctx context.Context, org string) (json.RawMessage, error) {
	return c.Get(ctx, "/orgs/"+url.PathEscape(org))
}

// Members returns every public member of the organization.
func (c *Client) Members(ctx context.Context, org string) (json.RawMessage, error) {
	return c.GetAllPages(ctx, "/orgs/"+url.PathEscape(org)+"/members")
}

// Repositories returns every repository of the organization.
func (c *Client) Repositories(ctx context.Context, org string) (json.RawMessage, error) {
	return c.GetAllPages(ctx, "/orgs/"+url.PathEscape(org)+"/repos")
}

func (c *Client) resolve(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.baseURL.String() + path
	}
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String()
}

func (c *Client) get(ctx context.Context, rawURL string) (json.RawMessage, http.Header, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "go-readcache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return nil, nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().Str("url", rawURL).Int("status", resp.StatusCode).
			Str("rate_limit_remaining", resp.Header.Get("X-RateLimit-Remaining")).
			Msg("Upstream returned an error.")
		return nil, nil, apierror.FromResponse(resp.StatusCode, body)
	}
	if readErr != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", rawURL, readErr)
	}
	if int64(len(body)) > c.maxBody {
		return nil, nil, fmt.Errorf("reading %s: %w (limit %d bytes)", rawURL, ErrBodyTooLarge, c.maxBody)
	}

	c.logger.Debug().Str("url", rawURL).Dur("took", time.Since(start)).Int("bytes", len(body)).Msg("Fetched upstream resource.")
	return body, resp.Header, nil
}

func withPageSize(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	q := u.Query()
	if q.Get("per_page") == "" {
		q.Set("per_page", fmt.Sprint(pageSize))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// nextLink extracts the rel="next" target from an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return target[1 : len(target)-1]
			}
		}
	}
	return ""
}

// joinArray writes the elements back out as one array without re-encoding
// them.
func joinArray(items []json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
