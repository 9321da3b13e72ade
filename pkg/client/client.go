// Package client is the consumer side of the read cache HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/illmade-knight/go-readcache/pkg/apierror"
	"github.com/illmade-knight/go-readcache/pkg/ranking"
)

const (
	orgsPath = "orgs"
	viewPath = "view/top"
)

// Client reads from a read cache server.
type Client struct {
	c       *http.Client
	baseURL *url.URL
}

// New creates a client for the server at baseURL.
func New(baseURL string, options ...Option) (*Client, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", baseURL)
	}
	u.Path = ""

	httpClient := opts.httpClient
	if opts.retryMax > 0 {
		rclient := &retryablehttp.Client{
			HTTPClient:   httpClient,
			RetryWaitMin: opts.retryWaitMin,
			RetryWaitMax: opts.retryWaitMax,
			RetryMax:     opts.retryMax,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
			ErrorHandler: keepLastResponse,
		}
		httpClient = rclient.StandardClient()
	}

	return &Client{
		c:       httpClient,
		baseURL: u,
	}, nil
}

// keepLastResponse hands the final response back once retries run out so its
// status and error body can be decoded.
func keepLastResponse(resp *http.Response, err error, _ int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

// GetOverview returns the cached API root document.
func (c *Client) GetOverview(ctx context.Context) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL.JoinPath("/"))
}

// GetOrganization returns the cached organization document.
func (c *Client) GetOrganization(ctx context.Context, org string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL.JoinPath(orgsPath, org))
}

// GetOrganizationMembers returns the cached member list.
func (c *Client) GetOrganizationMembers(ctx context.Context, org string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL.JoinPath(orgsPath, org, "members"))
}

// GetOrganizationRepos returns the cached repository list.
func (c *Client) GetOrganizationRepos(ctx context.Context, org string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL.JoinPath(orgsPath, org, "repos"))
}

// GetEndpoint returns any other upstream path through the server.
func (c *Client) GetEndpoint(ctx context.Context, path string) (json.RawMessage, error) {
	return c.getRaw(ctx, c.baseURL.JoinPath(path))
}

func (c *Client) GetTopRepositoriesByForkCount(ctx context.Context, n int) ([][]any, error) {
	return c.getTop(ctx, n, ranking.Forks)
}

func (c *Client) GetTopRepositoriesByLastUpdated(ctx context.Context, n int) ([][]any, error) {
	return c.getTop(ctx, n, ranking.LastUpdated)
}

func (c *Client) GetTopRepositoriesByOpenIssueCount(ctx context.Context, n int) ([][]any, error) {
	return c.getTop(ctx, n, ranking.OpenIssues)
}

func (c *Client) GetTopRepositoriesByStarCount(ctx context.Context, n int) ([][]any, error) {
	return c.getTop(ctx, n, ranking.Stars)
}

func (c *Client) getTop(ctx context.Context, n int, criterion ranking.Criterion) ([][]any, error) {
	raw, err := c.getRaw(ctx, c.baseURL.JoinPath(viewPath, strconv.Itoa(n), criterion.String()))
	if err != nil {
		return nil, err
	}
	var tuples [][]any
	if err := json.Unmarshal(raw, &tuples); err != nil {
		return nil, fmt.Errorf("cannot decode ranked view: %w", err)
	}
	return tuples, nil
}

func (c *Client) getRaw(ctx context.Context, u *url.URL) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		if derr := apierror.DecodeError(body); derr != nil && apierror.StatusOf(derr, 0) != 0 {
			return nil, derr
		}
		return nil, apierror.FromResponse(resp.StatusCode, body)
	}
	return body, nil
}
