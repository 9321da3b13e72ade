package client

import (
	"fmt"
	"net/http"
	"time"
)

type config struct {
	httpClient   *http.Client
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

func getOpts(opts []Option) (config, error) {
	cfg := config{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		retryWaitMin: 100 * time.Millisecond,
		retryWaitMax: 2 * time.Second,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithClient sets the underlying http client.
func WithClient(c *http.Client) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.httpClient = c
		}
		return nil
	}
}

// WithRetry retries failed requests up to retryMax times, waiting between
// waitMin and waitMax. A 503 from a cache that is still initializing is
// retried.
//
// Default is no retries.
func WithRetry(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(cfg *config) error {
		if retryMax < 0 {
			return fmt.Errorf("retry max cannot be negative")
		}
		if waitMin <= 0 || waitMax < waitMin {
			return fmt.Errorf("invalid retry wait range %s-%s", waitMin, waitMax)
		}
		cfg.retryMax = retryMax
		cfg.retryWaitMin = waitMin
		cfg.retryWaitMax = waitMax
		return nil
	}
}
