package collector

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type config struct {
	timeout time.Duration
	clock   clockwork.Clock
}

// Option is a function that sets a value in a config.
type Option func(*config) error

func getOpts(opts []Option) (config, error) {
	cfg := config{
		clock: clockwork.NewRealClock(),
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithTimeout bounds each Collect call. Zero means the caller's context is
// used unchanged.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout < 0 {
			return fmt.Errorf("timeout cannot be negative: %s", timeout)
		}
		cfg.timeout = timeout
		return nil
	}
}

// WithClock sets the clock used to stamp collected metrics.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *config) error {
		if clock != nil {
			cfg.clock = clock
		}
		return nil
	}
}
