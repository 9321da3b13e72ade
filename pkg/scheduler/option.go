package scheduler

import (
	"fmt"

	"github.com/jonboulle/clockwork"
)

type config struct {
	clock clockwork.Clock
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

// WithClock sets the clock that drives the schedule tickers.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *config) error {
		if clock != nil {
			cfg.clock = clock
		}
		return nil
	}
}
