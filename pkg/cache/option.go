package cache

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const defaultSinkTimeout = 10 * time.Second

type config struct {
	logger      zerolog.Logger
	observers   []Observer
	sinks       []any
	sinkTimeout time.Duration
	clock       clockwork.Clock
}

// Option is a function that sets a value in a config.
type Option func(*config) error

func getOpts(opts []Option) (config, error) {
	cfg := config{
		logger:      zerolog.Nop(),
		sinkTimeout: defaultSinkTimeout,
		clock:       clockwork.NewRealClock(),
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithLogger sets the logger used for refresh outcomes.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) error {
		cfg.logger = logger
		return nil
	}
}

// WithObserver adds an observer that is told about every refresh attempt.
func WithObserver(o Observer) Option {
	return func(cfg *config) error {
		if o == nil {
			return fmt.Errorf("observer cannot be nil")
		}
		cfg.observers = append(cfg.observers, o)
		return nil
	}
}

// WithSink adds a sink that receives each successfully collected metric. The
// sink's value type must match the cache's value type.
func WithSink[V any](sink SnapshotSink[V]) Option {
	return func(cfg *config) error {
		if sink == nil {
			return fmt.Errorf("sink cannot be nil")
		}
		cfg.sinks = append(cfg.sinks, sink)
		return nil
	}
}

// WithSinkTimeout bounds each sink write.
//
// Default is 10 seconds.
func WithSinkTimeout(timeout time.Duration) Option {
	return func(cfg *config) error {
		if timeout <= 0 {
			return fmt.Errorf("sink timeout must be positive, got %s", timeout)
		}
		cfg.sinkTimeout = timeout
		return nil
	}
}

// WithClock sets the clock used to time refreshes.
func WithClock(clock clockwork.Clock) Option {
	return func(cfg *config) error {
		if clock != nil {
			cfg.clock = clock
		}
		return nil
	}
}
