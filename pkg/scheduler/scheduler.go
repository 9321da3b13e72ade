// Package scheduler runs recurring tasks at a fixed rate on a small, fixed
// pool of workers. One Scheduler is created per process and shared by every
// cache that needs periodic refresh.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/channelqueue"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const defaultWorkers = 2

// ErrClosed is returned when scheduling on a scheduler that has been shut down.
var ErrClosed = errors.New("scheduler closed")

// Task is one unit of recurring work. The context is canceled if the
// scheduler's shutdown deadline passes while the task is running.
type Task func(ctx context.Context)

// CancelFunc stops future runs of a scheduled task. Runs already started are
// not interrupted.
type CancelFunc func()

// Config holds the tunables for a Scheduler.
type Config struct {
	// Workers is the size of the worker pool. Default is 2.
	Workers int `yaml:"workers"`
}

// Scheduler executes tasks at a fixed rate. Each schedule owns a ticker; due
// runs are placed on a queue so that a busy pool never blocks a ticker, and
// workers drain the queue.
//
// A task has at most one run queued or running. A tick that comes due while
// the previous run is still waiting or executing is dropped, not queued, and
// reported to the schedule's OnSkip function.
type Scheduler struct {
	clock  clockwork.Clock
	logger zerolog.Logger

	queue     *channelqueue.ChannelQueue[*run]
	runCtx    context.Context
	runCancel context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	closed    bool
	nextID    uint64
	schedules map[uint64]*schedule
	tickers   sync.WaitGroup
}

type schedule struct {
	id       uint64
	name     string
	period   time.Duration
	task     Task
	onSkip   func(due time.Time)
	stop     chan struct{}
	stopOnce sync.Once
	// busy is set from enqueue until the run returns.
	busy atomic.Bool
}

// ScheduleOption configures a single schedule.
type ScheduleOption func(*schedule)

// OnSkip sets fn to be called with the due time of every tick dropped because
// the previous run had not finished. fn runs on the ticker goroutine.
func OnSkip(fn func(due time.Time)) ScheduleOption {
	return func(sc *schedule) {
		sc.onSkip = fn
	}
}

func (sc *schedule) cancel() {
	sc.stopOnce.Do(func() { close(sc.stop) })
}

func (sc *schedule) canceled() bool {
	select {
	case <-sc.stop:
		return true
	default:
		return false
	}
}

type run struct {
	schedule *schedule
	due      time.Time
}

// New creates a Scheduler and starts its worker pool.
func New(cfg Config, logger zerolog.Logger, options ...Option) (*Scheduler, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	workers := cfg.Workers
	if workers == 0 {
		workers = defaultWorkers
	}
	if workers < 0 {
		return nil, fmt.Errorf("workers must be greater than 0, got %d", workers)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		clock:     opts.clock,
		logger:    logger.With().Str("component", "Scheduler").Logger(),
		queue:     channelqueue.New[*run](-1),
		runCtx:    runCtx,
		runCancel: runCancel,
		done:      make(chan struct{}),
		schedules: make(map[uint64]*schedule),
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.work(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(s.done)
	}()

	s.logger.Info().Int("workers", workers).Msg("Scheduler started.")
	return s, nil
}

// ScheduleAtFixedRate runs task every period. The first run happens one
// period after scheduling; later runs are spaced from the nominal start of the
// previous run, not from its completion. Ticks that fall due while a run is
// pending are skipped.
func (s *Scheduler) ScheduleAtFixedRate(name string, period time.Duration, task Task, options ...ScheduleOption) (CancelFunc, error) {
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", period)
	}
	if task == nil {
		return nil, errors.New("task cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	s.nextID++
	sc := &schedule{
		id:     s.nextID,
		name:   name,
		period: period,
		task:   task,
		stop:   make(chan struct{}),
	}
	for _, opt := range options {
		opt(sc)
	}
	s.schedules[sc.id] = sc
	s.tickers.Add(1)
	go s.tick(sc)

	s.logger.Debug().Str("task", name).Dur("period", period).Msg("Task scheduled.")
	return func() {
		sc.cancel()
		s.mu.Lock()
		delete(s.schedules, sc.id)
		s.mu.Unlock()
	}, nil
}

// Len returns the number of active schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.schedules)
}

// Shutdown cancels all pending and future runs and waits for in-flight runs
// to finish. If ctx expires first, the context passed to running tasks is
// canceled and ctx.Err() is returned. Calling Shutdown again waits for the
// same completion.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		for id, sc := range s.schedules {
			sc.cancel()
			delete(s.schedules, id)
		}
		s.mu.Unlock()

		s.logger.Info().Msg("Shutting down scheduler...")
		// No ticker can send once all have exited, so the queue input can
		// be closed. Workers skip runs of canceled schedules while draining.
		s.tickers.Wait()
		close(s.queue.In())
	} else {
		s.mu.Unlock()
	}

	select {
	case <-s.done:
		s.runCancel()
		s.logger.Info().Msg("Scheduler stopped.")
		return nil
	case <-ctx.Done():
		s.runCancel()
		s.logger.Warn().Err(ctx.Err()).Msg("Scheduler shutdown deadline passed, interrupting running tasks.")
		return ctx.Err()
	}
}

func (s *Scheduler) tick(sc *schedule) {
	defer s.tickers.Done()
	ticker := s.clock.NewTicker(sc.period)
	defer ticker.Stop()

	for {
		select {
		case <-sc.stop:
			return
		case due := <-ticker.Chan():
			if !sc.busy.CompareAndSwap(false, true) {
				s.logger.Debug().Str("task", sc.name).Time("due", due).Msg("Previous run not finished, tick skipped.")
				if sc.onSkip != nil {
					sc.onSkip(due)
				}
				continue
			}
			select {
			case s.queue.In() <- &run{schedule: sc, due: due}:
			case <-sc.stop:
				return
			}
		}
	}
}

func (s *Scheduler) work(id int) {
	for r := range s.queue.Out() {
		if r.schedule.canceled() {
			continue
		}
		s.execute(id, r)
	}
}

func (s *Scheduler) execute(worker int, r *run) {
	defer r.schedule.busy.Store(false)
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().
				Str("task", r.schedule.name).
				Int("worker", worker).
				Interface("panic", p).
				Msg("Scheduled task panicked.")
		}
	}()

	if lag := s.clock.Since(r.due); lag > r.schedule.period {
		s.logger.Warn().Str("task", r.schedule.name).Dur("lag", lag).Msg("Scheduled run started late.")
	}
	r.schedule.task(s.runCtx)
}
