package reaper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/graflow/backoff"
	"github.com/xraph/graflow/cache"
	"github.com/xraph/graflow/longterm"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

// Sweeper removes expired rows and reports how many it removed.
type Sweeper interface {
	Name() string
	Sweep(ctx context.Context) (int64, error)
}

type sweeperFunc struct {
	name string
	fn   func(ctx context.Context) (int64, error)
}

func (s sweeperFunc) Name() string                             { return s.name }
func (s sweeperFunc) Sweep(ctx context.Context) (int64, error) { return s.fn(ctx) }

// NewSweeper adapts fn to a Sweeper called name.
func NewSweeper(name string, fn func(ctx context.Context) (int64, error)) Sweeper {
	return sweeperFunc{name: name, fn: fn}
}

// CacheSweeper removes expired result cache entries.
func CacheSweeper(c *cache.Cache) Sweeper {
	return NewSweeper("cache", c.Cleanup)
}

// StoreSweeper removes expired long-term store items.
func StoreSweeper(s *longterm.Service) Sweeper {
	return NewSweeper("store", s.SweepExpired)
}

// Emitter receives sweep results. ext.Registry satisfies it.
type Emitter interface {
	EmitSweepCompleted(ctx context.Context, sweeper string, removed int64)
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Option configures a Reaper.
type Option func(*Reaper)

// WithSchedule replaces the parsed schedule.
func WithSchedule(s cronlib.Schedule) Option {
	return func(r *Reaper) { r.schedule = s }
}

// WithEmitter sets the receiver of sweep results.
func WithEmitter(e Emitter) Option {
	return func(r *Reaper) { r.emitter = e }
}

// WithBackoff sets the retry strategy and the number of attempts per sweep.
func WithBackoff(s backoff.Strategy, attempts int) Option {
	return func(r *Reaper) {
		r.strategy = s
		r.attempts = attempts
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reaper) { r.logger = l }
}

// Reaper runs sweepers on a schedule.
type Reaper struct {
	schedule cronlib.Schedule
	sweepers []Sweeper
	emitter  Emitter
	strategy backoff.Strategy
	attempts int
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New returns a Reaper that runs sweepers on expr. An empty expr selects
// DefaultSchedule.
func New(expr string, sweepers []Sweeper, opts ...Option) (*Reaper, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("graflow/reaper: parse schedule %q: %w", expr, err)
	}
	r := &Reaper{
		schedule: sched,
		sweepers: sweepers,
		strategy: backoff.DefaultStrategy(),
		attempts: 3,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start launches the schedule loop. Calling Start on a running reaper is a
// no-op.
func (r *Reaper) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.stopCh = make(chan struct{})
	r.running = true

	r.wg.Add(1)
	go r.loop(ctx)
	r.logger.Info("reaper started", slog.Int("sweepers", len(r.sweepers)))
	return nil
}

// Stop cancels an in-flight sweep and waits for the loop to exit.
func (r *Reaper) Stop(_ context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	close(r.stopCh)
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("reaper stopped")
	return nil
}

func (r *Reaper) loop(ctx context.Context) {
	defer r.wg.Done()

	for {
		now := time.Now()
		timer := time.NewTimer(r.schedule.Next(now).Sub(now))
		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn("reaper tick finished with errors", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce runs every sweeper once, retrying failures, and returns the
// number of rows each removed. Errors from individual sweepers are joined;
// a failing sweeper does not prevent the others from running.
func (r *Reaper) RunOnce(ctx context.Context) (map[string]int64, error) {
	removed := make(map[string]int64, len(r.sweepers))
	var errs []error
	for _, s := range r.sweepers {
		var n int64
		err := backoff.Retry(ctx, r.strategy, r.attempts, func(ctx context.Context) error {
			var err error
			n, err = s.Sweep(ctx)
			if err != nil {
				r.logger.Debug("sweep attempt failed",
					slog.String("sweeper", s.Name()),
					slog.String("error", err.Error()),
				)
			}
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("graflow/reaper: %s: %w", s.Name(), err))
			continue
		}
		removed[s.Name()] = n
		if n > 0 {
			r.logger.Info("sweep completed",
				slog.String("sweeper", s.Name()),
				slog.Int64("removed", n),
			)
		}
		if r.emitter != nil {
			r.emitter.EmitSweepCompleted(ctx, s.Name(), n)
		}
	}
	return removed, errors.Join(errs...)
}
