package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	Threads = 30
)

type Config struct {
	Threads int

	// Report is the throughput log period. Zero disables the report.
	Report time.Duration

	Log *zap.Logger
}

func (c Config) GetWithDefault() *Config {
	if c.Threads == 0 {
		c.Threads = Threads
	}

	if c.Log == nil {
		c.Log = zap.NewNop()
	}

	return &c
}

func New(cfg *Config) *services {
	c := cfg.GetWithDefault()

	return &services{cfg: c, ch: make(chan struct{}, c.Threads)}
}

type Stats struct {
	Ops    uint64
	Errors uint64
}

type services struct {
	cfg *Config

	ch chan struct{}

	ops, errs uint64
}

// Run starts the workers, each calling fn in a loop until ctx is done, and
// blocks until then. fn errors are counted and logged, they do not stop the
// worker.
func (s *services) Run(ctx context.Context, fn func(ctx context.Context, worker int) error) {
	for i := 0; i < s.cfg.Threads; i++ {
		go s.work(ctx, i, fn)
	}

	s.counter(ctx, time.Now())
}

func (s *services) counter(ctx context.Context, start time.Time) {
	var tick <-chan time.Time
	if s.cfg.Report > 0 {
		t := time.NewTicker(s.cfg.Report)
		defer t.Stop()

		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			ms := time.Since(start)
			st := s.Stats()

			s.cfg.Log.Info("throughput",
				zap.Float64("ops/sec", float64(st.Ops)/ms.Seconds()),
				zap.Duration("duration", ms),
				zap.Uint64("ops", st.Ops),
				zap.Uint64("errors", st.Errors))
		}
	}
}

func (s *services) work(ctx context.Context, i int, fn func(ctx context.Context, worker int) error) {
	s.cfg.Log.Debug("worker start", zap.Int("worker", i))

	defer func() {
		s.cfg.Log.Debug("worker exit", zap.Int("worker", i))
		s.ch <- struct{}{}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := fn(ctx, i); err != nil && ctx.Err() == nil {
			atomic.AddUint64(&s.errs, 1)
			s.cfg.Log.Warn("worker fn", zap.Int("worker", i), zap.Error(errors.WithStack(err)))
		}

		atomic.AddUint64(&s.ops, 1)
	}
}

func (s *services) Stats() Stats {
	return Stats{
		Ops:    atomic.LoadUint64(&s.ops),
		Errors: atomic.LoadUint64(&s.errs),
	}
}

func (s *services) Wait() {
	for i := 0; i < s.cfg.Threads; i++ {
		<-s.ch
	}

	close(s.ch)
}
