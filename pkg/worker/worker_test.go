package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	w := New(&Config{Threads: 4, Report: 20 * time.Millisecond, Log: zaptest.NewLogger(t)})

	var calls int64
	workers := make([]int64, 4)

	w.Run(ctx, func(ctx context.Context, worker int) error {
		n := atomic.AddInt64(&calls, 1)
		atomic.AddInt64(&workers[worker], 1)
		time.Sleep(time.Millisecond)

		if n%10 == 0 {
			return errors.New("every tenth call fails")
		}

		return nil
	})
	w.Wait()

	st := w.Stats()
	assert.EqualValues(t, atomic.LoadInt64(&calls), st.Ops)
	assert.Positive(t, st.Ops)
	assert.LessOrEqual(t, st.Errors, st.Ops/10)

	for i := range workers {
		assert.Positive(t, workers[i], "worker %d never ran", i)
	}
}

func TestDefaults(t *testing.T) {
	c := Config{}.GetWithDefault()

	assert.Equal(t, Threads, c.Threads)
	assert.NotNil(t, c.Log)
}
