package load

import (
	"context"
	"testing"
	"time"

	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/d7561985/invest-ledger/pkg/store/memory"
	"github.com/d7561985/invest-ledger/pkg/worker"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestGeneratorKeepsAccountsConsistent(t *testing.T) {
	ctx := context.Background()
	clk := newClock(time.Now(), 86_400)

	l, err := ledger.New(memory.New(), ledger.WithClock(clk.Now), ledger.WithLogger(zap.NewNop()))
	require.NoError(t, err)

	g := &generator{l: l, clk: clk, ids: make([]string, 20)}
	require.NoError(t, g.register(ctx, 20))

	rctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()

	w := worker.New(&worker.Config{Threads: 4})
	w.Run(rctx, g.step)
	w.Wait()

	st := w.Stats()
	assert.NotZero(t, st.Ops)
	assert.Zero(t, st.Errors)

	require.NoError(t, g.audit(ctx, zaptest.NewLogger(t), 4))
}

func TestClockRunsFaster(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClock(start, 3600)

	time.Sleep(10 * time.Millisecond)
	assert.True(t, c.Now().Sub(start) >= 36*time.Second)
}

func TestExpected(t *testing.T) {
	assert.False(t, expected(nil))
	assert.True(t, expected(&ledger.ValidationError{Reason: ledger.InsufficientAvailable}))
	assert.True(t, expected(errors.WithStack(ledger.ErrAlreadyClaimed)))
	assert.True(t, expected(errors.Wrap(store.ErrConflict, "apply")))
	assert.False(t, expected(store.ErrNotFound))
}
