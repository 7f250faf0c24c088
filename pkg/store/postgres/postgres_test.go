package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/d7561985/invest-ledger/internal/config"
	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// POSTGRES_ADDR="postgresql://postgres@localhost/ledger_test" go test ./pkg/store/postgres/...
func newRepo(t testing.TB) *Repo {
	addr := os.Getenv("POSTGRES_ADDR")
	if addr == "" {
		t.Skip("POSTGRES_ADDR is not set")
	}

	ctx := context.TODO()

	q, err := New(ctx, config.Postgres{Addr: addr, MaxConns: 16})
	require.NoError(t, err)
	require.NoError(t, q.Setup(ctx))

	t.Cleanup(q.Stop)

	return q
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, newRepo(t))
}

func TestSetupIsIdempotent(t *testing.T) {
	q := newRepo(t)
	assert.NoError(t, q.Setup(context.TODO()))
}

func TestLedgerSettleAndWithdraw(t *testing.T) {
	ctx := context.TODO()
	start := time.Now().UTC().Truncate(time.Microsecond)
	now := start

	l, err := ledger.New(newRepo(t),
		ledger.WithLogger(zaptest.NewLogger(t)),
		ledger.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	id := storetest.NewAccount().ID
	_, err = l.Register(ctx, id, "pg", "")
	require.NoError(t, err)

	tx, err := l.CreateDeposit(ctx, id, money.New(50000))
	require.NoError(t, err)

	_, err = l.Confirm(ctx, tx.ID)
	require.NoError(t, err)

	now = start.Add(24 * time.Hour)

	w, err := l.CreateWithdrawal(ctx, id, money.New(5300), "4111111111111111")
	require.NoError(t, err)

	_, err = l.Confirm(ctx, w.ID)
	require.NoError(t, err)

	v, err := l.Snapshot(ctx, id, now)
	require.NoError(t, err)
	assert.Equal(t, money.New(50000), v.Balance)
	assert.Equal(t, money.Zero, v.Available)
	assert.Equal(t, money.New(5300), v.TotalWithdrawn)

	totals, err := l.Audit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, money.New(5300), totals.Profit)
}
