package mongo

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/d7561985/invest-ledger/internal/config"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store/storetest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

// mongod --port 27017 --replSet rs0 --dbpath data/rs0 --bind_ip localhost
// mongosh --eval 'rs.initiate()'
//
// MONGO_ADDR="mongodb://localhost:27017/?replicaSet=rs0" go test ./pkg/store/mongo/...
func testConfig(t testing.TB) config.Mongo {
	addr := os.Getenv("MONGO_ADDR")
	if addr == "" {
		t.Skip("MONGO_ADDR is not set")
	}

	cfg := config.DefaultMongo()
	cfg.Addr = addr
	cfg.DB = "ledger_test"
	cfg.Validation = true

	return cfg
}

func newRepo(t testing.TB) *Repo {
	cfg := testConfig(t)

	q, err := New(context.TODO(), cfg)
	require.NoError(t, err)

	t.Cleanup(func() { q.Stop(context.TODO()) })

	return q
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, newRepo(t))
}

func TestApplyHooks(t *testing.T) {
	q := newRepo(t)
	ctx := context.TODO()

	a := storetest.NewAccount()
	require.NoError(t, q.CreateAccount(ctx, a))

	var commits, deferred int64
	q.AddHook(ApplyBeforeCommit, func() { atomic.AddInt64(&commits, 1) })
	q.AddHook(ApplyDefer, func() { atomic.AddInt64(&deferred, 1) })

	_, err := q.Apply(ctx, changing.Change{AccountID: a.ID, Inc: changing.Inc{TotalReferred: 1}})
	require.NoError(t, err)

	_, err = q.Apply(ctx, changing.Change{AccountID: "missing"})
	assert.Error(t, err)

	assert.EqualValues(t, 1, commits)
	assert.EqualValues(t, 2, deferred)
}

// Two ledgers over one database stand in for two service replicas: account
// locks are per process, so only the store guard keeps the bonus single.
func TestChatBonusAcrossReplicas(t *testing.T) {
	ctx := context.TODO()

	a, err := ledger.New(newRepo(t), ledger.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	b, err := ledger.New(newRepo(t), ledger.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	id := storetest.NewAccount().ID
	_, err = a.Register(ctx, id, "replica", "")
	require.NoError(t, err)

	var won, lost int64

	g := errgroup.Group{}
	for i := 0; i < 20; i++ {
		l := a
		if i%2 == 1 {
			l = b
		}

		g.Go(func() error {
			_, err := l.ClaimChatBonus(ctx, id)
			switch {
			case err == nil:
				atomic.AddInt64(&won, 1)
			case errors.Is(err, ledger.ErrAlreadyClaimed):
				atomic.AddInt64(&lost, 1)
			default:
				return err
			}

			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, won)
	assert.EqualValues(t, 19, lost)

	totals, err := a.Audit(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, money.New(100), totals.Bonus)
}

func TestLedgerScenario(t *testing.T) {
	ctx := context.TODO()
	now := time.Now().UTC()

	l, err := ledger.New(newRepo(t),
		ledger.WithLogger(zaptest.NewLogger(t)),
		ledger.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	ref := storetest.NewAccount().ID
	acc, err := l.Register(ctx, ref, "ref", "")
	require.NoError(t, err)

	kid := storetest.NewAccount().ID
	_, err = l.Register(ctx, kid, "kid", acc.ReferralCode)
	require.NoError(t, err)

	tx, err := l.CreateDeposit(ctx, kid, money.New(10000))
	require.NoError(t, err)

	_, err = l.Confirm(ctx, tx.ID)
	require.NoError(t, err)

	v, err := l.Snapshot(ctx, ref, now)
	require.NoError(t, err)
	assert.Equal(t, money.New(2500), v.Balance)
	assert.EqualValues(t, 1, v.Referrals.ActiveReferred)

	require.NoError(t, l.RetryReferralCredit(ctx, tx.ID))

	for _, id := range []string{ref, kid} {
		_, err = l.Audit(ctx, id)
		assert.NoError(t, err)
	}
}
