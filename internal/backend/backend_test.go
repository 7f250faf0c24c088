package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zaptest"
)

func run(t *testing.T, action cli.ActionFunc, args ...string) error {
	app := &cli.App{Name: "test", Flags: Flags(), Action: action}
	return app.Run(append([]string{"test"}, args...))
}

func TestOpenMemory(t *testing.T) {
	require.NoError(t, run(t, func(c *cli.Context) error {
		st, closeStore, err := Open(context.Background(), c, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer closeStore()

		assert.IsType(t, &memory.Repo{}, st)

		l, err := Ledger(c, st, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, money.New(1000), l.Policy().MinDeposit)

		return nil
	}))
}

func TestUnsupportedStore(t *testing.T) {
	require.NoError(t, run(t, func(c *cli.Context) error {
		_, _, err := Open(context.Background(), c, zaptest.NewLogger(t))
		assert.Error(t, err)
		return nil
	}, "--store", "redis"))
}

func TestPolicyFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_deposit: \"2000\"\n"), 0o600))

	require.NoError(t, run(t, func(c *cli.Context) error {
		l, err := Ledger(c, memory.New(), zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Equal(t, money.New(2000), l.Policy().MinDeposit)
		return nil
	}, "--policy", path))
}

func TestMongoConfig(t *testing.T) {
	require.NoError(t, run(t, func(c *cli.Context) error {
		cfg := MongoConfig(c)
		assert.Equal(t, "accounts", cfg.Collections.Accounts)
		assert.Equal(t, "zstd", cfg.Compression.Type)
		assert.True(t, cfg.WriteConcern.Enabled)
		assert.Equal(t, 2, cfg.WriteConcern.W)
		assert.Equal(t, int32(5), PostgresConfig(c).MaxConns)
		return nil
	}, "--compression", "zstd", "--wcW", "2", "--maxConns", "5"))
}
