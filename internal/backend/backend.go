// Package backend wires the store selected on the command line.
package backend

import (
	"context"
	"fmt"

	"github.com/d7561985/invest-ledger/internal/config"
	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/store/memory"
	"github.com/d7561985/invest-ledger/pkg/store/mongo"
	"github.com/d7561985/invest-ledger/pkg/store/postgres"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	Memory   = "memory"
	Mongo    = "mongo"
	Postgres = "postgres"
)

const (
	fStore  = "store"
	fPolicy = "policy"

	fLogLevel = "logLevel"
	fLogDev   = "logDev"

	fMongoAddr        = "mongoAddr"
	fDB               = "db"
	fColAccounts      = "accounts"
	fColTransactions  = "transactions"
	fColDeposits      = "deposits"
	fColReferrals     = "referrals"
	fCompression      = "compression"
	fCompressionLevel = "compressionLevel"
	fWriteConcernJ    = "wcJournal"
	fWriteConcernW    = "wcW"
	fValidation       = "validation"
	fShards           = "shards"

	fPostgresAddr = "postgresAddr"
	fMaxConns     = "maxConns"
)

const (
	EnvStore  = "STORE"
	EnvPolicy = "POLICY_FILE"

	EnvLogLevel = "LOG_LEVEL"
	EnvLogDev   = "LOG_DEV"

	EnvMongoAddr                   = "MONGO_ADDR"
	EnvMongoDB                     = "MONGO_DB"
	EnvMongoCollectionAccounts     = "MONGO_COLLECTION_ACCOUNTS"
	EnvMongoCollectionTransactions = "MONGO_COLLECTION_TRANSACTIONS"
	EnvMongoCollectionDeposits     = "MONGO_COLLECTION_DEPOSITS"
	EnvMongoCollectionReferrals    = "MONGO_COLLECTION_REFERRALS"
	EnvCompression                 = "MONGO_COMPRESSION"
	EnvCompressionLevel            = "MONGO_COMPRESSION_LEVEL"
	EnvWriteConcernJ               = "MONGO_WRITE_CONCERN_J"
	EnvWriteConcernW               = "MONGO_WRITE_CONCERN_W"
	EnvValidation                  = "MONGO_VALIDATION"
	EnvShards                      = "MONGO_SHARDS"

	EnvPostgresAddr = "POSTGRES_ADDR"
	EnvMaxConns     = "POSTGRES_MAX_CONNS"
)

func Flags() []cli.Flag {
	def := config.DefaultMongo()

	return []cli.Flag{
		&cli.StringFlag{Name: fStore, Value: Memory, Usage: "memory, mongo, postgres", Aliases: []string{"s"}, EnvVars: []string{EnvStore}},
		&cli.StringFlag{Name: fPolicy, Usage: "policy yaml; LEDGER_* env overrides single keys", EnvVars: []string{EnvPolicy}},

		&cli.StringFlag{Name: fLogLevel, Value: "info", EnvVars: []string{EnvLogLevel}},
		&cli.BoolFlag{Name: fLogDev, EnvVars: []string{EnvLogDev}},

		&cli.StringFlag{Name: fMongoAddr, Value: def.Addr, EnvVars: []string{EnvMongoAddr}},
		&cli.StringFlag{Name: fDB, Value: def.DB, EnvVars: []string{EnvMongoDB}},
		&cli.StringFlag{Name: fColAccounts, Value: def.Collections.Accounts, EnvVars: []string{EnvMongoCollectionAccounts}},
		&cli.StringFlag{Name: fColTransactions, Value: def.Collections.Transactions, EnvVars: []string{EnvMongoCollectionTransactions}},
		&cli.StringFlag{Name: fColDeposits, Value: def.Collections.Deposits, EnvVars: []string{EnvMongoCollectionDeposits}},
		&cli.StringFlag{Name: fColReferrals, Value: def.Collections.Referrals, EnvVars: []string{EnvMongoCollectionReferrals}},
		&cli.StringFlag{Name: fCompression, Value: "snappy", Usage: "zlib, zstd, snappy", EnvVars: []string{EnvCompression}},
		&cli.IntFlag{Name: fCompressionLevel, Value: 0, Usage: "zlib: max 9, zstd: max 20, snappy: not used", EnvVars: []string{EnvCompressionLevel}},
		&cli.BoolFlag{Name: fWriteConcernJ, Value: false, EnvVars: []string{EnvWriteConcernJ}},
		&cli.IntFlag{Name: fWriteConcernW, Value: 0, Usage: "0 keeps the server default", EnvVars: []string{EnvWriteConcernW}},
		&cli.BoolFlag{Name: fValidation, Value: false, Usage: "install $jsonSchema on accounts", EnvVars: []string{EnvValidation}},
		&cli.IntFlag{Name: fShards, Value: 0, EnvVars: []string{EnvShards}},

		&cli.StringFlag{Name: fPostgresAddr, Value: "postgresql://postgres@localhost/ledger", EnvVars: []string{EnvPostgresAddr}},
		&cli.IntFlag{Name: fMaxConns, Value: 0, EnvVars: []string{EnvMaxConns}},
	}
}

func LogConfig(c *cli.Context) config.Log {
	return config.Log{
		Level:       c.String(fLogLevel),
		Development: c.Bool(fLogDev),
	}
}

func MongoConfig(c *cli.Context) config.Mongo {
	cfg := config.Mongo{
		Addr:       c.String(fMongoAddr),
		DB:         c.String(fDB),
		ShardNum:   c.Int(fShards),
		Validation: c.Bool(fValidation),
	}

	cfg.Collections.Accounts = c.String(fColAccounts)
	cfg.Collections.Transactions = c.String(fColTransactions)
	cfg.Collections.Deposits = c.String(fColDeposits)
	cfg.Collections.Referrals = c.String(fColReferrals)

	cfg.Compression.Type = c.String(fCompression)
	cfg.Compression.Level = c.Int(fCompressionLevel)

	if c.Bool(fWriteConcernJ) || c.Int(fWriteConcernW) > 0 {
		cfg.WriteConcern.Enabled = true
		cfg.WriteConcern.Journal = c.Bool(fWriteConcernJ)
		cfg.WriteConcern.W = c.Int(fWriteConcernW)
	}

	return cfg
}

func PostgresConfig(c *cli.Context) config.Postgres {
	return config.Postgres{
		Addr:     c.String(fPostgresAddr),
		MaxConns: int32(c.Int(fMaxConns)),
	}
}

// Open connects the selected store. The returned func releases it.
func Open(ctx context.Context, c *cli.Context, log *zap.Logger) (ledger.Store, func(), error) {
	kind := c.String(fStore)
	log.Info("opening store", zap.String("store", kind))

	switch kind {
	case Memory:
		return memory.New(), func() {}, nil
	case Mongo:
		q, err := mongo.New(ctx, MongoConfig(c))
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}

		return q, func() { q.Stop(context.Background()) }, nil
	case Postgres:
		q, err := postgres.New(ctx, PostgresConfig(c))
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}

		if err = q.Setup(ctx); err != nil {
			q.Stop()
			return nil, nil, err
		}

		return q, q.Stop, nil
	}

	return nil, nil, fmt.Errorf("unsupported store %q", kind)
}

// Ledger builds the ledger over the selected store with the configured policy.
func Ledger(c *cli.Context, s ledger.Store, log *zap.Logger, opts ...ledger.Option) (*ledger.Ledger, error) {
	p, err := config.LoadPolicy(c.String(fPolicy))
	if err != nil {
		return nil, err
	}

	return ledger.New(s, append([]ledger.Option{ledger.WithPolicy(p), ledger.WithLogger(log)}, opts...)...)
}
