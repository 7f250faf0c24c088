package config

import (
	"time"
)

type Mongo struct {
	Addr string
	DB   string

	ShardNum int

	Collections struct {
		// balances and one-time flags, updated with $inc/$set
		Accounts string

		// append-only log
		Transactions string

		// accrual terms
		Deposits string

		// one marker per counted referee
		Referrals string
	}

	// Validation installs the $jsonSchema validator on the accounts collection.
	Validation bool

	// Note! Only single compression!
	Compression struct {
		// zlib, zstd, snappy
		Type string

		// zlib: max 9
		// zstd: max 20
		Level int
	}

	WriteConcern struct {
		Enabled bool
		Journal bool
		W       int
	}
}

func DefaultMongo() Mongo {
	cfg := Mongo{
		Addr: "mongodb://localhost:27017/?replicaSet=rs0",
		DB:   "ledger",
	}

	cfg.Collections.Accounts = "accounts"
	cfg.Collections.Transactions = "transactions"
	cfg.Collections.Deposits = "deposits"
	cfg.Collections.Referrals = "referrals"

	return cfg
}

type Postgres struct {
	Addr string

	MaxConns int32
}

type HTTP struct {
	Addr string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Log struct {
	// debug, info, warn, error
	Level string

	Development bool
}
