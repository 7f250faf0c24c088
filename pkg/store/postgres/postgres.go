package postgres

import (
	"context"

	"github.com/d7561985/invest-ledger/internal/config"
	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const uniqueViolation = "23505"

type Repo struct {
	cfg config.Postgres

	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Postgres) (*Repo, error) {
	c, err := pgxpool.ParseConfig(cfg.Addr)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if cfg.MaxConns > 0 {
		c.MaxConns = cfg.MaxConns
	}

	dbpool, err := pgxpool.ConnectConfig(ctx, c)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err = dbpool.Ping(ctx); err != nil {
		return nil, errors.WithStack(err)
	}

	return &Repo{
		cfg:  cfg,
		pool: dbpool,
	}, nil
}

// Setup creates the schema. Amounts are BIGINT minor units.
func (s *Repo) Setup(ctx context.Context) error {
	sql := `
BEGIN ;
CREATE TABLE IF NOT EXISTS "accounts"
(
    "id"                   VARCHAR(64) NOT NULL,
    "username"             TEXT        NOT NULL DEFAULT '',
    "referral_code"        VARCHAR(16) NOT NULL,
    "referred_by"          VARCHAR(64) NOT NULL DEFAULT '',
    "created_at"           TIMESTAMPTZ NOT NULL,
    "balance"              BIGINT      NOT NULL DEFAULT 0,
    "total_invested"       BIGINT      NOT NULL DEFAULT 0,
    "total_withdrawn"      BIGINT      NOT NULL DEFAULT 0,
    "active_deposits"      BIGINT      NOT NULL DEFAULT 0,
    "total_referred"       BIGINT      NOT NULL DEFAULT 0,
    "active_referred"      BIGINT      NOT NULL DEFAULT 0,
    "referral_income"      BIGINT      NOT NULL DEFAULT 0,
    "chat_bonus_claimed"   BOOLEAN     NOT NULL DEFAULT FALSE,
    "milestone_bonus_paid" BOOLEAN     NOT NULL DEFAULT FALSE,
    PRIMARY KEY ("id"),
    UNIQUE ("referral_code")
);

CREATE TABLE IF NOT EXISTS "transactions"
(
    "seq"         BIGSERIAL   NOT NULL,
    "id"          VARCHAR(64) NOT NULL,
    "account_id"  VARCHAR(64) NOT NULL REFERENCES "accounts" ("id"),
    "type"        VARCHAR(16) NOT NULL,
    "amount"      BIGINT      NOT NULL CHECK ("amount" > 0),
    "status"      VARCHAR(16) NOT NULL,
    "timestamp"   TIMESTAMPTZ NOT NULL,
    "source"      TEXT        NOT NULL DEFAULT '',
    "destination" TEXT        NOT NULL DEFAULT '',
    PRIMARY KEY ("id")
);
CREATE INDEX IF NOT EXISTS "transactions_account_seq" ON "transactions" ("account_id", "seq");

CREATE TABLE IF NOT EXISTS "deposits"
(
    "id"         VARCHAR(64) NOT NULL,
    "account_id" VARCHAR(64) NOT NULL REFERENCES "accounts" ("id"),
    "tx_id"      VARCHAR(64) NOT NULL,
    "amount"     BIGINT      NOT NULL,
    "start_time" TIMESTAMPTZ NOT NULL,
    "term_days"  INT         NOT NULL,
    "daily_rate" NUMERIC     NOT NULL,
    "settled"    BIGINT      NOT NULL DEFAULT 0,
    "closed"     BOOLEAN     NOT NULL DEFAULT FALSE,
    PRIMARY KEY ("id")
);
CREATE INDEX IF NOT EXISTS "deposits_account" ON "deposits" ("account_id", "start_time");

CREATE TABLE IF NOT EXISTS "referrals"
(
    "referee_id"  VARCHAR(64) NOT NULL REFERENCES "accounts" ("id"),
    "referrer_id" VARCHAR(64) NOT NULL REFERENCES "accounts" ("id"),
    PRIMARY KEY ("referee_id")
);
COMMIT;
`
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (s *Repo) Stop() {
	s.pool.Close()
}

// querier is satisfied by both the pool and an open pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

const accountColumns = `"id", "username", "referral_code", "referred_by", "created_at",
	"balance", "total_invested", "total_withdrawn", "active_deposits",
	"total_referred", "active_referred", "referral_income",
	"chat_bonus_claimed", "milestone_bonus_paid"`

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a                                    account.Account
		balance, invested, withdrawn, income int64
	)

	err := row.Scan(&a.ID, &a.Username, &a.ReferralCode, &a.ReferredBy, &a.CreatedAt,
		&balance, &invested, &withdrawn, &a.ActiveDeposits,
		&a.Referrals.TotalReferred, &a.Referrals.ActiveReferred, &income,
		&a.ChatBonusClaimed, &a.MilestoneBonusPaid)
	if err != nil {
		return nil, err
	}

	a.CreatedAt = a.CreatedAt.UTC()
	a.Balance = money.FromMinor(balance)
	a.TotalInvested = money.FromMinor(invested)
	a.TotalWithdrawn = money.FromMinor(withdrawn)
	a.Referrals.Income = money.FromMinor(income)

	return &a, nil
}

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (s *Repo) CreateAccount(ctx context.Context, a account.Account) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO accounts("id", "username", "referral_code", "referred_by", "created_at")
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Username, a.ReferralCode, a.ReferredBy, a.CreatedAt)
	if isUnique(err) {
		return errors.Wrapf(store.ErrExists, "account %s", a.ID)
	}

	return errors.WithStack(err)
}

func (s *Repo) GetAccount(ctx context.Context, id string) (*account.Account, error) {
	return getAccount(ctx, s.pool, `"id" = $1`, id)
}

func (s *Repo) FindByReferralCode(ctx context.Context, code string) (*account.Account, error) {
	return getAccount(ctx, s.pool, `"referral_code" = $1`, code)
}

func getAccount(ctx context.Context, q querier, where, arg string) (*account.Account, error) {
	a, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, arg))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errors.Wrapf(store.ErrNotFound, "account %s", arg)
	case err != nil:
		return nil, errors.WithStack(err)
	}

	return a, nil
}

const txColumns = `"id", "account_id", "type", "amount", "status", "timestamp", "source", "destination"`

func scanTransaction(row pgx.Row) (transaction.Transaction, error) {
	var (
		tx          transaction.Transaction
		typ, status string
		amount      int64
	)

	if err := row.Scan(&tx.ID, &tx.AccountID, &typ, &amount, &status, &tx.Timestamp, &tx.Source, &tx.Destination); err != nil {
		return tx, err
	}

	tx.Type = transaction.Type(typ)
	tx.Status = transaction.Status(status)
	tx.Amount = money.FromMinor(amount)
	tx.Timestamp = tx.Timestamp.UTC()

	return tx, nil
}

func (s *Repo) GetTransaction(ctx context.Context, id string) (*transaction.Transaction, error) {
	return getTransaction(ctx, s.pool, id)
}

func getTransaction(ctx context.Context, q querier, id string) (*transaction.Transaction, error) {
	tx, err := scanTransaction(q.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE "id" = $1`, id))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, errors.Wrapf(store.ErrNotFound, "transaction %s", id)
	case err != nil:
		return nil, errors.WithStack(err)
	}

	return &tx, nil
}

func (s *Repo) ListTransactions(ctx context.Context, accountID string) ([]transaction.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE "account_id" = $1 ORDER BY "seq"`, accountID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		out = append(out, tx)
	}

	return out, errors.WithStack(rows.Err())
}

func (s *Repo) ListDeposits(ctx context.Context, accountID string) ([]account.Deposit, error) {
	rows, err := s.pool.Query(ctx, `SELECT "id", "account_id", "tx_id", "amount", "start_time",
			"term_days", "daily_rate"::TEXT, "settled", "closed"
		FROM deposits WHERE "account_id" = $1 ORDER BY "start_time", "id"`, accountID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []account.Deposit
	for rows.Next() {
		var (
			d               account.Deposit
			amount, settled int64
			rate            string
		)

		if err = rows.Scan(&d.ID, &d.AccountID, &d.TxID, &amount, &d.StartTime,
			&d.TermDays, &rate, &settled, &d.Closed); err != nil {
			return nil, errors.WithStack(err)
		}

		if d.DailyRate, err = decimal.NewFromString(rate); err != nil {
			return nil, errors.Wrapf(err, "deposit %s rate", d.ID)
		}

		d.Amount = money.FromMinor(amount)
		d.Settled = money.FromMinor(settled)
		d.StartTime = d.StartTime.UTC()

		out = append(out, d)
	}

	return out, errors.WithStack(rows.Err())
}

// Apply runs the whole change in one database transaction.
func (s *Repo) Apply(ctx context.Context, c changing.Change) (_ *account.Account, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	defer func() {
		if err == nil {
			err = errors.WithStack(tx.Commit(ctx))
		} else {
			_ = tx.Rollback(ctx)
		}
	}()

	if c.Transition != nil {
		if err = transition(ctx, tx, c.AccountID, *c.Transition); err != nil {
			return nil, err
		}
	}

	if c.Referee != "" {
		_, err = tx.Exec(ctx, `INSERT INTO referrals("referee_id", "referrer_id") VALUES ($1, $2)`,
			c.Referee, c.AccountID)
		if isUnique(err) {
			return nil, errors.Wrapf(store.ErrExists, "referee %s", c.Referee)
		}

		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	guarded := c.Set.ChatBonusClaimed || c.Set.MilestoneBonusPaid

	a, err := scanAccount(tx.QueryRow(ctx, `UPDATE accounts SET
			"balance" = "balance" + $2,
			"total_invested" = "total_invested" + $3,
			"total_withdrawn" = "total_withdrawn" + $4,
			"active_deposits" = "active_deposits" + $5,
			"total_referred" = "total_referred" + $6,
			"active_referred" = "active_referred" + $7,
			"referral_income" = "referral_income" + $8,
			"chat_bonus_claimed" = "chat_bonus_claimed" OR $9,
			"milestone_bonus_paid" = "milestone_bonus_paid" OR $10
		WHERE "id" = $1
			AND NOT ($9 AND "chat_bonus_claimed")
			AND NOT ($10 AND "milestone_bonus_paid")
		RETURNING `+accountColumns,
		c.AccountID,
		c.Inc.Balance.Minor(), c.Inc.TotalInvested.Minor(), c.Inc.TotalWithdrawn.Minor(), c.Inc.ActiveDeposits,
		c.Inc.TotalReferred, c.Inc.ActiveReferred, c.Inc.ReferralIncome.Minor(),
		c.Set.ChatBonusClaimed, c.Set.MilestoneBonusPaid))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if !guarded {
			return nil, errors.Wrapf(store.ErrNotFound, "account %s", c.AccountID)
		}

		if _, err = getAccount(ctx, tx, `"id" = $1`, c.AccountID); err != nil {
			return nil, err
		}

		return nil, errors.Wrapf(store.ErrConflict, "account %s", c.AccountID)
	case err != nil:
		return nil, errors.WithStack(err)
	}

	for _, t := range c.Append {
		_, err = tx.Exec(ctx, `INSERT INTO transactions(`+txColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.ID, t.AccountID, string(t.Type), t.Amount.Minor(), string(t.Status), t.Timestamp, t.Source, t.Destination)
		if isUnique(err) {
			return nil, errors.Wrapf(store.ErrExists, "transaction %s", t.ID)
		}

		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	if d := c.Deposit; d != nil {
		_, err = tx.Exec(ctx, `INSERT INTO deposits("id", "account_id", "tx_id", "amount", "start_time",
				"term_days", "daily_rate", "settled", "closed")
			VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9)`,
			d.ID, d.AccountID, d.TxID, d.Amount.Minor(), d.StartTime, d.TermDays, d.DailyRate.String(),
			d.Settled.Minor(), d.Closed)
		if isUnique(err) {
			return nil, errors.Wrapf(store.ErrExists, "deposit %s", d.ID)
		}

		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	for _, st := range c.Settle {
		tag, err := tx.Exec(ctx, `UPDATE deposits SET "settled" = "settled" + $3, "closed" = "closed" OR $4
			WHERE "id" = $1 AND "account_id" = $2`,
			st.DepositID, c.AccountID, st.Settled.Minor(), st.Close)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		if tag.RowsAffected() == 0 {
			return nil, errors.Wrapf(store.ErrNotFound, "deposit %s", st.DepositID)
		}
	}

	return a, nil
}

// transition is a compare-and-set on the transaction status.
func transition(ctx context.Context, tx pgx.Tx, accountID string, t changing.Transition) error {
	tag, err := tx.Exec(ctx, `UPDATE transactions SET "status" = $4
		WHERE "id" = $1 AND "account_id" = $2 AND "status" = $3`,
		t.TxID, accountID, string(t.From), string(t.To))
	if err != nil {
		return errors.WithStack(err)
	}

	if tag.RowsAffected() == 1 {
		return nil
	}

	cur, err := getTransaction(ctx, tx, t.TxID)
	if err != nil {
		return err
	}

	if cur.AccountID != accountID {
		return errors.Wrapf(store.ErrNotFound, "transaction %s", t.TxID)
	}

	if err = transaction.CheckTransition(cur.ID, cur.Status, t.To); err != nil {
		return errors.WithStack(err)
	}

	return errors.Wrapf(store.ErrConflict, "transaction %s moved to %s", cur.ID, cur.Status)
}
