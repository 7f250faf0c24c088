package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/d7561985/invest-ledger/internal/config"
	"github.com/d7561985/invest-ledger/pkg/agregate/account"
	"github.com/d7561985/invest-ledger/pkg/agregate/transaction"
	"github.com/d7561985/invest-ledger/pkg/changing"
	"github.com/d7561985/invest-ledger/pkg/store"

	_ "embed"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// timeout of transaction
var timeout = time.Second * 10

type PlaceHolders string

const (
	// ApplyBeforeCommit fires inside the session transaction, after every write.
	ApplyBeforeCommit PlaceHolders = "apply.commit"
	ApplyDefer        PlaceHolders = "apply.defer"
)

type Repo struct {
	cfg config.Mongo

	client *mongo.Client
	db     *mongo.Database

	hooks map[PlaceHolders]func()
}

// schema documentation - https://docs.mongodb.com/manual/reference/operator/query/jsonSchema/#mongodb-query-op.-jsonSchema
//
//go:embed schema-validation-account.json
var schema []byte

func New(ctx context.Context, cfg config.Mongo) (*Repo, error) {
	clientOpts := options.Client().ApplyURI(cfg.Addr).
		SetRetryWrites(true)

	if cfg.Compression.Type != "" {
		clientOpts.SetCompressors([]string{cfg.Compression.Type})
	}

	if cfg.WriteConcern.Enabled {
		clientOpts = clientOpts.SetWriteConcern(
			writeconcern.New(
				writeconcern.WTimeout(timeout),
				writeconcern.J(cfg.WriteConcern.Journal),
				writeconcern.W(cfg.WriteConcern.W),
			))
	}

	switch cfg.Compression.Type {
	case "zlib":
		clientOpts.SetZlibLevel(cfg.Compression.Level)
	case "zstd":
		clientOpts.SetZstdLevel(cfg.Compression.Level)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	v := &Repo{client: client,
		cfg:   cfg,
		db:    client.Database(cfg.DB),
		hooks: make(map[PlaceHolders]func()),
	}

	return v.setup(ctx)
}

func (r *Repo) accounts() *mongo.Collection {
	return r.db.Collection(r.cfg.Collections.Accounts)
}

func (r *Repo) transactions() *mongo.Collection {
	return r.db.Collection(r.cfg.Collections.Transactions)
}

func (r *Repo) deposits() *mongo.Collection {
	return r.db.Collection(r.cfg.Collections.Deposits)
}

func (r *Repo) referrals() *mongo.Collection {
	return r.db.Collection(r.cfg.Collections.Referrals)
}

func (r *Repo) setup(ctx context.Context) (*Repo, error) {
	if r.cfg.Validation {
		if err := r.setupValidation(ctx); err != nil {
			return nil, err
		}
	}

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{r.accounts(), mongo.IndexModel{
			Keys:    bson.D{{Key: "referralCode", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		{r.transactions(), mongo.IndexModel{
			Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "seq", Value: 1}},
		}},
		{r.deposits(), mongo.IndexModel{
			Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "startTime", Value: 1}},
		}},
	}

	for _, ix := range indexes {
		if _, err := ix.coll.Indexes().CreateOne(ctx, ix.model); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	if r.cfg.ShardNum > 0 {
		if err := r.initShards(ctx); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return r, nil
}

// WARNING: NOT EXECUTE ON PROD DATA! Will block it!
//
// level: off, strict, moderate
// validation setup
// https://docs.mongodb.com/manual/core/schema-validation/
func (r *Repo) setupValidation(ctx context.Context) error {
	var doc bson.Raw
	if err := bson.UnmarshalExtJSON(schema, true, &doc); err != nil {
		return errors.WithStack(err)
	}

	name := r.cfg.Collections.Accounts

	list, err := r.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return errors.WithStack(err)
	}

	if len(list) == 0 {
		createOpts := options.CreateCollection().
			SetValidationAction("error").
			SetValidationLevel("strict").
			SetValidator(bson.M{"$jsonSchema": doc})

		return errors.WithStack(r.db.CreateCollection(ctx, name, createOpts))
	}

	// docs: https://docs.mongodb.com/manual/reference/command/collMod/#mongodb-dbcommand-dbcmd.collMod
	res := r.db.RunCommand(ctx, bson.D{
		{Key: "collMod", Value: name},
		{Key: "validationLevel", Value: "strict"},
		{Key: "validationAction", Value: "error"},
		{Key: "validator", Value: bson.M{"$jsonSchema": doc}},
	})

	return errors.WithStack(res.Err())
}

func (r *Repo) initShards(ctx context.Context) error {
	chunks := int64(8192*r.cfg.ShardNum - r.cfg.ShardNum)

	keys := []struct {
		coll string
		key  string
	}{
		{r.cfg.Collections.Accounts, "_id"},
		{r.cfg.Collections.Transactions, "accountId"},
		{r.cfg.Collections.Deposits, "accountId"},
		{r.cfg.Collections.Referrals, "_id"},
	}

	for _, k := range keys {
		res := r.client.Database("admin").RunCommand(ctx, bson.D{
			{Key: "shardCollection", Value: fmt.Sprintf("%s.%s", r.db.Name(), k.coll)},
			{Key: "key", Value: bson.D{{Key: k.key, Value: "hashed"}}},
			{Key: "numInitialChunks", Value: chunks},
		})

		if res.Err() != nil && !strings.Contains(res.Err().Error(), "AlreadyInitialized") {
			return errors.WithStack(res.Err())
		}
	}

	return nil
}

func (r *Repo) CreateAccount(ctx context.Context, a account.Account) error {
	_, err := r.accounts().InsertOne(ctx, NewAccount(a))
	if mongo.IsDuplicateKeyError(err) {
		return errors.Wrapf(store.ErrExists, "account %s", a.ID)
	}

	return errors.WithStack(err)
}

func (r *Repo) GetAccount(ctx context.Context, id string) (*account.Account, error) {
	return r.findAccount(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *Repo) FindByReferralCode(ctx context.Context, code string) (*account.Account, error) {
	return r.findAccount(ctx, bson.D{{Key: "referralCode", Value: code}})
}

func (r *Repo) findAccount(ctx context.Context, filter bson.D) (*account.Account, error) {
	var doc Account

	err := r.accounts().FindOne(ctx, filter).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, errors.Wrapf(store.ErrNotFound, "account %v", filter[0].Value)
	case err != nil:
		return nil, errors.WithStack(err)
	}

	return doc.Domain(), nil
}

func (r *Repo) GetTransaction(ctx context.Context, id string) (*transaction.Transaction, error) {
	var doc Transaction

	err := r.transactions().FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, errors.Wrapf(store.ErrNotFound, "transaction %s", id)
	case err != nil:
		return nil, errors.WithStack(err)
	}

	tx := doc.Domain()
	return &tx, nil
}

func (r *Repo) ListTransactions(ctx context.Context, accountID string) ([]transaction.Transaction, error) {
	cur, err := r.transactions().Find(ctx,
		bson.D{{Key: "accountId", Value: accountID}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var docs []Transaction
	if err = cur.All(ctx, &docs); err != nil {
		return nil, errors.WithStack(err)
	}

	out := make([]transaction.Transaction, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Domain())
	}

	return out, nil
}

func (r *Repo) ListDeposits(ctx context.Context, accountID string) ([]account.Deposit, error) {
	cur, err := r.deposits().Find(ctx,
		bson.D{{Key: "accountId", Value: accountID}},
		options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var docs []Deposit
	if err = cur.All(ctx, &docs); err != nil {
		return nil, errors.WithStack(err)
	}

	out := make([]account.Deposit, 0, len(docs))
	for _, d := range docs {
		dep, err := d.Domain()
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}

	return out, nil
}

// Apply runs the whole change in one session transaction.
func (r *Repo) Apply(ctx context.Context, c changing.Change) (*account.Account, error) {
	defer r.call(ApplyDefer)

	opts := options.Session().
		SetCausalConsistency(false)

	ses, err := r.client.StartSession(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	defer ses.EndSession(ctx)

	res, err := ses.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return r.apply(sessCtx, c)
	}, options.Transaction())
	if err != nil {
		return nil, err
	}

	return res.(*account.Account), nil
}

func (r *Repo) apply(ctx mongo.SessionContext, c changing.Change) (*account.Account, error) {
	if c.Transition != nil {
		if err := r.transition(ctx, c.AccountID, *c.Transition); err != nil {
			return nil, err
		}
	}

	if c.Referee != "" {
		_, err := r.referrals().InsertOne(ctx, Referral{RefereeID: c.Referee, ReferrerID: c.AccountID})
		if mongo.IsDuplicateKeyError(err) {
			return nil, errors.Wrapf(store.ErrExists, "referee %s", c.Referee)
		}

		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	set, guard := NewSet(c.Set)

	filter := append(bson.D{{Key: "_id", Value: c.AccountID}}, guard...)
	update := bson.D{{Key: "$inc", Value: NewInc(c)}}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}

	var doc Account
	err := r.accounts().FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		if len(guard) == 0 {
			return nil, errors.Wrapf(store.ErrNotFound, "account %s", c.AccountID)
		}

		if _, err = r.GetAccount(ctx, c.AccountID); err != nil {
			return nil, err
		}

		return nil, errors.Wrapf(store.ErrConflict, "account %s", c.AccountID)
	case err != nil:
		return nil, errors.WithStack(err)
	}

	if len(c.Append) > 0 {
		first := doc.Seq - int64(len(c.Append)) + 1

		docs := make([]interface{}, 0, len(c.Append))
		for i, tx := range c.Append {
			docs = append(docs, NewTransaction(tx, first+int64(i)))
		}

		if _, err = r.transactions().InsertMany(ctx, docs); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, errors.Wrapf(store.ErrExists, "transaction in %s", c.AccountID)
			}

			return nil, errors.WithStack(err)
		}
	}

	if c.Deposit != nil {
		if _, err = r.deposits().InsertOne(ctx, NewDeposit(*c.Deposit)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, errors.Wrapf(store.ErrExists, "deposit %s", c.Deposit.ID)
			}

			return nil, errors.WithStack(err)
		}
	}

	for _, s := range c.Settle {
		upd := bson.D{{Key: "$inc", Value: bson.D{{Key: "settled", Value: s.Settled.Minor()}}}}
		if s.Close {
			upd = append(upd, bson.E{Key: "$set", Value: bson.D{{Key: "closed", Value: true}}})
		}

		res, err := r.deposits().UpdateOne(ctx,
			bson.D{{Key: "_id", Value: s.DepositID}, {Key: "accountId", Value: c.AccountID}}, upd)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		if res.MatchedCount == 0 {
			return nil, errors.Wrapf(store.ErrNotFound, "deposit %s", s.DepositID)
		}
	}

	r.call(ApplyBeforeCommit)

	return doc.Domain(), nil
}

// transition is a compare-and-set on the transaction status.
func (r *Repo) transition(ctx context.Context, accountID string, t changing.Transition) error {
	res, err := r.transactions().UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: t.TxID},
			{Key: "accountId", Value: accountID},
			{Key: "status", Value: string(t.From)},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "status", Value: string(t.To)}}}})
	if err != nil {
		return errors.WithStack(err)
	}

	if res.MatchedCount == 1 {
		return nil
	}

	tx, err := r.GetTransaction(ctx, t.TxID)
	if err != nil {
		return err
	}

	if tx.AccountID != accountID {
		return errors.Wrapf(store.ErrNotFound, "transaction %s", t.TxID)
	}

	if err = transaction.CheckTransition(tx.ID, tx.Status, t.To); err != nil {
		return errors.WithStack(err)
	}

	return errors.Wrapf(store.ErrConflict, "transaction %s moved to %s", tx.ID, tx.Status)
}

func (r *Repo) AddHook(name PlaceHolders, fn func()) {
	r.hooks[name] = fn
}

func (r *Repo) call(name PlaceHolders) {
	if fn, ok := r.hooks[name]; ok {
		fn()
	}
}

func (r *Repo) Stop(ctx context.Context) {
	_ = r.client.Disconnect(ctx)
}

// Drop removes every collection of the repo. Tests only.
func (r *Repo) Drop(ctx context.Context) error {
	for _, c := range []*mongo.Collection{r.accounts(), r.transactions(), r.deposits(), r.referrals()} {
		if err := c.Drop(ctx); err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}
