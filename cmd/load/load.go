package load

import (
	"context"
	"fmt"
	"math/rand"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/d7561985/invest-ledger/internal/backend"
	"github.com/d7561985/invest-ledger/internal/logger"
	"github.com/d7561985/invest-ledger/pkg/ledger"
	"github.com/d7561985/invest-ledger/pkg/money"
	"github.com/d7561985/invest-ledger/pkg/store"
	"github.com/d7561985/invest-ledger/pkg/worker"
	fuzz "github.com/google/gofuzz"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defUsers   = 1_000
	defThreads = 30
)

const (
	fThreads  = "threads"
	fUsers    = "users"
	fDuration = "duration"
	fReport   = "report"
	fSpeed    = "speed"
)

const (
	EnvThreads  = "THREADS"
	EnvUsers    = "USERS"
	EnvDuration = "DURATION"
	EnvReport   = "REPORT"
	EnvSpeed    = "SPEED"
)

type loadCommand struct{}

func New() *cli.Command {
	c := new(loadCommand)

	return &cli.Command{
		Name:        "load",
		Description: "drive random deposits, withdrawals and bonus claims through the ledger, then audit every account",
		Flags: append([]cli.Flag{
			&cli.IntFlag{Name: fThreads, Value: defThreads, Aliases: []string{"t"}, EnvVars: []string{EnvThreads}},
			&cli.IntFlag{Name: fUsers, Value: defUsers, Aliases: []string{"u"}, EnvVars: []string{EnvUsers}},
			&cli.DurationFlag{Name: fDuration, Value: time.Minute, Aliases: []string{"d"}, EnvVars: []string{EnvDuration}},
			&cli.DurationFlag{Name: fReport, Value: 5 * time.Second, EnvVars: []string{EnvReport}},
			&cli.IntFlag{Name: fSpeed, Value: 86_400, Usage: "simulated seconds per wall second", EnvVars: []string{EnvSpeed}},
		}, backend.Flags()...),
		Action: c.Action,
	}
}

func (m *loadCommand) Action(c *cli.Context) error {
	lc := backend.LogConfig(c)

	log, err := logger.New(lc.Level, lc.Development)
	if err != nil {
		return err
	}

	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := backend.Open(ctx, c, log)
	if err != nil {
		return err
	}

	defer closeStore()

	clk := newClock(time.Now(), c.Int(fSpeed))

	l, err := backend.Ledger(c, st, log, ledger.WithClock(clk.Now))
	if err != nil {
		return err
	}

	users := c.Int(fUsers)
	if users <= 0 {
		return fmt.Errorf("users must be positive, got %d", users)
	}

	g := &generator{l: l, clk: clk, ids: make([]string, users)}
	if err = g.register(ctx, users); err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, c.Duration(fDuration))
	defer cancel()

	w := worker.New(&worker.Config{Threads: c.Int(fThreads), Report: c.Duration(fReport), Log: log})
	w.Run(rctx, g.step)
	w.Wait()

	stats := w.Stats()
	log.Info("load done",
		zap.Uint64("ops", stats.Ops),
		zap.Uint64("errors", stats.Errors),
		zap.Uint64("rejected", atomic.LoadUint64(&g.rejected)),
		zap.Time("simulatedNow", clk.Now()))

	return g.audit(ctx, log, c.Int(fThreads))
}

// clock runs simulated time speed times faster than the wall clock.
type clock struct {
	start time.Time
	wall  time.Time
	speed time.Duration
}

func newClock(start time.Time, speed int) *clock {
	if speed < 1 {
		speed = 1
	}

	return &clock{start: start, wall: time.Now(), speed: time.Duration(speed)}
}

func (c *clock) Now() time.Time {
	return c.start.Add(time.Since(c.wall) * c.speed)
}

type generator struct {
	l   *ledger.Ledger
	clk *clock
	ids []string

	rejected uint64
}

// register creates the accounts. Every account after the first is referred by
// a random earlier one, so commissions and milestones get exercised.
func (g *generator) register(ctx context.Context, n int) error {
	codes := make([]string, 0, n)
	run := rand.Int63()

	for i := 0; i < n; i++ {
		var username string
		fuzz.New().NilChance(0).Fuzz(&username)

		code := ""
		if len(codes) > 0 {
			code = codes[rand.Intn(len(codes))]
		}

		id := fmt.Sprintf("load-%x-%d", run, i)

		acc, err := g.l.Register(ctx, id, username, code)
		if acc == nil {
			return errors.Wrapf(err, "register %s", id)
		}

		g.ids[i] = acc.ID
		codes = append(codes, acc.ReferralCode)
	}

	return nil
}

func (g *generator) step(ctx context.Context, _ int) error {
	id := g.ids[rand.Intn(len(g.ids))]
	p := g.l.Policy()

	var err error

	switch n := rand.Intn(100); {
	case n < 40:
		err = g.deposit(ctx, id, p.MinDeposit+money.Money(rand.Int63n(int64(p.MinDeposit)*10)), n < 5)
	case n < 70:
		err = g.withdraw(ctx, id, p.MinWithdrawal+money.Money(rand.Int63n(int64(p.MinWithdrawal)*10)), n < 45)
	case n < 75:
		_, err = g.l.ClaimChatBonus(ctx, id)
	case n < 80:
		_, err = g.l.ClaimMilestoneBonus(ctx, id)
	case n < 95:
		_, err = g.l.Settle(ctx, id, g.clk.Now())
	default:
		_, err = g.l.Snapshot(ctx, id, g.clk.Now())
	}

	if expected(err) {
		atomic.AddUint64(&g.rejected, 1)
		return nil
	}

	return err
}

func (g *generator) deposit(ctx context.Context, id string, amount money.Money, reject bool) error {
	tx, err := g.l.CreateDeposit(ctx, id, amount)
	if err != nil {
		return err
	}

	if reject {
		_, err = g.l.Reject(ctx, tx.ID)
		return err
	}

	_, err = g.l.Confirm(ctx, tx.ID)

	return err
}

func (g *generator) withdraw(ctx context.Context, id string, amount money.Money, reject bool) error {
	tx, err := g.l.CreateWithdrawal(ctx, id, amount, "4111111111111111")
	if err != nil {
		return err
	}

	if reject {
		_, err = g.l.Reject(ctx, tx.ID)
		return err
	}

	_, err = g.l.Confirm(ctx, tx.ID)

	return err
}

// expected reports business rejections that a random workload produces.
func expected(err error) bool {
	if err == nil {
		return false
	}

	if _, ok := ledger.ReasonOf(err); ok {
		return true
	}

	return errors.Is(err, ledger.ErrAlreadyClaimed) ||
		errors.Is(err, ledger.ErrMilestoneNotReached) ||
		errors.Is(err, store.ErrConflict)
}

// audit replays every account's log and compares it with the stored totals.
func (g *generator) audit(ctx context.Context, log *zap.Logger, threads int) error {
	var bad uint64

	eg, ctx := errgroup.WithContext(ctx)
	if threads < 1 {
		threads = worker.Threads
	}

	eg.SetLimit(threads)

	for _, id := range g.ids {
		id := id

		eg.Go(func() error {
			_, err := g.l.Audit(ctx, id)

			switch {
			case errors.Is(err, ledger.ErrAuditMismatch):
				atomic.AddUint64(&bad, 1)
				log.Error("audit mismatch", zap.String("account", id), zap.Error(err))
				return nil
			case err != nil:
				return errors.Wrapf(err, "audit %s", id)
			}

			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	log.Info("audit done", zap.Int("accounts", len(g.ids)), zap.Uint64("mismatched", bad))

	if bad > 0 {
		return errors.Wrapf(ledger.ErrAuditMismatch, "%d accounts", bad)
	}

	return nil
}
