package serve

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/d7561985/invest-ledger/internal/api"
	"github.com/d7561985/invest-ledger/internal/backend"
	"github.com/d7561985/invest-ledger/internal/config"
	"github.com/d7561985/invest-ledger/internal/logger"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	fAddr            = "addr"
	fReadTimeout     = "readTimeout"
	fWriteTimeout    = "writeTimeout"
	fShutdownTimeout = "shutdownTimeout"
)

const (
	EnvHTTPAddr        = "HTTP_ADDR"
	EnvReadTimeout     = "HTTP_READ_TIMEOUT"
	EnvWriteTimeout    = "HTTP_WRITE_TIMEOUT"
	EnvShutdownTimeout = "HTTP_SHUTDOWN_TIMEOUT"
)

type serveCommand struct{}

func New() *cli.Command {
	c := new(serveCommand)

	return &cli.Command{
		Name:        "serve",
		Description: "run the ledger HTTP API over the selected store",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: fAddr, Value: ":8080", Aliases: []string{"a"}, EnvVars: []string{EnvHTTPAddr}},
			&cli.DurationFlag{Name: fReadTimeout, Value: 5 * time.Second, EnvVars: []string{EnvReadTimeout}},
			&cli.DurationFlag{Name: fWriteTimeout, Value: 10 * time.Second, EnvVars: []string{EnvWriteTimeout}},
			&cli.DurationFlag{Name: fShutdownTimeout, Value: 10 * time.Second, EnvVars: []string{EnvShutdownTimeout}},
		}, backend.Flags()...),
		Action: c.Action,
	}
}

func getCfg(c *cli.Context) config.HTTP {
	return config.HTTP{
		Addr:            c.String(fAddr),
		ReadTimeout:     c.Duration(fReadTimeout),
		WriteTimeout:    c.Duration(fWriteTimeout),
		ShutdownTimeout: c.Duration(fShutdownTimeout),
	}
}

func (s *serveCommand) Action(c *cli.Context) error {
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

	l, err := backend.Ledger(c, st, log)
	if err != nil {
		return err
	}

	cfg := getCfg(c)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.New(l, log).Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)

	go func() {
		log.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err = <-errCh:
		return errors.WithStack(err)
	case <-ctx.Done():
	}

	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err = srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "shutdown")
	}

	return nil
}
