package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-command/runner"
	dispatch "github.com/goliatone/go-dispatch"
	"github.com/goliatone/go-dispatch/adapters/gocommand"
	"github.com/goliatone/go-dispatch/adapters/prommetrics"
	"github.com/goliatone/go-dispatch/adapters/zaplog"
	"github.com/goliatone/go-dispatch/core"
	"github.com/goliatone/go-dispatch/migrations"
	sqlstore "github.com/goliatone/go-dispatch/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configFile := flag.String("config", "", "optional config file (yaml, json or toml)")
	logLevel := flag.String("log-level", "info", "debug, info, warn or error")
	logConsole := flag.Bool("log-console", false, "human readable logs instead of JSON")
	flag.Parse()

	logger, err := zaplog.New(zaplog.Options{Level: *logLevel, Console: *logConsole})
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*configFile, logger); err != nil {
		logger.Error("dispatchd stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(configFile string, logger *zaplog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := core.LoadConfig(ctx, core.NewViperConfigLoader(configFile), core.Config{})
	if err != nil {
		return err
	}
	opts := []dispatch.Option{
		dispatch.WithLoggerProvider(logger),
		dispatch.WithMetrics(prommetrics.NewRecorder(nil)),
	}
	if strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) != "memory" {
		client, err := openPersistence(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		store, err := sqlstore.NewStoreFromPersistence(client)
		if err != nil {
			return err
		}
		opts = append(opts, dispatch.WithStore(store))
	}

	platform, err := dispatch.New(cfg, opts...)
	if err != nil {
		return err
	}

	bus := gocommand.NewBus(gocmd.NewRegistry())
	busErrors := runner.WithErrorHandler(func(err error) {
		logger.Warn("dispatch operation failed", "error", err.Error())
	})
	if err := bus.Register(platform.Facade.Operations(), busErrors); err != nil {
		return err
	}
	if err := bus.Initialize(); err != nil {
		return err
	}
	defer bus.Close()

	if err := platform.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           platform.HandlerFor(gocommand.Dispatched()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("dispatchd listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(server.Shutdown(shutdownCtx), platform.Stop(shutdownCtx))
}

type persistenceConfig struct {
	core.StoreConfig
}

func (c persistenceConfig) GetDebug() bool { return c.Debug }

func (c persistenceConfig) GetDriver() string { return c.Driver }

func (c persistenceConfig) GetServer() string { return c.DSN }

func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }

func (c persistenceConfig) GetOtelIdentifier() string { return "" }

func openPersistence(ctx context.Context, cfg core.StoreConfig) (*persistence.Client, error) {
	var dialect schema.Dialect
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite3", "sqlite":
		cfg.Driver = "sqlite3"
		dialect = sqlitedialect.New()
	case "postgres", "postgresql", "pg":
		cfg.Driver = "postgres"
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("dispatchd: unsupported store driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{StoreConfig: cfg}, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrations.Apply(ctx, client, cfg.Driver); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}
