package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"opconsole/internal/application"
	"opconsole/internal/command"
	"opconsole/internal/config"
	"opconsole/internal/db"
	"opconsole/internal/logging"
)

var version = "dev"

var startApplication = application.StartApplication

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		// The cached accessor, so serve and migrate invoked back to back in
		// scripts resolve one consistent snapshot of the environment.
		LoadConfig: func() config.Config { return *config.GetConfig() },
		RunServe: func(ctx context.Context, cfg config.Config) error {
			return runServe(ctx, os.Stdout, cfg)
		},
		RunMigrateUp: runMigrateUp,
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "opconsole"}).Error("opconsole failed", "err", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, out io.Writer, cfg config.Config) error {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Writer: os.Stderr, Component: "opconsole"})
	logger.Info("starting", "version", version, "sessionKey", cfg.SessionKey)

	app, err := startApplication(application.StartOptions{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "opconsole listening on %s\n", app.BaseURL())
	return app.Run(ctx)
}

// runMigrateUp opens the console database, which applies the schema, and
// exits. Useful for provisioning the data dir ahead of first serve.
func runMigrateUp(_ context.Context, cfg config.Config) error {
	gdb, err := db.OpenSQLite(filepath.Join(cfg.DataDir, "console.db"))
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
