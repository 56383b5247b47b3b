// Command sync runs one sync pass and exits. It is meant for cron and for
// operators; a non-zero exit code means the run failed or was locked out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/logger"
	"catalogsync/internal/reconcile"
	"catalogsync/internal/runlock"
)

func main() {
	mode := flag.String("mode", reconcile.KindCatalog, "sync mode: catalog, prices or registry")
	dryRun := flag.Bool("dry-run", false, "compute and simulate the push without writing anything")
	checkOnly := flag.Bool("check-only", false, "report the diff without pushing")
	forceFull := flag.Bool("force-full", false, "treat every entity as new or updated")
	limit := flag.Int("limit", 0, "maximum number of changed entities to process (0 = all)")
	verbose := flag.Bool("verbose", false, "log every entity in the diff")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	logger := logger.New(level)
	defer logger.Sync()

	opts := reconcile.Options{
		DryRun:    *dryRun,
		CheckOnly: *checkOnly,
		ForceFull: *forceFull,
		Limit:     *limit,
		Verbose:   *verbose,
	}
	if err := run(cfg, logger, *mode, opts); err != nil {
		logger.Error("%s sync failed: %v", *mode, err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logger.Logger, mode string, opts reconcile.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	lock, err := a.Lock(ctx)
	if errors.Is(err, runlock.ErrLocked) {
		return fmt.Errorf("%w: %s", err, cfg.LockFile)
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("Failed to release run lock: %v", err)
		}
	}()

	switch mode {
	case reconcile.KindCatalog:
		_, err = a.Service.SyncCatalog(ctx, opts)
	case reconcile.KindPrices:
		_, err = a.Service.ReconcilePrices(ctx, opts)
	case reconcile.KindRegistry:
		_, err = a.Service.SyncRegistry(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", mode)
	}
	return err
}
