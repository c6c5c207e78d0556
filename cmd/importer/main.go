package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ETAnderson/productimporter/internal/config"
	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/events"
	"github.com/ETAnderson/productimporter/internal/importer"
	"github.com/ETAnderson/productimporter/internal/ingest"
	"github.com/ETAnderson/productimporter/internal/logging"
	"github.com/ETAnderson/productimporter/internal/state"
	"github.com/ETAnderson/productimporter/internal/webhook"
)

// importer runs one CSV file through the same pipeline the API uses and
// prints the final session as JSON. Exit status is 1 when the import fails.
func main() {
	var (
		file      = flag.String("file", "", "path to the CSV file to import")
		batchSize = flag.Int("batch", 0, "rows per write batch (default IMPORT_BATCH_SIZE)")
		notify    = flag.Bool("notify", true, "deliver bulk_import_completed to webhook subscribers")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "usage: importer -file products.csv")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logging.NewWithWriter(os.Stderr, "importer", cfg.Env, cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	factoryRes, err := state.NewStore(ctx, state.FactoryConfig{
		Backend:        cfg.StateBackend,
		MySQLDSN:       cfg.MySQLDSN,
		SQLitePath:     cfg.SQLitePath,
		RunMigrations:  cfg.RunMigrations,
		SessionBackend: cfg.SessionBackend,
		RedisURL:       cfg.RedisURL,
		SessionTTL:     cfg.SessionTTL,
	})
	if err != nil {
		log.WithError(err).Fatal("state store init failed")
	}
	defer factoryRes.Close()
	store := factoryRes.Store

	bus := events.NewBus(context.WithoutCancel(ctx), log)
	if *notify {
		bus.Subscribe(webhook.NewDispatcher(store, nil, webhook.Config{
			Timeout:     cfg.Webhook.Timeout,
			MaxRetries:  cfg.Webhook.MaxRetries,
			Backoff:     cfg.Webhook.Backoff,
			Concurrency: cfg.Webhook.Concurrency,
			RatePerSec:  cfg.Webhook.RatePerSec,
		}, nil, log))
	}

	f, err := os.Open(*file)
	if err != nil {
		log.WithError(err).Fatal("open file failed")
	}
	upload, err := ingest.Intake{MaxBytes: cfg.Import.MaxUploadBytes, SpoolDir: cfg.Import.SpoolDir}.Accept(f.Name(), f)
	_ = f.Close()
	if err != nil {
		log.WithError(err).Fatal("file rejected")
	}

	size := cfg.Import.BatchSize
	if *batchSize > 0 {
		size = *batchSize
	}

	coord := importer.New(importer.Options{
		Records:       store,
		Sessions:      store,
		Events:        bus,
		Log:           log,
		BatchSize:     size,
		ErrorLogLimit: cfg.Import.ErrorLogLimit,
	})

	sess, err := coord.Import(ctx, upload)
	bus.Wait()
	if err != nil {
		log.WithError(err).Fatal("import failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sess)

	if sess.Status != domain.ImportStatusCompleted {
		os.Exit(1)
	}
}
