package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/api"
	"github.com/ETAnderson/productimporter/internal/api/auth"
	"github.com/ETAnderson/productimporter/internal/catalog"
	"github.com/ETAnderson/productimporter/internal/config"
	"github.com/ETAnderson/productimporter/internal/events"
	"github.com/ETAnderson/productimporter/internal/importer"
	"github.com/ETAnderson/productimporter/internal/ingest"
	"github.com/ETAnderson/productimporter/internal/logging"
	"github.com/ETAnderson/productimporter/internal/metrics"
	"github.com/ETAnderson/productimporter/internal/state"
	"github.com/ETAnderson/productimporter/internal/webhook"
	"github.com/ETAnderson/productimporter/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logging.New("api-service", cfg.Env, cfg.LogLevel, cfg.LogFormat)

	log.WithFields(logrus.Fields{
		"env":             cfg.Env,
		"state_backend":   cfg.StateBackend,
		"session_backend": cfg.SessionBackend,
		"db_dsn_set":      cfg.MySQLDSN != "",
		"nats_enabled":    cfg.NATSURL != "",
	}).Info("starting")

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	factoryRes, err := state.NewStore(baseCtx, state.FactoryConfig{
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

	var pub *rsa.PublicKey
	if cfg.AuthRequired {
		pub, err = auth.LoadRSAPublicKeyFromEnv("JWT_PUBLIC_KEY_PEM")
		if err != nil {
			log.WithError(err).Fatal("auth is required but no public key is available")
		}
	} else if k, err := auth.LoadRSAPublicKeyFromEnv("JWT_PUBLIC_KEY_PEM"); err == nil {
		pub = k
	}

	m := metrics.New()

	disp := webhook.NewDispatcher(store, &http.Client{}, webhook.Config{
		Timeout:     cfg.Webhook.Timeout,
		MaxRetries:  cfg.Webhook.MaxRetries,
		Backoff:     cfg.Webhook.Backoff,
		Concurrency: cfg.Webhook.Concurrency,
		RatePerSec:  cfg.Webhook.RatePerSec,
	}, m, log)

	bus := events.NewBus(baseCtx, log, disp)

	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubjectPrefix, log)
		if err != nil {
			log.WithError(err).Fatal("nats connect failed")
		}
		defer nc.Close()
		bus.Subscribe(nc)
	}

	coord := importer.New(importer.Options{
		Records:       store,
		Sessions:      store,
		Events:        bus,
		Metrics:       m,
		Log:           log,
		BatchSize:     cfg.Import.BatchSize,
		ErrorLogLimit: cfg.Import.ErrorLogLimit,
	})
	pool := worker.NewPool(baseCtx, cfg.Import.Concurrency, coord, log)
	coord.UsePool(pool)

	handler := api.NewRouter(api.Deps{
		Store: store,
		Intake: ingest.Intake{
			MaxBytes: cfg.Import.MaxUploadBytes,
			SpoolDir: cfg.Import.SpoolDir,
		},
		Imports:      coord,
		Catalog:      catalog.NewService(store, bus, log),
		Dispatcher:   disp,
		Metrics:      m,
		Log:          log,
		AuthRequired: cfg.AuthRequired,
		PublicKey:    pub,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("listening")

		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server error")
			os.Exit(1)
		}
	}()

	waitForShutdown(log, server, pool, bus)
}

// waitForShutdown stops accepting requests, lets running imports finish and
// flushes pending webhook deliveries.
func waitForShutdown(log *logrus.Entry, server *http.Server, pool *worker.Pool, bus *events.Bus) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = server.Shutdown(ctx)

	pool.Close()
	pool.Wait()
	bus.Wait()

	log.Info("shutdown complete")
}
