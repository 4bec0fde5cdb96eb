// Copyright 2025 Mech Services, Inc.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dundas/mech-queue/internal/api"
	"github.com/dundas/mech-queue/internal/backend"
	"github.com/dundas/mech-queue/internal/config"
	"github.com/dundas/mech-queue/internal/events"
	"github.com/dundas/mech-queue/internal/handlers"
	"github.com/dundas/mech-queue/internal/obs"
	"github.com/dundas/mech-queue/internal/queue"
	"github.com/dundas/mech-queue/internal/reaper"
	"github.com/dundas/mech-queue/internal/schedule"
	"github.com/dundas/mech-queue/internal/subscription"
	"github.com/dundas/mech-queue/internal/tenant"
	"github.com/dundas/mech-queue/internal/tracker"
	"github.com/dundas/mech-queue/internal/worker"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: api|worker|scheduler|all")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	slogger := obs.NewSlogLogger(cfg.Observability.LogLevel)

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	// Redis-backed queue state
	rdb := backend.NewClient(cfg)
	defer rdb.Close()
	kv := backend.New(rdb)

	// Document store; stores fall back to in-memory when no URI is set
	// (single-node runs and tests).
	var mongoDB *mongo.Database
	if cfg.Mongo.URI != "" {
		mctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
		client, err := mongo.Connect(mctx, options.Client().ApplyURI(cfg.Mongo.URI))
		cancel()
		if err != nil {
			logger.Fatal("mongo connect failed", obs.Err(err))
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		mongoDB = client.Database(cfg.Mongo.Database)
	}

	var (
		appStore   tenant.Store
		subStore   subscription.Store
		schedStore schedule.Store
	)
	if mongoDB != nil {
		appStore = tenant.NewMongoStore(mongoDB)
		subStore = subscription.NewMongoStore(mongoDB)
		schedStore = schedule.NewMongoStore(mongoDB)
	} else {
		logger.Warn("no mongo.uri configured, using in-memory stores")
		appStore = tenant.NewMemoryStore()
		subStore = subscription.NewMemoryStore()
		schedStore = schedule.NewMemoryStore()
	}

	bus := events.NewBus(logger)
	mgr := queue.NewManager(cfg, kv, bus, logger)
	registry := tenant.NewRegistry(appStore, cfg.Server.MasterAPIKey, logger)
	tr := tracker.New(mgr, bus, logger)
	schedSvc := schedule.NewService(schedStore, mgr, cfg.Scheduler.TickInterval, logger)

	mirror, err := subscription.NewNATSMirror(cfg.NATS.URL, cfg.NATS.Subject, slogger)
	if err != nil {
		logger.Warn("nats mirror unavailable", obs.Err(err))
	}
	defer mirror.Close()

	fanout := subscription.NewFanout(subStore, slogger, mirror)
	defer fanout.Close()
	bus.Subscribe(fanout)
	defer bus.Close()

	readyCheck := func(c context.Context) error {
		if err := kv.Ping(c); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		if mongoDB != nil {
			if err := mongoDB.Client().Ping(c, readpref.Primary()); err != nil {
				return fmt.Errorf("mongo: %w", err)
			}
		}
		return nil
	}

	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(10 * time.Second):
		}
	}()

	if err := registry.Warm(ctx); err != nil {
		logger.Warn("tenant cache warm failed", obs.Err(err))
	}

	var wg sync.WaitGroup
	runAll := role == "all"

	if runAll || role == "worker" || role == "scheduler" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reaper.New(kv, 5*time.Second, logger).Run(ctx)
		}()
	}

	if runAll || role == "worker" {
		rt := worker.NewRuntime(cfg, mgr, logger)
		mustRegister := func(q string, concurrency int, h worker.Handler) {
			if err := rt.Register(q, concurrency, h); err != nil {
				logger.Fatal("handler registration failed", obs.String("queue", q), obs.Err(err))
			}
		}
		mustRegister("webhook", 0, handlers.NewWebhook())
		mustRegister("email", 0, handlers.NewEmail())
		mustRegister("ai-processing", 0, handlers.NewAIProcessing())
		for _, q := range handlers.PlaceholderQueues {
			mustRegister(q, 0, handlers.NewPlaceholder(q))
		}
		mustRegister(schedule.QueueName, cfg.Scheduler.Concurrency, schedule.NewExecutor(schedStore))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rt.Run(ctx); err != nil {
				logger.Error("worker runtime exited", obs.Err(err))
			}
		}()
	}

	if runAll || role == "scheduler" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			schedSvc.Run(ctx)
		}()
	}

	if runAll || role == "api" {
		audit := api.NewAuditLogger(cfg.Audit)
		defer audit.Close()
		srv := api.NewServer(cfg, registry, mgr, tr, subStore, fanout, schedSvc, audit, readyCheck, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(ctx); err != nil {
				logger.Error("api server exited", obs.Err(err))
				cancel()
			}
		}()
	}

	logger.Info("mech-queue started",
		obs.String("version", version),
		obs.String("role", role))
	wg.Wait()
	logger.Info("shutdown complete")
}
