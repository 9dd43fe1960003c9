// Fechatter messaging core - API service
//
// Entry point and orchestrator for the messaging substrate: transactional
// persistence and sequencing (Store, Sequencer), bearer-token identity
// (Identity Gate), the send/edit/delete pipeline (Message Service), read
// receipts, the transactional-outbox event bus, real-time fan-out over
// SSE, presence/typing tracking, and best-effort search indexing.
//
// STARTUP SEQUENCE:
// 1. Load configuration
// 2. Structured logging
// 3. Worker pools (outbox publisher, presence/typing sweep)
// 4. Postgres connection + migration
// 5. Redis connection + stream event bus
// 6. Identity Gate, Message Service, Receipt Tracker, Presence Tracker,
//    Search Indexer, Fan-out Gateway
// 7. Fiber app + middleware + routes
// 8. Background workers (outbox publisher loop, typing sweep ticker)
// 9. Graceful shutdown
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fechatter/messaging-core/internal/config"
	"github.com/fechatter/messaging-core/internal/eventbus"
	"github.com/fechatter/messaging-core/internal/fanout"
	"github.com/fechatter/messaging-core/internal/httpapi"
	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/fechatter/messaging-core/internal/messaging"
	"github.com/fechatter/messaging-core/internal/model"
	"github.com/fechatter/messaging-core/internal/presence"
	"github.com/fechatter/messaging-core/internal/receipts"
	"github.com/fechatter/messaging-core/internal/searchindex"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/fechatter/messaging-core/internal/workerpool"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	// PHASE 1: CONFIGURATION
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration: ", err)
	}

	// PHASE 2: LOGGING
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.Server.Environment == "development" {
		opts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))

	// PHASE 3: WORKER POOLS
	pool := workerpool.NewManager(workerpool.Config{PublisherWorkers: 4, SweepWorkers: 1})

	// PHASE 4: DATABASE
	slog.Info("connecting to postgres")
	db, err := store.Open(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		log.Fatal(err)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.Migrate(migrateCtx); err != nil {
		slog.Error("database migration failed", "error", err)
		log.Fatal(err)
	}
	migrateCancel()
	slog.Info("database ready")

	// PHASE 5: REDIS EVENT BUS
	redisAddr := strings.TrimPrefix(cfg.Redis.URL, "redis://")
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisAddr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis not reachable at startup; event bus will retry lazily", "error", err)
	} else {
		slog.Info("redis connection established", "addr", redisAddr)
	}
	pingCancel()
	bus := eventbus.NewRedisStreamBus(redisClient)

	// PHASE 6: DOMAIN COMPONENTS
	gate, err := identitygate.New(db, cfg.Identity)
	if err != nil {
		slog.Error("failed to initialize identity gate", "error", err)
		log.Fatal(err)
	}

	messagesService := messaging.NewService(db)
	receiptTracker := receipts.NewTracker(db)

	presenceTracker := presence.NewTracker(db,
		time.Duration(cfg.Gateway.PresenceOfflineDelaySecs)*time.Second,
		time.Duration(cfg.Gateway.TypingTTLSecs)*time.Second)
	wireOutboxEmitters(presenceTracker, db)

	var indexer searchindex.Indexer = searchindex.NoopIndexer{}
	if cfg.Search.Enabled {
		indexer = searchindex.NewHTTPIndexer(cfg.Search)
	}
	searchSync := searchindex.NewSync(db, indexer)

	gateway := fanout.NewGateway(db, bus,
		time.Duration(cfg.Gateway.HeartbeatIntervalSecs)*time.Second,
		time.Duration(cfg.Gateway.IdleTimeoutSecs)*time.Second,
		cfg.Gateway.BufferSize)

	// PHASE 7: FIBER APP
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		ErrorHandler: httpapi.ErrorHandler(),
	})
	app.Use(recover.New())
	app.Use(httpapi.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Gate: gate, Store: db, Messages: messagesService, Receipts: receiptTracker,
		Presence: presenceTracker, Gateway: gateway, Pool: pool,
	})

	// PHASE 8: BACKGROUND WORK
	bgCtx, bgCancel := context.WithCancel(context.Background())
	publisher := eventbus.NewPublisher(db, bus, pool)
	publisher.OnPublish(searchSync.HandleEvent)
	go publisher.Run(bgCtx)

	sweepTicker := time.NewTicker(time.Second)
	go func() {
		for {
			select {
			case <-bgCtx.Done():
				sweepTicker.Stop()
				return
			case <-sweepTicker.C:
				pool.SubmitSweep(presenceTracker.SweepExpiredTyping)
			}
		}
	}()

	// PHASE 9: GRACEFUL SHUTDOWN
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down")
		bgCancel()
		pool.Shutdown()
		redisClient.Close()
		if err := db.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
		if err := app.Shutdown(); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		slog.Info("shutdown complete")
		os.Exit(0)
	}()

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting fechatter messaging core", "address", addr, "environment", cfg.Server.Environment)
	if err := app.Listen(addr); err != nil {
		slog.Error("server failed to start", "error", err)
		pool.Shutdown()
		log.Fatal(err)
	}
}

// wireOutboxEmitters connects the in-memory Presence Tracker's callbacks
// to the durable outbox, so presence and typing changes reach the Fan-out
// Gateway the same way message events do (spec.md §4.8).
func wireOutboxEmitters(tracker *presence.Tracker, db *store.Store) {
	tracker.OnPresenceChange(func(ev model.PresenceChanged) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.WriteOutboxEvent(ctx, "presence", ev.UserID, uuid.Nil, 0, model.EventPresenceChanged, ev); err != nil {
			slog.Error("failed to write presence outbox event", "user_id", ev.UserID, "error", err)
		}
	})
	tracker.OnTypingChange(func(ev model.TypingChanged) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.WriteOutboxEvent(ctx, "typing", ev.UserID, ev.ChatID, 0, model.EventTypingChanged, ev); err != nil {
			slog.Error("failed to write typing outbox event", "chat_id", ev.ChatID, "error", err)
		}
	})
}
