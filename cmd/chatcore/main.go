package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatcore/internal/analytics"
	"chatcore/internal/broker/kafka"
	"chatcore/internal/cache"
	"chatcore/internal/config"
	"chatcore/internal/httpapi"
	"chatcore/internal/hub"
	"chatcore/internal/keys"
	"chatcore/internal/moderation"
	"chatcore/internal/obs"
	"chatcore/internal/store"
	mongostore "chatcore/internal/store/mongo"
	"chatcore/internal/tasks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration invalid", "error", err)
		os.Exit(1)
	}
	logger := obs.NewLogger(cfg.Env)

	app, cleanup, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	go app.dispatcher.Run(ctx)
	go app.cleanupSchedule(ctx)

	server := httpapi.NewServer(cfg, obs.Middleware{Logger: obs.Component(logger, "http")}, obs.HealthHandlers{
		Ready: app.ready,
	}, app.handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		app.hub.Close()
	}()

	logger.Info("chatcore starting", "addr", cfg.HTTPAddr, "env", cfg.Env)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chatcore stopped")
}

type application struct {
	cfg        config.Config
	log        *slog.Logger
	hub        *hub.Hub
	dispatcher *tasks.Dispatcher
	handlers   httpapi.Handlers
	readyFns   []func(context.Context) error
}

func (a *application) ready() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, fn := range a.readyFns {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// cleanupSchedule enqueues a retention sweep once a day. Replays are safe:
// the sweep recomputes its cutoff from the current clock.
func (a *application) cleanupSchedule(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.dispatcher.Enqueue(ctx, tasks.KindCleanup, tasks.CleanupPayload{}); err != nil {
				a.log.Error("schedule cleanup failed", "error", err)
			}
		}
	}
}

func buildApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, func(), error) {
	app := &application{cfg: cfg, log: logger}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// Persistence. Without a reachable mongo the process runs on the
	// in-memory store, which is only useful for development.
	var st store.Store
	var jobStore tasks.JobStore
	var keyStore keys.Store
	client, err := mongostore.New(cfg.MongoURI, cfg.MongoDatabase)
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = client.Ping(pingCtx)
		cancel()
	}
	if err != nil {
		logger.Warn("mongo unavailable, using in-memory stores", "error", err)
		st = store.NewMemory()
		memJobs := tasks.NewMemoryJobStore()
		memJobs.Lease = cfg.JobLease
		jobStore = memJobs
		keyStore = keys.NewMemoryStore()
	} else {
		st = mongostore.NewStore(client.DB)
		keyStore = keys.NewMongoStore(client.DB)
		mongoJobs, err := tasks.NewMongoJobStore(ctx, client.DB)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		mongoJobs.Lease = cfg.JobLease
		jobStore = mongoJobs
		closers = append(closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("mongo disconnect failed", "error", err)
			}
		})
		app.readyFns = append(app.readyFns, client.Ping)
	}

	// Shared presence and recency cache. Optional: the core works without
	// it, with presence scoped to this instance.
	var roster hub.Roster
	var recents httpapi.Recents
	var online httpapi.OnlineIndex
	redisCache := cache.New(cfg.RedisAddr, cfg.RedisPassword)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = redisCache.Ping(pingCtx)
	cancel()
	if err != nil {
		logger.Warn("redis unavailable, presence cache disabled", "error", err)
		redisCache.Close()
	} else {
		roster = redisCache
		recents = redisCache
		online = redisCache
		closers = append(closers, func() {
			if err := redisCache.Close(); err != nil {
				logger.Warn("redis close failed", "error", err)
			}
		})
	}

	// Analytics bus. Optional as well; snapshots still serve over REST.
	var publisher analytics.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			logger.Warn("kafka unavailable, analytics publishing disabled", "error", err)
		} else {
			publisher = producer
			closers = append(closers, func() {
				if err := producer.Close(); err != nil {
					logger.Warn("kafka close failed", "error", err)
				}
			})
		}
	}

	analyticsSvc := analytics.NewService(st, publisher, cfg.KafkaTopic, obs.Component(logger, "analytics"))

	sender := tasks.NewWebhookSender(cfg.WebhookURLs, cfg.WebhookSecret, cfg.WebhookTimeout, obs.Component(logger, "webhook"))
	app.dispatcher = tasks.NewDispatcher(jobStore, obs.Component(logger, "tasks"), tasks.Options{
		Workers:      cfg.Workers,
		PollInterval: cfg.PollInterval,
		RetryBase:    cfg.RetryBase,
		RetryCap:     cfg.RetryCap,
		MaxAttempts:  map[string]int{tasks.KindWebhook: cfg.WebhookAttempts},
	},
		&tasks.WebhookExecutor{Sender: sender},
		&tasks.ReviewExecutor{Sender: sender},
		&tasks.AnalyticsExecutor{Service: analyticsSvc},
		&tasks.CleanupExecutor{Messages: st, Retention: cfg.MessageRetention, Log: obs.Component(logger, "cleanup")},
	)

	gate := &moderation.Gate{
		Oracle:         moderation.NewPatternOracle(),
		FlagThreshold:  cfg.FlagThreshold,
		BlockThreshold: cfg.BlockThreshold,
		Timeout:        cfg.ModerationTimeout,
		FailOpen:       cfg.ModerationFailOpen,
		Logger:         obs.Component(logger, "moderation"),
	}

	app.hub = hub.NewHub(hub.Deps{
		Logger:            obs.Component(logger, "hub"),
		Store:             st,
		Keys:              keyStore,
		Gate:              gate,
		Tasks:             app.dispatcher,
		Roster:            roster,
		TypingExpiry:      cfg.TypingExpiry,
		SendQueueSize:     cfg.SendQueueSize,
		MaxProtocolErrors: cfg.MaxProtocolErrors,
		PersistTimeout:    cfg.PersistTimeout,
	})

	chatHandler := httpapi.ChatHandler{
		Hub:       app.hub,
		Store:     st,
		Keys:      keyStore,
		Analytics: analyticsSvc,
		Tasks:     app.dispatcher,
		Recents:   recents,
		Online:    online,
		Logger:    obs.Component(logger, "api"),
	}
	auth := httpapi.AuthMiddleware{
		Resolver: httpapi.StaticResolver(cfg.AuthTokens),
		Logger:   obs.Component(logger, "auth"),
	}
	app.handlers = httpapi.Handlers{
		Chat:           chatHandler,
		WS:             httpapi.NewWSHandler(app.hub, obs.Component(logger, "ws")),
		AuthMiddleware: auth.Handle,
	}
	return app, cleanup, nil
}
