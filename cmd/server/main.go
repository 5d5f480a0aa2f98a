package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/publish-scheduler/config"
	"github.com/d60-Lab/publish-scheduler/internal/api"
	"github.com/d60-Lab/publish-scheduler/internal/api/handler"
	"github.com/d60-Lab/publish-scheduler/internal/catalog"
	"github.com/d60-Lab/publish-scheduler/internal/dispatcher"
	"github.com/d60-Lab/publish-scheduler/internal/events"
	"github.com/d60-Lab/publish-scheduler/internal/publisher"
	"github.com/d60-Lab/publish-scheduler/internal/repository"
	"github.com/d60-Lab/publish-scheduler/internal/service"
	"github.com/d60-Lab/publish-scheduler/pkg/database"
	"github.com/d60-Lab/publish-scheduler/pkg/logger"
	"github.com/d60-Lab/publish-scheduler/pkg/sentryx"
	"github.com/d60-Lab/publish-scheduler/pkg/tracing"
)

const streamMaxLen = 100000

// @title Publish Scheduler API
// @version 1.0
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := sentryx.Init(cfg.Sentry.DSN, cfg.Sentry.Environment); err != nil {
		logger.Warn("sentry init failed", zap.Error(err))
	}
	defer sentryx.Flush()

	shutdownTracing, err := tracing.Init(context.Background(), cfg.Tracing)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(db); err != nil {
			logger.Fatal("migrate failed", zap.Error(err))
		}
	}
	store := repository.NewStore(db)

	cipher, err := catalog.NewSecretboxCipher(cfg.Credentials.SecretKey)
	if err != nil {
		logger.Fatal("credentials key invalid", zap.Error(err))
	}
	cat := catalog.New(db, cipher)

	registry := publisher.NewRegistry(cfg.Dispatcher.PublishTimeout, cfg.Publishers.RatePerSecond, cfg.Publishers.Burst)
	client := &http.Client{Timeout: cfg.Dispatcher.PublishTimeout}
	for platform, endpoint := range cfg.Publishers.Webhooks {
		registry.Register(publisher.NewWebhookPublisher(platform, endpoint, client))
	}
	logger.Info("publishers registered", zap.Strings("platforms", registry.Platforms()))

	svc := service.NewScheduleService(store, cat,
		service.WithHorizon(time.Duration(cfg.Dispatcher.HorizonDays)*24*time.Hour))

	// outbox 投递：配置了 redis 走 stream，否则只打日志
	var broker events.Broker = events.LogBroker{}
	var rdb *redis.Client
	if cfg.Events.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
		broker = events.NewRedisStreamBroker(rdb, cfg.Events.Stream, streamMaxLen)
	}
	stops := []namedStop{{"relay", events.NewRelay(store.Outbox, broker, cfg.Events.ClaimLimit, cfg.Events.RelayInterval).Start()}}

	if cfg.Dispatcher.Enabled {
		retry := dispatcher.RetryPolicy{
			MaxAttempts: cfg.Dispatcher.MaxAttempts,
			Base:        cfg.Dispatcher.BackoffBase,
			Max:         cfg.Dispatcher.BackoffMax,
		}
		d := dispatcher.New(store, cat, registry, dispatcher.Config{
			PollInterval: cfg.Dispatcher.PollInterval,
			BatchLimit:   cfg.Dispatcher.BatchLimit,
			Workers:      cfg.Dispatcher.Workers,
			Retry:        retry,
		})
		stops = append(stops, namedStop{"dispatcher", d.Start()})
		stopWatchdog, err := dispatcher.NewWatchdog(store, retry, cfg.Dispatcher.StuckTimeout, cfg.Dispatcher.WatchdogSpec).Start()
		if err != nil {
			logger.Fatal("watchdog start failed", zap.Error(err))
		}
		stops = append(stops, namedStop{"watchdog", stopWatchdog})
	}

	health := func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return err
		}
		if rdb != nil {
			return rdb.Ping(ctx).Err()
		}
		return nil
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(cfg, handler.NewHandler(svc), health),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	// 先停调度器，后停 relay，保证最后一批 outbox 事件有机会投递
	for i := len(stops) - 1; i >= 0; i-- {
		if err := stops[i].stop(ctx); err != nil {
			logger.Error("stop "+stops[i].name, zap.Error(err))
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Error("tracing shutdown", zap.Error(err))
	}
	if err := database.Close(db); err != nil {
		logger.Error("database close", zap.Error(err))
	}
}

type namedStop struct {
	name string
	stop func(context.Context) error
}
