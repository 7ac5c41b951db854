package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"acmeshop/internal/config"
	"acmeshop/internal/events"
	httpapi "acmeshop/internal/http"
	"acmeshop/internal/idempotency"
	"acmeshop/internal/observability"
	"acmeshop/internal/repository"
	"acmeshop/internal/service"

	_ "acmeshop/docs"
)

func main() {
	// .env необязателен
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped with error", zap.Error(err))
	}
	logger.Info("service stopped")
}

type storage interface {
	repository.UnitOfWork
	httpapi.Pinger
}

func openStorage(ctx context.Context, cfg config.Config) (storage, func(), error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		s, err := repository.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.DriverPostgres:
		s, err := repository.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return repository.NewMemoryStore(), func() {}, nil
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage %s: %w", cfg.StorageDriver, err)
	}
	defer closeStore()
	logger.Info("storage ready", zap.String("driver", cfg.StorageDriver))

	g, gctx := errgroup.WithContext(ctx)

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(
			events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic),
			cfg.ServiceName, 1024, logger.Named("events"))
		g.Go(func() error { return kp.Run(gctx) })
		publisher = kp
		logger.Info("kafka publisher enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	opts := []httpapi.Option{
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithHealthCheck("storage", store),
	}
	if cfg.RedisAddr != "" {
		rdb := idempotency.NewRedisClient(cfg.RedisAddr)
		defer func() { _ = rdb.Close() }()
		idem := idempotency.NewRedisStore(rdb, idempotency.DefaultTTL)
		opts = append(opts, httpapi.WithIdempotencyStore(idem), httpapi.WithHealthCheck("redis", idem))
	}

	productsSvc := service.NewProductService(store, logger.Named("products"))
	ordersSvc := service.NewOrderService(store, publisher, logger.Named("orders"))
	srv := httpapi.NewServer(productsSvc, ordersSvc, opts...)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(sctx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func init() {
	if os.Getenv("GIN_MODE") == "" {
		_ = os.Setenv("GIN_MODE", "release")
	}
}
