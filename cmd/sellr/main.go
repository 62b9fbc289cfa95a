package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/fjod/sellr/internal/auth"
	"github.com/fjod/sellr/internal/cache"
	"github.com/fjod/sellr/internal/config"
	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/events"
	sellrgrpc "github.com/fjod/sellr/internal/grpc"
	sellrhttp "github.com/fjod/sellr/internal/http"
	"github.com/fjod/sellr/internal/logger"
	"github.com/fjod/sellr/internal/metrics"
	"github.com/fjod/sellr/internal/notice"
	"github.com/fjod/sellr/internal/repository"
	"github.com/fjod/sellr/internal/service"
)

const healthInterval = 10 * time.Second

func main() {
	log := logger.New("sellr")
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("sellr exited with error", "error", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DevMode {
		log.Warn("dev mode is on; do not run this configuration in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Document store
	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Error("failed to close store", "error", err)
		}
	}()

	healthChecks := map[string]sellrgrpc.Pinger{"docstore": store}

	// Redis: history cache and token revocation
	var (
		historyCache cache.HistoryCache
		redisCache   *cache.RedisHistoryCache
		revoked      auth.RevocationList = auth.NewMemoryRevocationList()
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("redis ping succeeded", "addr", cfg.Redis.Addr)

		redisCache = cache.NewRedisHistoryCache(redisClient, cfg.Redis.TTL)
		historyCache = redisCache
		revoked = auth.NewRedisRevocationList(redisClient)
		healthChecks["redis"] = redisPinger{redisClient}
	}

	// Users
	users, closeUsers, err := openUserStore(ctx, cfg.Auth, log)
	if err != nil {
		return err
	}
	defer closeUsers()
	if p, ok := users.(sellrgrpc.Pinger); ok {
		healthChecks["users"] = p
	}

	authSvc := auth.NewService(users, revoked, log, auth.Options{
		Secret:         cfg.Auth.JWTSecret,
		TokenTTL:       cfg.Auth.TokenTTL,
		MinPasswordLen: cfg.Auth.MinPasswordLen,
	})

	// Services
	hub := notice.NewHub()
	orders := repository.NewOrderRepository(store)
	carts := service.NewCartService(repository.NewCartRepository(store), hub, m, log, cfg.Store.WriteTimeout)
	history := service.NewHistoryService(orders, historyCache, m, log)

	checkoutOpts := []service.CheckoutOption{service.WithHistoryInvalidator(history)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Checkout.Currency, log, m)
		defer publisher.Close()
		checkoutOpts = append(checkoutOpts, service.WithOrderEvents(publisher))
		log.Info("publishing order events", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)

		if redisCache != nil {
			consumer := events.NewConsumer(redisCache, log, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
			defer consumer.Close()
			go consumer.Run(ctx)
		}
	}
	checkout := service.NewCheckoutService(carts, orders, hub, m, log, cfg.Store.WriteTimeout, checkoutOpts...)

	// gRPC health
	hc := sellrgrpc.NewHealthChecker(healthChecks, cfg.RequestTimeout, log)
	go hc.Run(ctx, healthInterval)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	grpcServer := sellrgrpc.NewServer(hc)
	go func() {
		log.Info("grpc health listening", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("grpc server error", "error", err)
		}
	}()

	// HTTP. Event streams only end with their request context, which
	// Shutdown does not cancel, so they get their own signal.
	streams, endStreams := context.WithCancel(context.Background())
	defer endStreams()

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: sellrhttp.NewRouter(sellrhttp.RouterConfig{
			Auth:       authSvc,
			Carts:      carts,
			Checkout:   checkout,
			History:    history,
			Hub:        hub,
			Store:      store,
			Gatherer:   reg,
			Log:        log,
			Timeout:    cfg.RequestTimeout,
			AuthPerMin: cfg.Auth.SignInPerMin,
			TrustProxy: cfg.TrustProxy,
			Shutdown:   streams,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	srv.RegisterOnShutdown(endStreams)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("sellr starting", "port", cfg.HTTPPort, "store", cfg.Store.Backend, "users", cfg.Auth.UserStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	grpcServer.GracefulStop()

	// Let detached writes finish before the store goes away.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelDrain()
	if err := checkout.Close(drainCtx); err != nil {
		log.Error("checkout writes did not drain", "error", err)
	}
	if err := carts.Close(drainCtx); err != nil {
		log.Error("cart writes did not drain", "error", err)
	}

	log.Info("server exited")
	return nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (docstore.Store, error) {
	switch cfg.Backend {
	case config.StoreBackendMemory:
		log.Warn("using in-memory document store; data is lost on restart")
		return docstore.NewMemoryStore(), nil
	case config.StoreBackendMongo:
		store, err := docstore.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, err
		}
		if err := store.CreateIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		log.Info("connected to MongoDB", "database", cfg.MongoDBName)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func openUserStore(ctx context.Context, cfg config.AuthConfig, log *slog.Logger) (auth.UserStore, func(), error) {
	switch cfg.UserStore {
	case config.UserStoreMemory:
		return auth.NewMemoryUserStore(), func() {}, nil
	case config.UserStorePostgres:
		users, err := auth.OpenPostgresUserStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := users.RunMigrations(); err != nil {
			users.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("connected to postgres user store")
		return users, func() { users.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown user store %q", cfg.UserStore)
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
