package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cityportal/payments-backend/api/routes"
	"github.com/cityportal/payments-backend/internal/entities"
	"github.com/cityportal/payments-backend/internal/gateway"
	"github.com/cityportal/payments-backend/internal/idempotency"
	"github.com/cityportal/payments-backend/internal/instruments"
	"github.com/cityportal/payments-backend/internal/ledger"
	"github.com/cityportal/payments-backend/internal/merchants"
	"github.com/cityportal/payments-backend/internal/payments"
	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/db"
	"github.com/cityportal/payments-backend/pkg/logger"
	"github.com/cityportal/payments-backend/pkg/metrics"
	"github.com/cityportal/payments-backend/pkg/migrate"
	"github.com/cityportal/payments-backend/pkg/outbox"
	"github.com/cityportal/payments-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	squareGateway, err := gateway.NewSquare(ctx, gateway.ConfigFrom(cfg.Square), logg, paymentMetrics)
	if err != nil {
		return err
	}

	conn := dbClient.DB()
	ledgerRepo := ledger.NewRepository(conn)
	instrumentRepo := instruments.NewRepository(conn)

	synchronizer, err := entities.NewSynchronizer(entities.NewStore(conn))
	if err != nil {
		return err
	}
	resolver, err := instruments.NewResolver(instruments.ResolverParams{
		Repo:     instrumentRepo,
		Gateway:  squareGateway,
		AllowACH: cfg.FeatureFlags.AllowACH,
		Logger:   logg,
	})
	if err != nil {
		return err
	}
	guard, err := idempotency.NewGuard(ledgerRepo, idempotency.Policy{
		Wait:         cfg.Payments.InFlightWait,
		PollInterval: cfg.Payments.InFlightPollInterval,
	}, paymentMetrics)
	if err != nil {
		return err
	}
	paymentService, err := payments.NewService(payments.ServiceParams{
		Tx:          dbClient,
		Ledger:      ledgerRepo,
		Entities:    synchronizer,
		Merchants:   merchants.NewRepository(conn),
		Instruments: resolver,
		Guard:       guard,
		Gateway:     squareGateway,
		Config:      cfg.Payments,
		Currency:    cfg.Square.Currency,
		Metrics:     paymentMetrics,
		Logger:      logg,
		Events:      outbox.NewService(outbox.NewRepository(conn), logg),
	})
	if err != nil {
		return err
	}
	enroller, err := instruments.NewEnroller(instrumentRepo, squareGateway)
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"square_env": cfg.Square.Environment(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			paymentService,
			enroller,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(serverCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	// In-flight payments finish under their own completion deadline; give them the shutdown window.
	logg.Info(serverCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
