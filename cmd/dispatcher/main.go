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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/credit-dispatch/internal/api"
	"github.com/LeventeLantos/credit-dispatch/internal/cache"
	"github.com/LeventeLantos/credit-dispatch/internal/client"
	"github.com/LeventeLantos/credit-dispatch/internal/config"
	"github.com/LeventeLantos/credit-dispatch/internal/logger"
	"github.com/LeventeLantos/credit-dispatch/internal/repo"
	"github.com/LeventeLantos/credit-dispatch/internal/scheduler"
	"github.com/LeventeLantos/credit-dispatch/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("credit-dispatch exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repo.NewPool(ctx, cfg.Database.PostgresURL, cfg.Database.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := repo.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info("schema migrated")
	}

	recipients := repo.NewPostgresRecipientRepo(pool)
	ledgerRepo := repo.NewPostgresLedgerRepo(pool)
	history := repo.NewPostgresHistoryRepo(pool)

	gw := client.NewGatewayClient(cfg.Gateway.URL, client.Credentials{
		ProfileID: cfg.Gateway.ProfileID,
		Password:  cfg.Gateway.Password,
		SenderID:  cfg.Gateway.SenderID,
	}, client.WithRateLimit(cfg.Gateway.RatePerSec))

	dispatcher := service.NewDispatcher(gw, service.DispatcherConfig{
		Strategy:    cfg.Dispatch.Strategy,
		BatchSize:   cfg.Dispatch.BatchSize,
		FanOut:      cfg.Dispatch.FanOut,
		BatchDelay:  cfg.Dispatch.BatchDelay,
		CallTimeout: cfg.Gateway.Timeout,
		Normalize:   client.Normalizer(cfg.Gateway.Region),
	}, log)

	ledger := service.NewLedger(ledgerRepo, cfg.Reservation.TTL)
	orch := service.NewOrchestrator(
		service.NewResolver(recipients, cfg.Dispatch.PageSize, cfg.Dispatch.MaxRecipients),
		ledger,
		history,
		dispatcher,
		service.Options{
			DebitPolicy: cfg.Dispatch.DebitPolicy,
			ContentMax:  cfg.Dispatch.ContentMax,
		},
		log,
	)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, dispatch results will not be cached", "err", err)
		} else {
			orch.WithCache(cache.NewRedisCache(rdb, cfg.Redis.TTL))
		}
	}

	sweeper, err := scheduler.NewSweeper(cfg.Reservation.SweepInterval, ledger, log)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(api.NewHandler(orch, sweeper))),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info("credit-dispatch starting",
		"addr", cfg.Server.Address,
		"strategy", cfg.Dispatch.Strategy,
		"debit_policy", cfg.Dispatch.DebitPolicy,
		"batch_size", cfg.Dispatch.BatchSize,
		"redis", cfg.Redis.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
