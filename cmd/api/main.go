package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"masjidpay/internal/config"
	"masjidpay/internal/core/reconcile"
	httpx "masjidpay/internal/http"
	"masjidpay/internal/obs"
	"masjidpay/internal/provider"
	"masjidpay/internal/provider/billplz"
	"masjidpay/internal/provider/toyyibpay"
	"masjidpay/internal/services/payment"
	"masjidpay/internal/services/resolver"
	"masjidpay/internal/store/postgres"
	redisstore "masjidpay/internal/store/redis"
)

func main() {
	cfg := config.Load()
	obs.SetupLogger(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init DB
	pool := postgres.MustOpen(ctx, cfg.DB.DSN)
	defer pool.Close()
	contributions := postgres.NewContributionRepository(pool)
	providerConfigs := postgres.NewProviderConfigRepository(pool)
	callbacks := postgres.NewCallbackEventRepository(pool)

	metrics := obs.NewPaymentMetrics("masjidpay", prometheus.DefaultRegisterer)

	// Gateway adapters share one client; the timeout bounds every outbound call.
	client := &http.Client{Timeout: cfg.Gateway.Timeout}
	bp := billplz.New(client, billplz.Endpoints{
		Production: cfg.Gateway.BillplzURL,
		Sandbox:    cfg.Gateway.BillplzSandboxURL,
	})
	bp.SetObserver(metrics)
	tp := toyyibpay.New(client, toyyibpay.Endpoints{
		Production: cfg.Gateway.ToyyibPayURL,
		Sandbox:    cfg.Gateway.ToyyibPaySandboxURL,
	})
	tp.SetObserver(metrics)
	registry := provider.NewRegistry(bp, tp)

	opts := []payment.Option{
		payment.WithRecorder(metrics),
		payment.WithPersistBackoff(payment.DefaultPersistBackoff(uint64(cfg.Gateway.PersistRetryMax))),
	}
	if cfg.Redis.Addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; callback guard falls back to stored fingerprints")
		}
		opts = append(opts, payment.WithGuard(redisstore.NewCallbackGuard(rdb, cfg.Redis.DedupTTL)))
	}

	svc := payment.NewService(
		registry,
		resolver.New(providerConfigs, registry, cfg.Sec.AESKey),
		contributions,
		callbacks,
		cfg.App.CallbackBaseURL,
		opts...,
	)

	// Start reconciliation worker
	worker := reconcile.NewWorker(contributions, svc, cfg.Reconcile.Every, cfg.Reconcile.StaleAfter, cfg.Reconcile.Batch)
	go worker.Run(ctx)

	r := httpx.NewRouter(httpx.RouterDependencies{
		Config:   cfg,
		Payments: svc,
		Registry: registry,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("env", cfg.App.Env).Msgf("masjidpay API listening on :%s", cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	cancel()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	log.Info().Msg("server stopped")
}
