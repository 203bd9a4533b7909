package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medihub/booking-sync/internal/booking"
	"github.com/medihub/booking-sync/internal/config"
	"github.com/medihub/booking-sync/internal/db"
	redisclient "github.com/medihub/booking-sync/internal/redis"
	"github.com/medihub/booking-sync/internal/registry"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "resync-worker").Logger()
	log.Info().Msg("resync-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("configured")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	transport, err := registry.Select(registry.Config{
		DirectDSN:   cfg.RegistryDBDSN,
		BridgeURL:   cfg.RegistryBridgeURL,
		BridgeToken: cfg.RegistryBridgeToken,
		Timeout:     cfg.RegistryTimeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("registry transport error")
	}
	if transport.Mode() == registry.ModeNone {
		log.Warn().Msg("no registry transport configured, nothing to resync; exiting")
		return
	}

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisIdentityLocker(rdb, cfg.IdentityLockTTL)
	reconciler := booking.NewReconciler(repo, locker, transport, log)
	svc := booking.NewService(repo, reconciler, transport, cfg, log)

	// Run once at startup
	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping resync worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	synced, err := svc.ResyncPending(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("resync run error")
		return
	}
	log.Info().Int("synced", synced).Dur("took", time.Since(start)).Msg("resync run complete")
}
