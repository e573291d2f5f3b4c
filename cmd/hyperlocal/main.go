package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sneakloop/hyperlocal/internal/api"
	"github.com/sneakloop/hyperlocal/internal/feed"
	"github.com/sneakloop/hyperlocal/internal/heat"
	"github.com/sneakloop/hyperlocal/internal/infrastructure/config"
	"github.com/sneakloop/hyperlocal/internal/ranking"
	"github.com/sneakloop/hyperlocal/internal/realtime"
	"github.com/sneakloop/hyperlocal/internal/store"
	"github.com/sneakloop/hyperlocal/internal/tradematch"
	"github.com/sneakloop/hyperlocal/internal/worker"
	"github.com/sneakloop/hyperlocal/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(cfg, log); err != nil {
		log.Fatal("service exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.DSN, log)
	if err != nil {
		return err
	}
	repo := store.NewRepository(db, log)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	bus := feed.NewBus(repo, feed.NewRedisPublisher(redisClient), log)
	svc := feed.NewService(repo, bus, log)

	heatEngine := heat.NewEngine(repo, log)
	rankEngine := ranking.NewEngine(repo, log)
	matchEngine := tradematch.NewEngine(repo, log)

	pool := worker.NewPool(log)
	pool.Register("ranking", cfg.Jobs.RankingInterval, func(ctx context.Context) error {
		return rankEngine.RunPass(ctx, nil)
	})
	pool.Register("heat", cfg.Jobs.HeatInterval, heatEngine.RunPass)
	pool.Register("trade_match", cfg.Jobs.MatchInterval, matchEngine.RunPass)
	pool.Register("cleanup", cfg.Jobs.CleanupInterval, func(ctx context.Context) error {
		now := time.Now().UTC()
		expired, err := repo.ExpireListings(ctx, now)
		if err != nil {
			return err
		}
		closed, err := repo.ExpireMatches(ctx, now)
		if err != nil {
			return err
		}
		events, err := repo.DeleteEventsBefore(ctx, now.Add(-cfg.Jobs.EventRetention))
		if err != nil {
			return err
		}
		activity, err := repo.PurgeActivityBefore(ctx, now.Add(-cfg.Jobs.ActivityRetention))
		if err != nil {
			return err
		}
		log.Info("cleanup pass finished",
			zap.Int64("listings_expired", expired),
			zap.Int64("matches_expired", closed),
			zap.Int64("events_purged", events),
			zap.Int64("activity_purged", activity))
		return nil
	})
	pool.Start(ctx)

	hub := realtime.NewHub(realtime.NewRedisBroker(redisClient), log)
	server := api.NewServer(cfg.Server.Mode, svc, matchEngine, repo, hub, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("hyperlocal feed listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown did not finish cleanly", zap.Error(err))
	}
	pool.Wait()
	return nil
}
