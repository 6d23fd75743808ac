package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elie-6/AI-Email-Parsing-API/internal/config"
	"github.com/elie-6/AI-Email-Parsing-API/internal/httpserver"
	"github.com/elie-6/AI-Email-Parsing-API/internal/mqhandler"
	"github.com/elie-6/AI-Email-Parsing-API/internal/pipeline"
	"github.com/elie-6/AI-Email-Parsing-API/internal/scheduler"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/lock"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/logger"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/mq"
	redisclient "github.com/elie-6/AI-Email-Parsing-API/pkg/redis"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger(cfg.Log)
	defer log.Sync()

	log.Info("Starting pipeline-worker...",
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("redis_addr", cfg.Redis.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Redis
	rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()

	// Pipeline
	p, err := pipeline.Build(ctx, cfg, pipeline.NewMQAlerts(publisher), log)
	if err != nil {
		log.Fatal("Failed to build pipeline", zap.Error(err))
	}
	defer p.Close()

	runLock := lock.NewRunLock(rdb, cfg.Pipeline.ClassifyLockTTL, log.Named("lock"))
	handler := mqhandler.NewTriggerHandler(p, runLock, log.Named("trigger"))

	group, groupCtx := errgroup.WithContext(ctx)

	// MQ consumers，每个 routing key 一个队列
	for routingKey, handle := range handler.Routes() {
		queue := routingKey + ".q"
		log.Info("Initializing MQ consumer...", zap.String("queue", queue), zap.String("routing_key", routingKey))
		consumer, err := mq.NewConsumer(cfg.MQ.URL, queue, routingKey, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.String("routing_key", routingKey), zap.Error(err))
		}
		defer consumer.Close()
		consumer.SetHandler(handle)

		group.Go(func() error {
			return consumer.StartConsuming(groupCtx)
		})
	}

	// Scheduler
	sched := scheduler.New(publisher, cfg.Pipeline.ScheduleInterval, log.Named("scheduler"))
	group.Go(func() error {
		return sched.Run(groupCtx)
	})

	// HTTP Server
	router := httpserver.NewRouter(httpserver.Deps{
		DB:            p.Ping,
		Redis:         func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		Publisher:     publisher,
		Notifications: p,
	}, log.Named("http"))
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	group.Go(func() error {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("pipeline-worker is fully initialized and running")

	if err := group.Wait(); err != nil {
		log.Error("pipeline-worker stopped with error", zap.Error(err))
	}
	log.Info("pipeline-worker shutdown complete")
}
