package main

import (
	"context"
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	"github.com/unclebandit/wacampaign-backend/internal/dispatch"
	"github.com/unclebandit/wacampaign-backend/internal/logging"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/planner"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/service"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

// The worker owns all outbound traffic: the scheduler tick for due
// recipients and the send-now jobs queued by the API.
func main() {
	logger := logging.New("wacampaign-worker")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	q, err := queue.NewAMQPQueue(cfg.AMQPURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to queue")
	}
	defer q.Close()

	executor := &dispatch.Executor{
		Store:      &repository.PlanRepository{DB: conn},
		Sender:     transport.NewGateway(cfg.GatewayURL, cfg.GatewayToken, logger),
		// same advisory-lock domain as the API server
		Locks:      dispatch.NewAdvisoryLocks(conn),
		Planner:    planner.New(),
		Logger:     logger,
		Workers:    cfg.WorkerPoolSize,
		MaxElapsed: cfg.SendMaxElapsed,
		LockWait:   cfg.LockWait,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(cfg.MetricsPort)

	go func() {
		err := q.Consume(ctx, queue.SendNowTopic, func(payload []byte) error {
			var job service.SendNowJob
			if err := json.Unmarshal(payload, &job); err != nil {
				logger.Error().Err(err).Msg("malformed send-now job, dropping")
				return nil
			}
			return executor.SendNow(ctx, job.PlanID, job.Handles)
		})
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("send-now consumer stopped")
		}
	}()

	logger.Info().Dur("tick", cfg.TickInterval).Int("workers", cfg.WorkerPoolSize).
		Msg("worker running")
	if err := executor.Run(ctx, cfg.TickInterval); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("executor stopped")
	}
}
