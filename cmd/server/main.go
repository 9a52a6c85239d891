package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/unclebandit/wacampaign-backend/internal/config"
	"github.com/unclebandit/wacampaign-backend/internal/db"
	"github.com/unclebandit/wacampaign-backend/internal/dispatch"
	"github.com/unclebandit/wacampaign-backend/internal/handler"
	"github.com/unclebandit/wacampaign-backend/internal/logging"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/planner"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/service"
)

func main() {
	logger := logging.New("wacampaign-server")

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

	svc := &service.CampaignService{
		Plans:    &repository.PlanRepository{DB: conn},
		Contacts: &repository.ContactRepository{DB: conn},
		Audit:    &repository.AuditRepository{DB: conn},
		Queue:    q,
		Planner:  planner.New(),
		// advisory locks over the shared database: plan mutations here must
		// serialize against the worker's tick, not just other API requests
		Locks:    dispatch.NewAdvisoryLocks(conn),
		Logger:   logger,
		LockWait: cfg.LockWait,
	}

	planHandler := &handler.PlanHandler{Service: svc, Logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Group(planHandler.Routes)

	metrics.StartServer(cfg.MetricsPort)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	logger.Info().Int("port", cfg.HTTPPort).Msg("server running")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
