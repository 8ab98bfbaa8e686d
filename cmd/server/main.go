package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/polyphonica/polyphonica/internal/config"
	"github.com/polyphonica/polyphonica/internal/database"
	"github.com/polyphonica/polyphonica/internal/mailer"
	"github.com/polyphonica/polyphonica/internal/monitoring"
	"github.com/polyphonica/polyphonica/internal/payment"
	"github.com/polyphonica/polyphonica/internal/redis"
	"github.com/polyphonica/polyphonica/internal/scheduler"
	"github.com/polyphonica/polyphonica/internal/services/about"
	"github.com/polyphonica/polyphonica/internal/services/accounts"
	"github.com/polyphonica/polyphonica/internal/services/concerts"
	"github.com/polyphonica/polyphonica/internal/services/finance"
	"github.com/polyphonica/polyphonica/internal/services/media"
	"github.com/polyphonica/polyphonica/internal/services/payments"
	"github.com/polyphonica/polyphonica/internal/services/repertoire"
	"github.com/polyphonica/polyphonica/internal/services/site"
	"github.com/polyphonica/polyphonica/internal/services/workshops"
	"github.com/polyphonica/polyphonica/internal/storage"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	redisClient := redis.NewClient(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}

	store, err := storage.NewLocal(cfg.UploadDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise storage")
	}

	gateway := payment.NewStripeGateway(cfg)
	mail := mailer.NewSMTPMailer(cfg)

	concertsService := concerts.NewService(db, redisClient, gateway, mail, store, cfg, logger)
	workshopsService := workshops.NewService(db, redisClient, gateway, mail, store, cfg, logger)
	financeService := finance.NewService(db, gateway, store, cfg, logger)

	gin.SetMode(cfg.GinMode)
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	site.NewService(db, mail, cfg, logger).SetupRoutes(r)
	accounts.NewService(db, cfg, logger).SetupRoutes(r)
	concertsService.SetupRoutes(r)
	workshopsService.SetupRoutes(r)
	about.NewService(db, store, cfg, logger).SetupRoutes(r)
	media.NewService(db, store, cfg, logger).SetupRoutes(r)
	repertoire.NewService(db, cfg, logger).SetupRoutes(r)
	financeService.SetupRoutes(r)
	payments.NewService(gateway, concertsService, workshopsService, logger).SetupRoutes(r)
	monitoring.SetupRoutes(r)

	r.Static("/uploads", cfg.UploadDir)

	go scheduler.New(db, redisClient, financeService, cfg, logger).Start(ctx)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	go func() {
		logger.Info().Str("port", cfg.ServerPort).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close failed")
	}
}
