package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"giveaway-engine/internal/common/cache"
	"giveaway-engine/internal/common/config"
	"giveaway-engine/internal/common/logger"
	"giveaway-engine/internal/common/middleware"
	giveawayhttp "giveaway-engine/internal/features/giveaway/delivery/http"
	giveawayredis "giveaway-engine/internal/features/giveaway/repository/redis"
	"giveaway-engine/internal/features/giveaway/service"
	"giveaway-engine/internal/platform/discord"
	"giveaway-engine/internal/platform/redis"
	"giveaway-engine/internal/workers"
)

func main() {
	cfg := config.Load()
	logger.Init("giveaway-engine", cfg.Debug)

	logger.Info().
		Bool("debug", cfg.Debug).
		Msg("Starting giveaway engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	redisClient, err := redis.Open(ctx, redisAddr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", redisAddr).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	cacheService := cache.NewCacheService(redisClient)
	repo := giveawayredis.NewRedisGiveawayRepository(redisClient)
	gatewayClient := discord.NewClient(cfg)
	svc := service.NewGiveawayService(repo, cacheService, cfg, gatewayClient, gatewayClient)

	sweeper := service.NewSweeper(svc, cfg.Sweeper.Interval)
	sweeper.Start()
	defer sweeper.Stop()

	claimWorker := workers.NewClaimEventWorker(redisClient, svc)
	go claimWorker.Start(ctx)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.HandleErrors())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{cfg.Server.Origin}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Content-Type", "Authorization", "Accept"}
	router.Use(cors.New(corsConfig))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	api := router.Group("/api/v1")
	api.Use(middleware.RequireToken(cfg.Server.APIToken))
	giveawayhttp.NewGiveawayHandler(svc).RegisterRoutes(api)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}
