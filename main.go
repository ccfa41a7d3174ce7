package main

import (
	"context"
	"fmt"
	"log"
	"os"

	apirest "github.com/aurora-mmo/social-server/api/rest"
	"github.com/aurora-mmo/social-server/cache"
	"github.com/aurora-mmo/social-server/config"
	mw "github.com/aurora-mmo/social-server/middleware"
	"github.com/aurora-mmo/social-server/scheduler"
	"github.com/aurora-mmo/social-server/social"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Warn("security.jwt_secret is not set; every request will be rejected")
	}

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Social System ----
	system := social.NewSystem(c, pubsub, social.Config{
		PresenceTTL:     cfg.Social.PresenceTTL,
		ReconcileWindow: cfg.Social.ReconcileWindow,
	}, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	sched.AddTicker("request_mirror_reconcile", cfg.Social.ReconcileInterval, func() {
		n, err := system.ReconcileActive(context.Background())
		if err != nil {
			logger.Warn("request reconcile pass failed", zap.Int("removed", n), zap.Error(err))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	socialH := apirest.NewSocialHandler(system)

	api := r.Group("/api/social")
	api.Use(mw.Auth(cfg.Security))
	{
		api.GET("/friends", socialH.ListFriends)
		api.GET("/friends/search", socialH.SearchFriends)
		api.GET("/friends/online", socialH.OnlineFriends)
		api.GET("/friends/offline", socialH.OfflineFriends)
		api.DELETE("/friends/:id", socialH.RemoveFriend)

		api.GET("/requests", socialH.ListRequests)
		api.GET("/requests/sent", socialH.ListSentRequests)
		api.POST("/requests", socialH.SendRequest)
		api.POST("/requests/:id/accept", socialH.AcceptRequest)
		api.POST("/requests/:id/reject", socialH.RejectRequest)
		api.DELETE("/requests/:id", socialH.CancelRequest)

		api.POST("/presence/online", socialH.SetOnline)
		api.POST("/presence/offline", socialH.SetOffline)
		api.PUT("/presence/message", socialH.UpdateStatusMessage)
		api.GET("/presence/:id", socialH.GetStatus)

		api.GET("/online", socialH.OnlineCharacters)
		api.GET("/stats", socialH.SystemStats)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
