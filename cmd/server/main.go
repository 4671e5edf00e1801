package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/veilchat/chatsync/internal/assistantsim"
	"github.com/veilchat/chatsync/internal/authclient"
	"github.com/veilchat/chatsync/internal/cache"
	"github.com/veilchat/chatsync/internal/config"
	"github.com/veilchat/chatsync/internal/connmgr"
	"github.com/veilchat/chatsync/internal/handlers"
	"github.com/veilchat/chatsync/internal/metrics"
	"github.com/veilchat/chatsync/internal/repository"
	"github.com/veilchat/chatsync/internal/router"
	"github.com/veilchat/chatsync/internal/secretstore"
	"github.com/veilchat/chatsync/internal/store"
	"github.com/veilchat/chatsync/internal/userprofile"
	"github.com/veilchat/chatsync/internal/workerqueue"
	"github.com/veilchat/chatsync/internal/wsserver"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.DocumentStore.DSN)
	if err != nil {
		logger.Fatal("failed to open document store", zap.Error(err))
	}
	defer db.Close()

	if err := store.Migrate(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	gormDB, err := gorm.Open(postgres.Open(cfg.DocumentStore.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to open gorm connection", zap.Error(err))
	}
	knownDevices := store.NewKnownDeviceLedger(gormDB)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Collaborators.RedisAddr})
	defer redisClient.Close()

	cacheMgr := cache.NewManager(redisClient, logger, cache.Config{
		HotPerUser:  cfg.Cache.HotPerUser,
		WarmPerUser: cfg.Cache.WarmPerUser,
		SlidingTTL:  cfg.Cache.SlidingTTL(),
	})

	secretClient := secretstore.New(secretstore.Config{
		BaseURL: cfg.Collaborators.SecretStoreURL,
		Timeout: cfg.DocumentStore.Timeout(),
	})
	preprocessProducer := workerqueue.NewProducer(cfg.Kafka.Brokers, logger)

	repo, err := repository.NewChatRepository(db, cacheMgr, secretClient, preprocessProducer, logger)
	if err != nil {
		logger.Fatal("failed to build chat repository", zap.Error(err))
	}

	connMgr := connmgr.NewManager(connmgr.Config{
		ShardCount:             cfg.Session.ShardCount,
		HeartbeatInterval:      cfg.Heartbeat.IntervalDuration(),
		HeartbeatMissThreshold: cfg.Heartbeat.MissThreshold,
		OutboundQueueCap:       cfg.Session.OutboundQueueCap,
	}, logger)

	profileClient := userprofile.New(userprofile.Config{
		BaseURL: cfg.Collaborators.UserProfileServiceURL,
		Timeout: cfg.DocumentStore.Timeout(),
	})

	deps := &handlers.Deps{
		Repo:                         repo,
		Conns:                        connMgr,
		Profile:                      profileClient,
		Logger:                       logger,
		PersistLastOpenedOnSetActive: cfg.Collaborators.LastOpenedChatPersistOnSetActive,
	}
	r := router.New(router.RateLimits{
		FramesPerSecond:    rate.Limit(cfg.RateLimit.FramesPerSecond),
		FramesBurst:        int(cfg.RateLimit.FramesPerSecond * 2),
		ExpensivePerMinute: rate.Limit(cfg.RateLimit.ExpensivePerMinute / 60),
		ExpensiveBurst:     5,
	}, logger)
	deps.Register(r)

	authResolver := authclient.New(authclient.Config{
		BaseURL: cfg.Collaborators.AuthServiceURL,
		Timeout: cfg.DocumentStore.Timeout(),
	}, knownDevices)

	assistantWorker := assistantsim.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, assistantsim.DefaultConfig(), logger)
	eventConsumer := workerqueue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, connMgr, repo, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	go func() {
		if err := assistantWorker.Run(workerCtx); err != nil {
			logger.Warn("assistant worker stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := eventConsumer.Run(workerCtx); err != nil {
			logger.Warn("assistant event consumer stopped", zap.Error(err))
		}
	}()

	metrics.Register()

	sweeper := cron.New()
	sweepSpec := fmt.Sprintf("@every %s", cfg.Heartbeat.IntervalDuration())
	if _, err := sweeper.AddFunc(sweepSpec, func() {
		connMgr.SweepHeartbeats()
		connMgr.RefreshShardGauges()
	}); err != nil {
		logger.Fatal("failed to schedule heartbeat sweep", zap.Error(err))
	}
	sweeper.Start()

	ws := wsserver.New(wsserver.Config{}, connMgr, r, authResolver, logger)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(prometheusMiddleware())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "chatsync"})
	})
	engine.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "document store unavailable"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "cache unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", ws.HandleChat)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopWorkers()
	sweeper.Stop()
	assistantWorker.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// prometheusMiddleware mirrors the teacher's Gin middleware, writing into
// internal/metrics's package-level collectors instead of local ones.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := fmt.Sprintf("%d", c.Writer.Status())
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, c.FullPath(), status).Observe(duration.Seconds())
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, c.FullPath(), status).Inc()
	}
}
