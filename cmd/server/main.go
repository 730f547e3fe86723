package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sdko-org/outfit-relay/internal/config"
	"github.com/sdko-org/outfit-relay/internal/database"
	"github.com/sdko-org/outfit-relay/internal/guard"
	"github.com/sdko-org/outfit-relay/internal/handlers"
	httpserver "github.com/sdko-org/outfit-relay/internal/http"
	"github.com/sdko-org/outfit-relay/internal/logging"
	"github.com/sdko-org/outfit-relay/internal/notify"
	"github.com/sdko-org/outfit-relay/internal/overlay"
	"github.com/sdko-org/outfit-relay/internal/retention"
	"github.com/sdko-org/outfit-relay/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.WithFields(logrus.Fields{
		"listen_addr":     cfg.ListenAddr,
		"rate_backend":    cfg.RateLimitBackend,
		"overlay_backend": cfg.OverlayBackend,
		"database":        cfg.DatabaseEnabled,
		"email":           cfg.EmailConfigured(),
	}).Info("Starting outfit relay")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var db *gorm.DB
	if cfg.DatabaseEnabled {
		db, err = database.NewPostgresDB(logger, database.ConfigFrom(cfg))
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to database")
		}
	}

	var archive storage.Archive = storage.NoopArchive{}
	if cfg.S3Bucket != "" {
		s3Archive, err := storage.NewS3Archive(cfg)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize snapshot archive")
		}
		archive = s3Archive
	}

	purger := retention.NewPurger(logger, db, archive, cfg.AccessLogRetention, cfg.PurgeInterval)

	var rateLog guard.Log
	switch cfg.RateLimitBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		rateLog = guard.NewRedisLog(client, guard.WithKeyPrefix(cfg.RedisPrefix))
	default:
		memLog := guard.NewMemoryLog(time.Hour)
		purger.AddSweeper("rate_log", memLog)
		rateLog = memLog
	}

	g, err := guard.New(cfg.GuardConfig(), rateLog, guard.WithLogger(logger))
	if err != nil {
		logger.WithError(err).Fatal("Failed to build ingress guard")
	}

	var store overlay.Store = overlay.NewMemoryStore()
	if cfg.OverlayBackend == "postgres" {
		store = overlay.NewPostgresStore(db)
	}

	readLimiter := handlers.NewReadLimiter(cfg.ReadRateLimit, cfg.ReadRateWindow)
	purger.AddSweeper("read_limiter", retention.SweepFunc(readLimiter.Cleanup))
	go purger.Start(ctx)

	relay := handlers.NewRelayHandler(logger, cfg, g, store, notify.NewDispatcher(logger, cfg), archive, db)

	r := mux.NewRouter()
	r.Use(handlers.LoggingMiddleware(logger, db, cfg.TrustForwardedFor), handlers.CORSMiddleware(g))
	handlers.RegisterRoutes(r, relay, readLimiter)

	err = httpserver.Run(ctx, logger, httpserver.Config{
		Addr:    cfg.ListenAddr,
		TLSAddr: cfg.TLSAddr,
	}, r)

	relay.Wait()
	if err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}
