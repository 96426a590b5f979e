package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Gigatchad/uploadDocYnov/internal/audit"
	"github.com/Gigatchad/uploadDocYnov/internal/config"
	"github.com/Gigatchad/uploadDocYnov/internal/db"
	internalhttp "github.com/Gigatchad/uploadDocYnov/internal/http"
	"github.com/Gigatchad/uploadDocYnov/internal/identity"
	"github.com/Gigatchad/uploadDocYnov/internal/mailer"
	"github.com/Gigatchad/uploadDocYnov/internal/notify"
	"github.com/Gigatchad/uploadDocYnov/internal/push"
	"github.com/Gigatchad/uploadDocYnov/internal/requests"
	"github.com/Gigatchad/uploadDocYnov/internal/storage"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := db.NewStore(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
	}

	pushClient := push.New(cfg.PushGatewayURL, cfg.PushGatewayKey, cfg.PushTimeout)
	notifier := notify.New(store, pushClient)
	engine := requests.NewEngine(store, store, notifier)
	directory := identity.NewDirectory(store, cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	storageClient := storage.New(cfg.StorageCloudName, cfg.StorageAPIKey, cfg.StorageAPISecret, cfg.StorageUploadFolder, cfg.StorageTimeout)
	mail := mailer.New(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom, cfg.ProjectName)
	recorder := audit.NewRecorder(store, cfg.AuditQueueSize)
	defer recorder.Close()

	server := internalhttp.NewServer(cfg, store, engine, notifier, directory, storageClient, mail, recorder, redisClient)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("portal http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
