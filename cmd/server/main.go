package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"enviobox/internal/config"
	"enviobox/internal/legacy"
	"enviobox/internal/ratelimit"
	"enviobox/internal/server"
	"enviobox/internal/util"
	"enviobox/pkg/auth"
	"enviobox/pkg/events"
	"enviobox/pkg/storage"
	"enviobox/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}
	failureWindow, err := config.ParseClaimFailureWindow(cfg.ClaimFailureWindow)
	if err != nil {
		log.Fatalf("failed to parse claim failure window: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, tokenTTL)
	if err != nil {
		log.Fatalf("failed to init token issuer: %v", err)
	}

	var archive storage.ObjectStore
	if cfg.Minio.Endpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		archive = minioStore
	}

	var bus legacy.EventPublisher
	if cfg.AMQPURL != "" {
		publisher, err := events.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to init event publisher: %v", err)
		}
		defer publisher.Close()
		bus = publisher
	}

	appCore, err := legacy.New(legacy.Config{
		Store:      st,
		Tokens:     tokens,
		Archive:    archive,
		Events:     bus,
		WideLayout: cfg.Import.FallbackLayout,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var claimLimiter *ratelimit.FixedWindowLimiter
	if cfg.ClaimRateLimitPerMinute > 0 {
		claimLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.ClaimRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init claim rate limiter: %v", err)
		}
	}
	var claimGuard *ratelimit.ClaimGuard
	if cfg.ClaimMaxFailuresPerBox > 0 {
		claimGuard, err = ratelimit.NewClaimGuard(cfg.RedisAddr, cfg.RedisPassword, cfg.ClaimMaxFailuresPerBox, failureWindow)
		if err != nil {
			log.Fatalf("failed to init claim guard: %v", err)
		}
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		Tokens:         tokens,
		ClaimLimiter:   claimLimiter,
		ClaimGuard:     claimGuard,
		TrustedProxies: trustedProxies,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("legacy migration server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
