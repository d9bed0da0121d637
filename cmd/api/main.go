package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ogacraft/api/internal/app"
	"ogacraft/api/internal/auth"
	"ogacraft/api/internal/config"
	"ogacraft/api/internal/media"
	"ogacraft/api/internal/realtime"
	"ogacraft/api/internal/search"
	"ogacraft/api/internal/session"
	"ogacraft/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir), logger); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	var opts []app.Option

	if strings.TrimSpace(cfg.RedisURL) != "" {
		tokens, err := session.NewRedisStore(cfg.RedisURL, cfg.TokenCacheTTL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer tokens.Close()
		opts = append(opts, app.WithTokenCache(tokens))
		logger.Info().Msg("caching verified tokens in redis")
	}

	if strings.TrimSpace(cfg.PrivyAppID) != "" {
		verifier, err := auth.NewVerifier(cfg.PrivyAppID, cfg.PrivyVerificationKey)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid token verification key")
		}
		opts = append(opts, app.WithVerifier(verifier))
	} else {
		logger.Warn().Msg("PRIVY_APP_ID not set, authenticated routes will answer 503")
	}

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, search.NewPgJobs(db), logger)
	opts = append(opts, app.WithSearch(searchService))
	if meili != nil {
		go searchService.ReindexAllFromPG(context.Background())
	}

	if strings.TrimSpace(cfg.S3Endpoint) != "" {
		storage, err := media.NewStorage(ctx, media.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			PublicURL: cfg.S3PublicURL,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage setup failed")
		}
		opts = append(opts, app.WithMedia(storage))
	}

	hub := realtime.NewHub(realtime.NewPresence(), realtime.NewRooms(), logger)
	socketServer := realtime.NewServer(hub, logger, cfg.SocketSendBuffer)

	service := app.New(cfg, store.NewPostgresStore(db), hub, logger, opts...)
	service.RegisterSocketHandlers(socketServer)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, socketServer, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("env", cfg.Env).Msg("ogacraft api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
