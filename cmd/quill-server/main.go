// Package main is the entry point for the quill blogging server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/prn-tf/quill/internal/auth"
	"github.com/prn-tf/quill/internal/cache/memory"
	rediscache "github.com/prn-tf/quill/internal/cache/redis"
	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/handler"
	"github.com/prn-tf/quill/internal/lock"
	"github.com/prn-tf/quill/internal/mail"
	"github.com/prn-tf/quill/internal/metrics"
	"github.com/prn-tf/quill/internal/pkg/crypto"
	"github.com/prn-tf/quill/internal/ratelimit"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/repository/store"
	"github.com/prn-tf/quill/internal/service"
	"github.com/prn-tf/quill/internal/storage"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Msg("Starting quill server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server exited with error")
	}
	logger.Info().Msg("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Database
	db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.MigrateEmbedded(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info().Str("driver", db.Driver()).Msg("Database ready")

	// Cache and locks
	var (
		cache  repository.Cache
		locker lock.Locker
	)
	if cfg.Redis.Enabled {
		client, err := rediscache.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer client.Close()

		cache = rediscache.NewCache(client, "quill:")
		locker = lock.NewRedisLocker(client)
		logger.Info().Str("addr", cfg.Redis.Addr()).Msg("Using redis for cache and locks")
	} else {
		mem := memory.NewCache()
		defer mem.Stop()

		cache = mem
		locker = lock.NewMemoryLocker()
		logger.Info().Msg("Using in-process cache and locks")
	}

	// Images
	backend, err := storage.NewBackend(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	images := storage.NewImageStore(backend, cfg.Storage.BaseURL, cfg.Storage.MaxImageSize, logger)

	// Metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics("quill")
	}

	// Services
	tokens := auth.NewTokenManager(auth.TokenConfig{
		Secret: []byte(cfg.Auth.JWTSecret),
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	limit := func(scope string, attempts int) *ratelimit.Limiter {
		return ratelimit.New(cache, scope, ratelimit.Config{
			Enabled:  cfg.RateLimit.Enabled,
			Attempts: attempts,
			Window:   cfg.RateLimit.Window,
		})
	}

	accounts := service.NewAccountService(
		db.User,
		crypto.NewPasswordHasher(cfg.Auth.BcryptCost),
		tokens,
		mail.NewSender(cfg.Mail, logger),
		mail.Templates{BaseURL: cfg.Server.PublicURL},
		locker,
		m,
		logger,
		service.AccountConfigFrom(cfg.Auth),
	).WithLimiters(limit("login", cfg.RateLimit.LoginAttempts), limit("otp", cfg.RateLimit.OTPAttempts))

	social := service.NewSocialService(db.User, db.Relationship, logger)
	profiles := service.NewProfileService(db.User, images, locker, logger)
	posts := service.NewPostService(db.Post, db.Category, db.Comment, db.Relationship, db.Tx, images, logger)
	categories := service.NewCategoryService(db.Category, db.Post, db.Tx, logger)
	comments := service.NewCommentService(db.Comment, db.Post, logger)

	if cfg.Sweeper.Enabled {
		sweeper := service.NewSecretSweeper(db.User, locker, m, logger, service.SweeperConfigFrom(cfg.Sweeper))
		sweeper.Start()
		defer sweeper.Stop()
	}

	// HTTP
	home, err := handler.NewHomeHandler(Version, logger)
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	router := handler.NewRouter(handler.RouterConfig{
		UserHandler: handler.NewUserHandler(handler.UserHandlerConfig{
			AccountService: accounts,
			SocialService:  social,
			ProfileService: profiles,
			MaxImageSize:   cfg.Storage.MaxImageSize,
			Logger:         logger,
		}),
		PostHandler: handler.NewPostHandler(handler.PostHandlerConfig{
			PostService:  posts,
			MaxImageSize: cfg.Storage.MaxImageSize,
			Logger:       logger,
		}),
		CategoryHandler: handler.NewCategoryHandler(categories, logger),
		CommentHandler:  handler.NewCommentHandler(comments, logger),
		ImageHandler:    handler.NewImageHandler(images, logger),
		HomeHandler:     home,
		Gate:            handler.NewGate(auth.NewVerifier(tokens, db.User)),
		Health:          db,
		Metrics:         m,
		RequestTimeout:  cfg.Server.RequestTimeout,
		Production:      cfg.Server.IsProduction(),
		Logger:          logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if m != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", metricsSrv.Addr).Str("path", cfg.Metrics.Path).Msg("Metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("Server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Metrics server shutdown incomplete")
		}
	}

	return serveErr
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).With().Timestamp().Str("app", "quill").Logger()
}
