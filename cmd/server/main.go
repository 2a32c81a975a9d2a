package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/pawpoint/admin-identity/internal/audit"
	"github.com/pawpoint/admin-identity/internal/config"
	"github.com/pawpoint/admin-identity/internal/database"
	"github.com/pawpoint/admin-identity/internal/handler"
	"github.com/pawpoint/admin-identity/internal/jobs"
	"github.com/pawpoint/admin-identity/internal/middleware"
	"github.com/pawpoint/admin-identity/internal/redis"
	"github.com/pawpoint/admin-identity/internal/repository"
	"github.com/pawpoint/admin-identity/internal/service"
	"github.com/pawpoint/admin-identity/internal/util"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.LogFormat, cfg.LogLevel)

	if err := cfg.Validate(cfg.IsProduction()); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	adminRepo := repository.NewAdminAccountRepository(db.DB)
	sessionRepo := repository.NewAdminSessionRepository(db.DB)
	auditRepo := repository.NewAuditEventRepository(db.DB)

	var recorder *audit.Recorder
	var replayJob *jobs.AuditReplayJob
	if cfg.SpoolEnabled() {
		spool := audit.NewKafkaSpool(cfg.KafkaBrokers, cfg.AuditSpoolTopic)
		defer spool.Close()
		recorder = audit.NewRecorder(auditRepo, spool)

		replayJob = jobs.NewAuditReplayJob(
			jobs.NewSpoolReader(cfg.KafkaBrokers, cfg.AuditSpoolTopic, cfg.AuditSpoolGroup),
			auditRepo,
		)
		replayJob.Start()
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.AuditSpoolTopic).Msg("audit spool enabled")
	} else {
		recorder = audit.NewRecorder(auditRepo, nil)
	}

	box, err := util.NewSecretBox(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init secret box")
	}

	pendingStore := service.NewPendingLoginStore(redisClient.Client, cfg.PendingLoginSecret, cfg.PendingLoginTTL())
	replayGuard := service.NewReplayGuard(redisClient.Client)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	sessionService := service.NewSessionService(
		sessionRepo, adminRepo, recorder, cfg.AdminSessionSecret, cfg.SessionLifetime(),
	)
	mfaService := service.NewMFAService(
		adminRepo, sessionService, pendingStore, replayGuard, recorder, box,
		service.MFAPolicy{
			Issuer:            cfg.MFAIssuer,
			Skew:              cfg.MFASkew,
			MaxFailedAttempts: cfg.MFAMaxFailedAttempts,
			LockoutWindow:     cfg.MFALockoutWindow(),
		},
	)
	credentialService, err := service.NewCredentialService(
		adminRepo, sessionRepo, db, sessionService, mfaService, pendingStore, recorder,
		service.CredentialPolicy{
			MFARequired:       cfg.MFARequired,
			MaxFailedAttempts: cfg.LoginMaxFailedAttempts,
			LockoutWindow:     cfg.LoginLockoutWindow(),
			BcryptCost:        config.BcryptCost,
		},
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init credential service")
	}
	auditService := service.NewAuditService(auditRepo, recorder)

	authMiddleware := middleware.NewAdminAuthMiddleware(sessionService)
	loginLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, recorder, cfg.LoginRateLimitPerMin, time.Minute, "login")
	mfaLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, recorder, cfg.LoginRateLimitPerMin, time.Minute, "mfa")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())

	authHandler := handler.NewAuthHandler(
		credentialService, mfaService, sessionService, recorder,
		authMiddleware.Handler, loginLimit.Handler, mfaLimit.Handler,
	)
	auditHandler := handler.NewAuditHandler(auditService, recorder, authMiddleware.Handler)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": db.Ping,
		"redis":    redisClient.Ping,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After", "Content-Disposition", "X-Export-Truncated"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	r.Method(http.MethodGet, "/health", healthHandler)
	r.Mount("/audit", auditHandler.Routes())
	r.Mount("/", authHandler.Routes())

	cleanupJob := jobs.NewCleanupJob(sessionRepo, config.CleanupJobInterval, config.SessionRetention)
	cleanupJob.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.AppEnv).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	cleanupJob.Stop()
	recorder.Wait()
	if replayJob != nil {
		replayJob.Stop()
	}

	log.Info().Msg("server stopped")
}

func setupLogger(format, level string) {
	if format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
