package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"

	"github.com/wardenlabs/warden/config"
	"github.com/wardenlabs/warden/db"
	"github.com/wardenlabs/warden/internal/auth/domain"
	"github.com/wardenlabs/warden/internal/auth/handler"
	"github.com/wardenlabs/warden/internal/auth/repository/memory"
	repo "github.com/wardenlabs/warden/internal/auth/repository/postgres"
	"github.com/wardenlabs/warden/internal/auth/service"
	"github.com/wardenlabs/warden/internal/maintenance"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var (
		userRepo    domain.UserRepository
		sessionRepo domain.SessionRepository
		refreshRepo domain.RefreshTokenRepository
		lockoutRepo domain.LockoutRepository
		mfaRepo     domain.MfaRepository
	)
	if cfg.DBURL != "" {
		// Store unavailability at startup is fatal: the core cannot run on
		// stores it could not load.
		if err := db.RunMigrations(ctx, cfg.DBURL); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		pool, err := db.NewPostgresPool(ctx, cfg.DBURL)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		userRepo = repo.NewUserRepository(pool)
		sessionRepo = repo.NewSessionRepository(pool)
		refreshRepo = repo.NewRefreshTokenRepository(pool)
		lockoutRepo = repo.NewLockoutRepository(pool)
		mfaRepo = repo.NewMfaRepository(pool)
	} else {
		logger.Warn("no DB_URL configured, using in-memory stores")
		userRepo = memory.NewUserRepository()
		sessionRepo = memory.NewSessionRepository()
		refreshRepo = memory.NewRefreshTokenRepository()
		lockoutRepo = memory.NewLockoutRepository()
		mfaRepo = memory.NewMfaRepository()
	}

	hasher, err := service.NewHasher(cfg.BcryptCost, cfg.HashWorkers)
	if err != nil {
		logger.Error("hasher init failed", "error", err)
		os.Exit(1)
	}

	authz := service.NewAuthorizationEngine()
	detector := service.NewAnomalyDetector(cfg.Anomaly, logger)
	lockout := service.NewLockoutGuard(lockoutRepo, userRepo, cfg.Lockout, logger)
	tokenService := service.NewTokenService(cfg.Token, userRepo, authz)
	sessionManager := service.NewSessionManager(sessionRepo, detector, cfg.Session, logger)
	mfaProvider := service.NewMfaProvider(mfaRepo, lockout, cfg.Mfa, logger)
	validator := service.NewPasswordValidator(cfg.Password, hasher)
	userService := service.NewUserService(userRepo, refreshRepo, tokenService, sessionManager,
		lockout, mfaProvider, hasher, validator, cfg, logger)

	gateway := handler.NewGateway(tokenService, sessionManager, authz, cfg.Anomaly, logger)
	authHandler := handler.NewAuthHandler(userService, mfaProvider, sessionManager, tokenService, logger)

	runner := maintenance.NewRunner(logger,
		maintenance.Task{Name: "lockout-prune", Interval: 5 * time.Minute, Run: func(ctx context.Context) {
			lockout.PruneAll(ctx)
		}},
		maintenance.Task{Name: "session-cleanup", Interval: 10 * time.Minute, Run: func(ctx context.Context) {
			if n, err := sessionManager.CleanupExpired(ctx); err != nil {
				logger.Error("session cleanup failed", "error", err)
			} else if n > 0 {
				logger.Info("expired sessions removed", "count", n)
			}
		}},
		maintenance.Task{Name: "token-set-prune", Interval: 10 * time.Minute, Run: func(context.Context) {
			tokenService.PruneExpired(time.Now())
		}},
		maintenance.Task{Name: "anomaly-prune", Interval: 5 * time.Minute, Run: func(context.Context) {
			detector.PruneIdle()
		}},
	)
	runner.Start(ctx)

	app := fiber.New()
	handler.RegisterRoutes(app, authHandler, gateway)

	go func() {
		<-ctx.Done()
		_ = app.ShutdownWithTimeout(10 * time.Second)
	}()

	logger.Info("listening", "port", cfg.Port, "env", cfg.Env)
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Error("server stopped", "error", err)
	}
	runner.Wait()
}
