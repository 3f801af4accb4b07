package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/router"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// storage bundles the repositories of the configured driver.
type storage struct {
	exams        service.ExamRepository
	sessions     proctor.Store
	certificates service.CertificateStore
	ping         handler.PingFunc
	close        func()
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("Invalid configuration")
	}

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("db_driver", cfg.DBDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Proctor")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to the Session Store ──────────────────────────────────
	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to open session store")
	}
	defer store.close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize the Session Engine ─────────────────────────────────
	classifier, err := proctor.NewSeverityClassifier(cfg.SeverityWeights)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid SEVERITY_WEIGHTS")
	}
	if cfg.SeedSecret == "" {
		log.Warn().Msg("SEED_SECRET is empty, question order is predictable from session IDs")
	}

	monitorService := service.NewMonitorService(rdb, log)
	certificateService := service.NewCertificateService(rdb, store.certificates, log)

	manager := proctor.NewManager(proctor.Options{
		Store:        store.sessions,
		Classifier:   classifier,
		Seeds:        proctor.NewSeedDeriver(cfg.SeedSecret),
		Certificates: certificateService,
		Notifier:     monitorService,
		Retention:    cfg.SessionRetention,
		Logger:       log,
	})

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(store.exams, rdb, cfg.ExamCacheTTL, log)
	sessionService := service.NewExamSessionService(manager, examService, store.sessions, log)

	// Adopt attempts that were running when the last process stopped, BEFORE
	// accepting traffic, so their deadlines keep counting.
	if _, err := sessionService.RestoreActive(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to restore active sessions")
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(),
		Learner: handler.NewLearnerHandler(sessionService, log),
		Proctor: handler.NewProctorHandler(sessionService, examService, log),
		WS:      handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
		Monitor: handler.NewMonitorHandler(monitorService, log),
		System:  handler.NewSystemHandler(store.ping, rdb, manager, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	deadlineWorker := worker.NewDeadlineWorker(manager, cfg.DeadlineSweepInterval, log)
	certificateWorker := worker.NewCertificateWorker(store.certificates, rdb, log)

	workers.Go(func() { deadlineWorker.Start(workerCtx) })
	workers.Go(func() { certificateWorker.Start(workerCtx) })

	startLimiter := middleware.NewRateLimiter(30, time.Minute)
	startLimiter.StartCleanup(workerCtx)
	limits := router.Limits{
		Start:  startLimiter.Middleware(),
		Events: middleware.NewSessionEventLimiter(rdb, cfg.EventRateLimit, log).Middleware(),
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limits, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and let the certificate buffer drain.
	workerCancel()
	workers.Wait()

	log.Info().Int("active_sessions", manager.ActiveCount()).Msg("Shutdown complete")
}

func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		db, err := database.NewSQLiteDB(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return &storage{
			exams:        repository.NewSQLiteExamRepository(db),
			sessions:     repository.NewSQLiteSessionRepository(db),
			certificates: repository.NewSQLiteCertificateRepository(db),
			ping:         db.PingContext,
			close:        func() { _ = db.Close() },
		}, nil

	default:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &storage{
			exams:        repository.NewExamRepository(pool),
			sessions:     repository.NewExamSessionRepository(pool),
			certificates: repository.NewCertificateRepository(pool),
			ping:         pool.Ping,
			close:        pool.Close,
		}, nil
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
