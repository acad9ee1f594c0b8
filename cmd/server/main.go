package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/lmittmann/tint"
	"github.com/rs/cors"

	"github.com/iliyamo/consultation-settlement/internal/config"
	"github.com/iliyamo/consultation-settlement/internal/database"
	"github.com/iliyamo/consultation-settlement/internal/handler"
	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/metrics"
	"github.com/iliyamo/consultation-settlement/internal/middleware"
	"github.com/iliyamo/consultation-settlement/internal/program"
	"github.com/iliyamo/consultation-settlement/internal/queue"
	"github.com/iliyamo/consultation-settlement/internal/repository"
	"github.com/iliyamo/consultation-settlement/internal/router"
	"github.com/iliyamo/consultation-settlement/internal/service"
	"github.com/iliyamo/consultation-settlement/internal/session"
)

func main() {
	_ = godotenv.Load() // .env is optional
	cfg := config.Load()

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: level, TimeFormat: time.DateTime}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unavailable; rate limiting and verification cache disabled")
	} else {
		defer rdb.Close()
	}

	// ledger
	lc := config.LoadLedgerConfig()
	client := ledger.NewClient(ledger.ClientConfig{
		URL:         cfg.LedgerRPCURL,
		Timeout:     lc.Timeout,
		MaxAttempts: lc.MaxAttempts,
		Backoff:     lc.Backoff,
		RPS:         lc.RPS,
		Burst:       lc.Burst,
	}, nil, logger)
	var cache ledger.ResultCache
	if vc := config.LoadVerifyCacheConfig(); vc.Enabled && rdb != nil {
		cache = ledger.NewRedisCache(rdb, vc.Prefix, vc.TTL, logger)
	}
	verifier := ledger.NewVerifier(client, cache, logger)

	// on-ledger program
	prog, err := program.Open(cfg.ProgramDir, nil, logger)
	if err != nil {
		return err
	}
	defer prog.Close()
	if err := prog.InitializePayment(cfg.PlatformWallet, uint64(max(cfg.ConsultationFee, 0))); err != nil && !errors.Is(err, program.ErrAccountExists) {
		return err
	}

	// settlement events
	var publisher service.EventPublisher
	if cfg.RabbitMQURL != "" {
		publisher = service.NewAMQPPublisher(cfg.RabbitMQURL, logger)
		consumer := queue.NewSettlementConsumer(cfg.RabbitMQURL, cfg.SettlementLogDir, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("settlement consumer stopped", "err", err)
			}
		}()
	} else {
		logger.Warn("RABBITMQ_URL not set; session.settled events disabled")
	}

	machine := session.NewMachine(nil)
	sessions := repository.NewSessionRepo(db)
	payments := repository.NewPaymentRepo(db)
	users := repository.NewUserRepo(db)
	sessionSvc := service.NewSessionService(sessions, payments, users, machine, logger)
	reconciler := service.NewReconciler(sessions, payments, verifier, publisher, machine, logger)

	e := echo.New()
	e.HideBanner = true
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	router.RegisterRoutes(e, metrics.Handler())
	router.RegisterSessions(e, handler.NewSessionHandler(sessionSvc), cfg.JWTSecret)
	router.RegisterPayments(e, handler.NewPaymentHandler(reconciler, sessionSvc, cfg.WebhookTokenHash), cfg.JWTSecret, limit)
	router.RegisterLedger(e, handler.NewLedgerHandler(client), cfg.JWTSecret, limit)
	router.RegisterProgram(e, handler.NewProgramHandler(prog, cfg.PlatformWallet), cfg.JWTSecret, cfg.Env != "prod")

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: cors.New(cors.Options{
			AllowedOrigins: strings.Split(cfg.CORSOrigins, ","),
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type", handler.WebhookTokenHeader},
			ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		}).Handler(e),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "env", cfg.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
