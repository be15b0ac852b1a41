package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/ruralpay/ledger/internal/config"
	"github.com/ruralpay/ledger/internal/currency"
	"github.com/ruralpay/ledger/internal/database"
	"github.com/ruralpay/ledger/internal/handlers"
	mW "github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/services"
)

// @title Ledger API
// @version 1.0
// @description Account balances, deposits, withdrawals and transfers backed by an append-only journal
// @BasePath /api/v1
// @schemes http https

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.Load(viper.New(), ".env")
	if err != nil {
		logger.WithError(err).Warn("Config file not found, using environment and defaults")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.InitDB(startCtx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(startCtx, db, logger); err != nil {
		return err
	}

	redisClient := database.InitRedis(startCtx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	codec, err := currency.NewCodec(cfg.Ledger.Currency)
	if err != nil {
		return err
	}

	gate := database.NewGate(cfg.Database.MaxOpenConns, cfg.Database.MaxWaiting, cfg.Database.AcquireTimeout)
	store := database.NewStore(db, database.WithGate(gate), database.WithLockTimeout(cfg.Ledger.LockTimeout))

	generator := services.NewAccountNumberGenerator(cfg.Ledger.AccountNumberDigits, cfg.Ledger.MaxIDAttempts, logger)
	accountService := services.NewAccountService(store, codec, generator, logger)
	ledgerService := services.NewLedgerService(store, codec, logger, services.WithSelfTransfer(cfg.Ledger.AllowSelfTransfer))
	journalService := services.NewJournalService(store)
	idempotency := services.NewIdempotencyStore(redisClient, cfg.Ledger.IdempotencyTTL)

	reconciler := services.NewReconciler(store, codec, logger)
	if cfg.Ledger.ReconcileSchedule != "" {
		if err := reconciler.Start(cfg.Ledger.ReconcileSchedule); err != nil {
			return err
		}
		defer func() { <-reconciler.Stop().Done() }()
	}

	if cfg.JWT.SecretKey == "" {
		logger.Warn("JWT_SECRET_KEY is not set, every authenticated request will be rejected")
	}
	auth := mW.Auth(mW.NewJWTAuthenticator(cfg.JWT.SecretKey), logger)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Retry-After", "Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":      status,
			"idempotency": idempotency.Enabled(),
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		handlers.Routes(r, auth,
			handlers.NewAccountHandler(accountService, codec, logger),
			handlers.NewLedgerHandler(ledgerService, journalService, idempotency, codec, logger))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		logger.WithField("signal", sig.String()).Info("Server shutting down")
	}

	ctx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info("Server stopped")
	return nil
}
