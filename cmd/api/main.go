package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/servimarket/payments-engine/internal/config"
	"github.com/servimarket/payments-engine/internal/fees"
	"github.com/servimarket/payments-engine/internal/gateway"
	"github.com/servimarket/payments-engine/internal/handler"
	"github.com/servimarket/payments-engine/internal/logging"
	"github.com/servimarket/payments-engine/internal/middleware"
	"github.com/servimarket/payments-engine/internal/ratelimit"
	"github.com/servimarket/payments-engine/internal/repository"
	"github.com/servimarket/payments-engine/internal/service/checkout"
	"github.com/servimarket/payments-engine/internal/service/dispute"
	"github.com/servimarket/payments-engine/internal/service/fraud"
	"github.com/servimarket/payments-engine/internal/service/intent"
	"github.com/servimarket/payments-engine/internal/service/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Init("payments-api", cfg.LogLevel, cfg.AppEnv)

	db, err := connectDB(cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv, limiter := buildServer(cfg, db)
	srv.Handler = withGlobalMiddleware(srv.Handler)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		slog.Info("server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		limiter.Sweep(gctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

func buildServer(cfg *config.Config, db *sql.DB) (*http.Server, *ratelimit.Limiter) {
	payments := repository.NewPaymentRepository(db)
	bookings := repository.NewBookingRepository(db)
	orders := repository.NewOrderRepository(db)
	products := repository.NewProductRepository(db)
	ledger := repository.NewLedgerRepository(db)
	events := repository.NewPaymentEventRepository(db)
	disputes := repository.NewDisputeRepository(db)
	alerts := repository.NewFraudAlertRepository(db)

	calc := fees.NewCalculator(cfg.CommissionRate, cfg.ProcessingFeePct, cfg.ProcessingFeeFlat)
	gw := gateway.NewClient(cfg.GatewayURL, time.Duration(cfg.GatewayTimeoutS)*time.Second)
	maxRetryWait := time.Duration(cfg.GatewayMaxRetryWaitS) * time.Second

	fraudEngine := fraud.NewEngine(alerts, payments, disputes, fraud.Thresholds{
		FailedPaymentCount:      cfg.FraudFailedPaymentThreshold,
		FailedPaymentCritical:   cfg.FraudFailedPaymentCritical,
		FailedPaymentWindow:     time.Duration(cfg.FraudFailedPaymentWindowH) * time.Hour,
		DisputeRecurrenceWindow: time.Duration(cfg.FraudDisputeRecurrenceWindowD) * 24 * time.Hour,
		RapidRefundWindow:       time.Duration(cfg.FraudRapidRefundWindowH) * time.Hour,
	})

	intents := intent.NewService(bookings, payments, ledger, orders, gw, calc, fraudEngine, db, maxRetryWait)
	checkouts := checkout.NewService(orders, products, payments, ledger, gw, calc, db, maxRetryWait)
	reconciler := reconcile.NewReconciler(events, payments, bookings, orders, products, fraudEngine, db)
	disputeSvc := dispute.NewService(disputes, bookings, fraudEngine)

	paymentHandler := handler.NewPaymentHandler(intents)
	orderHandler := handler.NewOrderHandler(checkouts)
	webhookHandler := handler.NewWebhookHandler(reconciler, cfg.WebhookSecret)
	disputeHandler := handler.NewDisputeHandler(disputeSvc)
	fraudHandler := handler.NewFraudAlertHandler(alerts)
	healthHandler := handler.NewHealthHandler(db)

	writeLimiter := ratelimit.NewLimiter(cfg.RateLimitRequests, time.Duration(cfg.RateLimitWindowS)*time.Second)

	authn := middleware.Auth(cfg.JWTSecret)
	limited := middleware.RateLimit(writeLimiter)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthHandler.Liveness)
	mux.HandleFunc("GET /health/ready", healthHandler.Readiness)

	mux.Handle("POST /api/v1/payments/intent", authn(limited(http.HandlerFunc(paymentHandler.CreateIntent))))
	mux.Handle("GET /api/v1/payments/{id}", authn(http.HandlerFunc(paymentHandler.Get)))

	mux.Handle("POST /api/v1/orders", authn(limited(http.HandlerFunc(orderHandler.Create))))
	mux.Handle("GET /api/v1/orders/{id}", authn(http.HandlerFunc(orderHandler.Get)))

	mux.Handle("POST /api/v1/disputes", authn(limited(http.HandlerFunc(disputeHandler.Create))))
	mux.Handle("GET /api/v1/disputes", authn(http.HandlerFunc(disputeHandler.List)))
	mux.Handle("POST /api/v1/disputes/{id}/evidence", authn(limited(http.HandlerFunc(disputeHandler.AddEvidence))))
	mux.Handle("POST /api/v1/admin/disputes/{id}/review", authn(middleware.RequireAdmin(http.HandlerFunc(disputeHandler.BeginReview))))
	mux.Handle("POST /api/v1/admin/disputes/{id}/resolve", authn(middleware.RequireAdmin(http.HandlerFunc(disputeHandler.Resolve))))

	mux.Handle("GET /api/v1/admin/fraud-alerts", authn(middleware.RequireAdmin(http.HandlerFunc(fraudHandler.List))))
	mux.Handle("POST /api/v1/admin/fraud-alerts/{id}/resolve", authn(middleware.RequireAdmin(http.HandlerFunc(fraudHandler.Resolve))))

	// Webhook authenticates by signature, not bearer token.
	mux.HandleFunc("POST /api/v1/webhooks/gateway", webhookHandler.ReceiveGatewayWebhook)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, writeLimiter
}

func withGlobalMiddleware(h http.Handler) http.Handler {
	return middleware.Tracing(middleware.Logging(middleware.Recovery(h)))
}

func connectDB(cfg *config.Config) (*sql.DB, error) {
	pool := repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}

	var lastErr error
	for i := range 30 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, pool)
		cancel()
		if err == nil {
			return db, nil
		}
		lastErr = err
		slog.Info("waiting for database", "attempt", i+1)
		time.Sleep(time.Second)
	}

	return nil, fmt.Errorf("connectDB: gave up after 30 attempts: %w", lastErr)
}
