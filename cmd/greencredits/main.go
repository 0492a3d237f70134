package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"greencredits/internal/clock"
	"greencredits/internal/config"
	"greencredits/internal/database"
	"greencredits/internal/handler"
	"greencredits/internal/mw"
	"greencredits/internal/service"
	"greencredits/internal/storage/memory"
	mongostore "greencredits/internal/storage/mongo"
	"greencredits/internal/storage/postgres"
	"greencredits/internal/worker"
)

type store interface {
	service.CreditLedger
	service.OrderStore
	service.CatalogStore
	service.ParcelRegistry
}

func main() {
	cfg := config.New()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	clk := clock.NewSystem()

	st, closeStore, err := openStore(context.Background(), cfg, clk)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Services
	issuer, err := service.NewCertificateIssuer(cfg.CertificateSecret)
	if err != nil {
		slog.Error("failed to init certificate issuer", "error", err)
		os.Exit(1)
	}
	receipts, err := service.NewReceiptSigner(cfg.ReceiptSecret, clk)
	if err != nil {
		slog.Error("failed to init receipt signer", "error", err)
		os.Exit(1)
	}
	ledgerClient := service.NewLedgerClient(cfg.LedgerAddress, service.WithRequestTimeout(cfg.NotifyTimeout))
	coordinator := service.NewTransferCoordinator(st, st, issuer, ledgerClient,
		service.WithNotifyTimeout(cfg.NotifyTimeout),
		service.WithClock(clk),
	)

	// Worker
	reconciler := worker.NewReconciler(st, st, clk,
		worker.WithInterval(cfg.ReconcileInterval),
		worker.WithPendingTTL(cfg.PendingTTL),
	)

	// Router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(mw.RequestLogger(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/", handler.WelcomeHandler())
	r.Post("/create-order", handler.CreateOrderHandler(coordinator))
	r.Get("/orders/{transferID}", handler.GetOrderHandler(coordinator))
	r.Get("/orders/{transferID}/receipt", handler.ReceiptHandler(coordinator, receipts))
	r.Post("/receipts/verify", handler.VerifyReceiptHandler(receipts))
	r.Post("/parcels", handler.RegisterParcelHandler(st))
	r.Get("/parcels/{parcelID}", handler.GetParcelHandler(st))
	r.Get("/registered_land", handler.ListRegisteredLandsHandler(st))
	r.Get("/buy-credits", handler.ListBuyCreditsHandler(st))

	srv := &http.Server{
		Addr:         cfg.RunAddress,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.NotifyTimeout + 10*time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go reconciler.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	slog.Info("starting server", "addr", cfg.RunAddress, "ledger", cfg.LedgerAddress)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	<-quit
	slog.Info("shutting down...")

	cancel() // stop reconciler
	ctxShut, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShut()

	if err := srv.Shutdown(ctxShut); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}

	slog.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, clk clock.Clock) (store, func(), error) {
	backend, err := cfg.Backend()
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case config.BackendPostgres:
		pool, err := database.NewDB(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := database.InitSchema(ctx, pool); err != nil {
			database.CloseDB(pool)
			return nil, nil, fmt.Errorf("init schema: %w", err)
		}
		slog.Info("using postgres storage")
		return postgres.New(pool), func() { database.CloseDB(pool) }, nil

	case config.BackendMongo:
		client, db, err := database.NewMongo(ctx, cfg.DatabaseURI)
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		st := mongostore.New(client, db, clk)
		if err := st.Migrate(ctx); err != nil {
			database.CloseMongo(ctx, client)
			return nil, nil, fmt.Errorf("migrate mongo: %w", err)
		}
		slog.Info("using mongo storage", "database", db.Name())
		return st, func() { database.CloseMongo(context.Background(), client) }, nil

	default:
		slog.Warn("using in-memory storage, state is lost on restart")
		return memory.New(clk), func() {}, nil
	}
}
