package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jmuthoni/samani-backend/api/routes"
	"github.com/jmuthoni/samani-backend/internal/cart"
	checkoutsvc "github.com/jmuthoni/samani-backend/internal/checkout"
	"github.com/jmuthoni/samani-backend/internal/inventory"
	"github.com/jmuthoni/samani-backend/internal/orders"
	"github.com/jmuthoni/samani-backend/internal/payments"
	"github.com/jmuthoni/samani-backend/internal/products"
	"github.com/jmuthoni/samani-backend/pkg/config"
	"github.com/jmuthoni/samani-backend/pkg/db"
	"github.com/jmuthoni/samani-backend/pkg/logger"
	"github.com/jmuthoni/samani-backend/pkg/migrate"
	"github.com/jmuthoni/samani-backend/pkg/mpesa"
	"github.com/jmuthoni/samani-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var gateway mpesa.Gateway
	if !cfg.Mpesa.TestMode {
		client, err := mpesa.NewClient(context.Background(), cfg.Mpesa, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create mpesa client", err)
			os.Exit(1)
		}
		gateway = client
	}

	gormDB := dbClient.DB()
	productsRepo := products.NewRepository(gormDB)
	ordersRepo := orders.NewRepository(gormDB)
	paymentsRepo := payments.NewRepository(gormDB)
	cartRepo := cart.NewRepository(gormDB)
	inventoryService := inventory.NewService()

	paymentsService, err := payments.NewService(paymentsRepo, ordersRepo, cartRepo, inventoryService, dbClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	ordersService, err := orders.NewService(ordersRepo, dbClient, inventoryService)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(
		productsRepo,
		ordersRepo,
		paymentsRepo,
		paymentsService,
		inventoryService,
		gateway,
		dbClient,
		logg,
		checkoutsvc.Config{
			ShippingRate: cfg.Shipping.Rate(),
			TestMode:     cfg.Mpesa.TestMode,
		},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"test_mode": cfg.Mpesa.TestMode,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, checkoutService, ordersService, paymentsService),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		// let in-flight gateway callbacks finish before closing
		drainCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(ctx, "server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shut down gracefully")
}
