package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jogardn/roast-orders/internal/config"
	"github.com/jogardn/roast-orders/internal/events"
	"github.com/jogardn/roast-orders/internal/memstore"
	"github.com/jogardn/roast-orders/internal/metrics"
	"github.com/jogardn/roast-orders/internal/numbering"
	"github.com/jogardn/roast-orders/internal/orders"
	"github.com/jogardn/roast-orders/internal/postgres"
	"github.com/jogardn/roast-orders/internal/pricing"
	"github.com/jogardn/roast-orders/internal/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const serviceName = "order-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := cfg.NewLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, db, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open order store")
	}
	if db != nil {
		defer db.Close()
	}

	allocator := numbering.NewAllocator(cfg.Location)
	manager := orders.NewManager(store, allocator, orders.Options{
		Product: cfg.Orders.Product,
		Retry:   cfg.RetryPolicy(),
	}, logger)

	if cfg.Kafka.Brokers != "" {
		producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		manager.AddNotifier(producer)
	} else {
		logger.Warn("KAFKA_BROKERS is empty, lifecycle events will not be published")
	}

	hub := websocket.NewHub(logger, cfg.Server.AllowedOrigins...)
	go hub.Run(ctx)
	manager.AddNotifier(hub)

	handler := orders.NewHandler(manager, logger, cfg.ExposeErrorDetails())

	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	router.HandleFunc("/ws", hub.HandleWebSocket)
	router.Handle("/metrics", promhttp.Handler())

	router.Use(loggingMiddleware(logger))
	router.Use(metrics.Middleware(serviceName))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.OrderServicePort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":     cfg.Server.OrderServicePort,
			"driver":   cfg.StoreDriver,
			"timezone": cfg.Location.String(),
			"product":  cfg.Orders.Product,
		}).Info("Starting order service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	cancel()

	logger.Info("Server gracefully stopped")
}

// openStore returns the configured store. db is nil for the memory driver.
func openStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (orders.Store, *sql.DB, error) {
	if cfg.StoreDriver == config.DriverMemory {
		store := memstore.New()
		store.Seed(cfg.Orders.Product, cfg.InitialStock, pricing.Defaults())
		logger.WithField("initial_stock", cfg.InitialStock.String()).Warn("Using in-memory store, orders are lost on restart")
		return store, nil, nil
	}

	db, err := postgres.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.CreateTables(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := postgres.Seed(ctx, db, cfg.Orders.Product, cfg.InitialStock, pricing.Defaults()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return postgres.NewStore(db, logger), db, nil
}

func loggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set("X-Request-ID", requestID)

			logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"remote":     r.RemoteAddr,
			}).Debug("Request received")

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
				"duration":   time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
