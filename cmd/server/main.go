package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signage-cms/internal/objectstore"
	"signage-cms/internal/platform/config"
	"signage-cms/internal/platform/logger"
	"signage-cms/internal/platform/metrics"
	"signage-cms/internal/signage"
	"signage-cms/internal/statusstore"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

const (
	shutdownTimeout    = 10 * time.Second
	storeGaugeInterval = 30 * time.Second
)

func main() {
	_ = config.Load()
	cfg := config.FromEnv()

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	objects, err := openObjectStore(cfg)
	if err != nil {
		log.Error("open object store", "backend", cfg.ObjectStore, "error", err)
		os.Exit(1)
	}
	defer objects.Close()

	status, err := openStatusStore(cfg)
	if err != nil {
		log.Error("open status store", "backend", cfg.StatusStore, "error", err)
		os.Exit(1)
	}
	defer status.Close()

	met := metrics.New()
	svc := signage.NewService(objects, status, signage.Options{
		KeyRoot:          cfg.KeyRoot,
		PublicBase:       cfg.PublicBaseURL,
		ImageDurationSec: cfg.ImageDurationSec,
		OnlineTTL:        cfg.OnlineTTL,
		Metrics:          met,
	})

	var limiter func(http.Handler) http.Handler
	if cfg.HeartbeatRatePerMin > 0 {
		limiter = httprate.LimitByIP(cfg.HeartbeatRatePerMin, time.Minute)
	}
	h := signage.NewHandler(svc, log, met, signage.HandlerOptions{
		PlayerBase:       cfg.PlayerBaseURL,
		MaxUploadBytes:   cfg.MaxUploadBytes,
		HeartbeatLimiter: limiter,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	// Counting stores scans the whole key space, so refresh the gauge at
	// most once per storeGaugeInterval.
	refreshStores := metrics.Throttle(storeGaugeInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		stores, err := svc.ListStores(ctx)
		if err != nil {
			log.Warn("count stores for metrics", "error", err)
			return
		}
		met.SetStores(len(stores))
	})
	r.Method(http.MethodGet, "/metrics", met.Handler(refreshStores))
	h.Mount(r)

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", cfg.Port,
		"key_root", cfg.KeyRoot,
		"public_base", cfg.PublicBaseURL,
		"object_store", cfg.ObjectStore,
		"status_store", cfg.StatusStore,
		"online_ttl", cfg.OnlineTTL.String(),
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return
	}

	log.Info("server stopped")
}

func openObjectStore(cfg config.Config) (objectstore.Store, error) {
	switch cfg.ObjectStore {
	case "memory", "":
		return objectstore.NewMemoryStore(), nil
	case "bolt":
		return objectstore.OpenBoltStore(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown OBJECT_STORE %q", cfg.ObjectStore)
	}
}

func openStatusStore(cfg config.Config) (statusstore.Store, error) {
	switch cfg.StatusStore {
	case "memory", "":
		return statusstore.NewMemoryStore(), nil
	case "sqlite":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return statusstore.OpenSQLiteStore(ctx, cfg.SQLiteDSN)
	default:
		return nil, fmt.Errorf("unknown STATUS_STORE %q", cfg.StatusStore)
	}
}
