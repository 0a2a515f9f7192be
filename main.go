package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"reqstore/blob"
	"reqstore/config"
	"reqstore/handlers"
	"reqstore/index"
	"reqstore/middleware"
	"reqstore/pypi"
	"reqstore/registry"
	"reqstore/storage"
	"reqstore/tracing"
	"reqstore/watcher"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceColors:     true,
		DisableQuote:    true,
		PadLevelText:    true,
	})

	cfg := config.Load()

	shutdownTracing, err := tracing.Init(context.Background(), logger)
	if err != nil {
		logger.Fatalf("failed to initialize tracing: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warnf("failed to shut down tracing: %v", err)
		}
	}()

	db, err := storage.Open(cfg.SQLitePath)
	if err != nil {
		logger.Fatalf("failed to open DB: %v", err)
	}
	defer db.Close()

	store := &storage.Storage{DB: db}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.InitSchema(ctx); err != nil {
		logger.Fatalf("failed to initialize schema: %v", err)
	}

	blobs, err := newBlobStore(cfg)
	if err != nil {
		logger.Fatalf("failed to set up blob store: %v", err)
	}

	reg := &registry.Registry{
		Store: store,
		Blobs: blobs,
		Log:   logger,
	}

	client := &pypi.Client{
		BaseURL:    cfg.IndexBaseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}

	refresher := &index.Refresher{
		Store:         store,
		Index:         client,
		Log:           logger,
		MaxConcurrent: cfg.RefreshMaxConcurrent,
	}

	handler := &handlers.Handler{
		Store:    store,
		Registry: reg,
		Refresh:  refresher,
		Log:      logger,
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := middleware.NewMetrics(promReg)
	if err != nil {
		logger.Fatalf("failed to register metrics: %v", err)
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(metrics.Handler)

	r.Get("/healthz", handler.Healthz)
	r.Get("/health", handler.Health)
	r.Get("/openapi.yaml", handler.OpenAPI)
	r.Get("/docs", handler.Docs)
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	r.Get("/projects", handler.ListProjects)
	r.Get("/projects/{project}", handler.GetProject)
	r.Post("/projects/{project}/manifests", handler.SnapshotManifest)
	r.Get("/projects/{project}/manifests", handler.ListManifests)
	r.Get("/projects/{project}/manifests/latest", handler.GetLatestManifest)
	r.Get("/projects/{project}/manifests/{id}", handler.GetManifest)
	r.Get("/projects/{project}/manifests/{id}/raw", handler.GetManifestRaw)
	r.Delete("/projects/{project}/manifests/{id}", handler.DeleteManifest)
	r.Post("/projects/{project}/manifests/{id}/edits", handler.EditManifest)
	r.Get("/projects/{project}/manifests/{id}/diff/{to}", handler.DiffManifests)
	r.Get("/projects/{project}/manifests/{id}/outdated", handler.OutdatedManifest)
	r.Put("/projects/{project}/manifests/{id}/states/{state}", handler.SetManifestState)
	r.Delete("/projects/{project}/manifests/{id}/states/{state}", handler.UnsetManifestState)
	r.Post("/lint", handler.LintManifest)
	r.Get("/states", handler.ListStates)
	r.Post("/states", handler.CreateState)
	r.Get("/packages", handler.ListPackages)
	r.Post("/packages/refresh", handler.RefreshPackages)

	if cfg.WithInitialRefresh {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := refresher.RefreshAll(ctx); err != nil {
				logger.Errorf("initial refresh failed: %v", err)
			}
		}()
	}

	if cfg.WithScheduledRefresh {
		c := cron.New()
		_, err := c.AddFunc(cfg.RefreshCron, func() {
			logger.Info("Scheduled refresh triggered")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := refresher.RefreshAll(ctx); err != nil {
				logger.Errorf("scheduled refresh failed: %v", err)
			}
		})
		if err != nil {
			logger.Fatalf("failed to schedule cron: %v", err)
		}
		c.Start()
	}

	if cfg.WatchDir != "" {
		w := &watcher.Watcher{Dir: cfg.WatchDir, Registry: reg, Log: logger}
		go func() {
			if err := w.Run(context.Background()); err != nil {
				logger.Errorf("manifest watcher stopped: %v", err)
			}
		}()
	}

	logger.Infof("starting on port %s...", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, otelhttp.NewHandler(r, "reqstore")); err != nil {
		logger.Fatal(err)
	}
}

func newBlobStore(cfg *config.AppConfig) (blob.Store, error) {
	switch cfg.Blob.Backend {
	case "minio":
		return blob.NewMinio(blob.MinioOptions{
			Endpoint:  cfg.Blob.MinIOEndpoint,
			AccessKey: cfg.Blob.MinIOAccessKey,
			SecretKey: cfg.Blob.MinIOSecretKey,
			UseSSL:    cfg.Blob.MinIOUseSSL,
			Bucket:    cfg.Blob.MinIOBucket,
		})
	case "filesystem":
		return blob.NewFS(cfg.Blob.Dir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
}
