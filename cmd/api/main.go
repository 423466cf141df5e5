package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pocketcdn/service/internal/config"
	"github.com/pocketcdn/service/internal/content"
	appMiddleware "github.com/pocketcdn/service/internal/middleware"
	"github.com/pocketcdn/service/internal/optimizer"
	"github.com/pocketcdn/service/internal/response"
	"github.com/pocketcdn/service/internal/storage"
)

func main() {
	cfg := config.Load()

	store, err := newStore(cfg)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	format, err := optimizer.ParseFormat(cfg.OptimizeFormat)
	if err != nil {
		log.Fatalf("invalid OPTIMIZE_FORMAT: %v", err)
	}
	policy := optimizer.Options{
		MaxWidth:  cfg.OptimizeMaxWidth,
		MaxHeight: cfg.OptimizeMaxHeight,
		Quality:   cfg.OptimizeQuality,
		Format:    format,
	}

	// Wire dependencies: store → service → handler
	svc := content.NewService(store, policy, cfg.MaxUploadBytes)
	handler := content.NewHandler(svc, cfg.MaxUploadBytes)

	// Router
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 5 * time.Minute, // large uploads on slow links
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine; wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("server listening on :%s (env=%s, backend=%s)", cfg.Port, cfg.AppEnv, cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}

	log.Println("server stopped")
}

// newStore constructs the tiered store the config selects.
func newStore(cfg *config.Config) (storage.TieredStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewMinioStore(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	default:
		store, err := storage.NewFSStore(cfg.StorageRoot)
		if err != nil {
			return nil, err
		}
		log.Printf("storage root: %s", store.Root())
		return store, nil
	}
}
