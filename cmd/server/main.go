package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coeditd/coeditd/internal/server/handlers"
	"github.com/coeditd/coeditd/internal/server/jwt"
	"github.com/coeditd/coeditd/internal/server/middleware"
	"github.com/coeditd/coeditd/internal/server/session"
	"github.com/coeditd/coeditd/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", "localhost:8080", "Address to listen on")
	dbPath := flag.String("db", "coedit-server.db", "Path to the SQLite database")
	retention := flag.Duration("idempotency-retention", 24*time.Hour, "Idempotency record retention window")
	docRate := flag.Int("doc-rate", 10, "Writes allowed per user per document within the window")
	userRate := flag.Int("user-rate", 60, "Writes allowed per user across documents within the window")
	rateWindow := flag.Duration("rate-window", 10*time.Second, "Rate limit window")
	flag.Parse()

	if *showVersion {
		printVersion()
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	jwtSecret := os.Getenv("COEDIT_JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("COEDIT_JWT_SECRET is not set")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Opening database", "path", *dbPath)
	store, err := sqlite.New(ctx, *dbPath, *retention)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	tokens := jwt.NewService(jwtSecret)
	documents := handlers.NewDocumentHandler(logger, store, store, store)
	health := handlers.NewHealthHandler(logger, Version)
	hub := session.NewHub(store, store, logger)
	writeLimiter := middleware.NewWriteLimiter(*docRate, *rateWindow, *userRate, *rateWindow, logger)

	authed := middleware.AuthMiddleware(logger, tokens)
	limited := middleware.WriteRateLimitMiddleware(writeLimiter, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", health.Health)
	mux.Handle("POST /api/v1/documents", authed(http.HandlerFunc(documents.HandleCreate)))
	mux.Handle("GET /api/v1/documents/{id}", authed(http.HandlerFunc(documents.HandleGet)))
	mux.Handle("PATCH /api/v1/documents/{id}", authed(limited(http.HandlerFunc(documents.HandleSave))))
	mux.Handle("GET /api/v1/documents/{id}/ws", authed(http.HandlerFunc(hub.ServeWS)))

	handler := middleware.LoggingMiddleware(logger)(middleware.RecoveryMiddleware(logger)(mux))

	wg := new(sync.WaitGroup)

	// expired idempotency records are swept in the background; the
	// retention window itself guarantees correctness, this just bounds
	// table growth
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := store.DeleteExpired(ctx, time.Now().Add(-*retention))
				if err != nil {
					logger.Error("Idempotency cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					logger.Info("Removed expired idempotency records", "count", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	httpServer := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Server listening", "addr", *addr, "version", Version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Listen failed", "error", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	logger.Info("Signal caught, shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
		_ = httpServer.Close()
	}

	cancel()
	wg.Wait()
	return nil
}

func printVersion() {
	fmt.Printf("coedit server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
