// Package main is the entry point for the rnadiff pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rnadiff/rnadiff/internal/api"
	"github.com/rnadiff/rnadiff/internal/config"
	"github.com/rnadiff/rnadiff/internal/pipeline"
	"github.com/rnadiff/rnadiff/internal/resultstore"
	"github.com/rnadiff/rnadiff/logger"
)

func main() {
	configPath := flag.String("config", "config/rnadiff.yaml", "Path to configuration file")
	serveOnly := flag.Bool("serve-only", false, "Skip the analysis and serve stored runs")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Parse()

	level := zapcore.InfoLevel
	if *verbose {
		level = zapcore.DebugLevel
	}
	if err := logger.Init(level); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if !*serveOnly {
		summary, err := pipeline.Run(cfg)
		if err != nil {
			logger.Fatal("pipeline failed", zap.Error(err))
		}
		logger.Info("analysis finished",
			zap.String("run_id", summary.RunID),
			zap.String("output_dir", summary.OutputDir))
	}

	if !cfg.Server.Enabled && !*serveOnly {
		return
	}
	if cfg.Store.SQLitePath == "" {
		logger.Fatal("serve mode needs store.sqlite_path")
	}

	serve(cfg)
}

func serve(cfg *config.Config) {
	store, err := resultstore.NewStore(cfg.Store.SQLitePath)
	if err != nil {
		logger.Fatal("failed to open result store", zap.Error(err))
	}
	defer store.Close()

	cacheManager, err := api.NewCacheManager(api.CacheConfig{
		FigureCacheSizeMB: cfg.Server.FigureCacheMB,
		FigureTTL:         time.Duration(cfg.Server.FigureTTLMinutes) * time.Minute,
		QueryCacheSize:    cfg.Server.QueryCacheSize,
	})
	if err != nil {
		logger.Fatal("failed to initialize cache", zap.Error(err))
	}
	defer cacheManager.Close()

	router := api.NewRouter(api.RouterConfig{
		Store:       store,
		Cache:       cacheManager,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
