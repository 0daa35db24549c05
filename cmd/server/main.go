// aftp server
//
// Serves one shared file tree over HTTP:
// - tree, children, subtree and raw content reads
// - folder and file creation, recursive deletion (allow-listed callers)
// - tree snapshots to a file, PostgreSQL or BoltDB after every mutation
// - content on local disk or S3 with an optional read cache
// - SSE mutation events, write rate limiting, Prometheus metrics
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/aftp/internal/api"
	"github.com/fruitsalade/aftp/internal/auth"
	"github.com/fruitsalade/aftp/internal/config"
	"github.com/fruitsalade/aftp/internal/events"
	"github.com/fruitsalade/aftp/internal/fstree"
	"github.com/fruitsalade/aftp/internal/logging"
	"github.com/fruitsalade/aftp/internal/metrics"
	"github.com/fruitsalade/aftp/internal/quota"
	"github.com/fruitsalade/aftp/internal/snapshot"
	"github.com/fruitsalade/aftp/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("aftp server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tree snapshot sink
	snapshots, err := snapshot.New(ctx, cfg)
	if err != nil {
		logging.Fatal("snapshot store init failed", zap.Error(err))
	}
	defer snapshots.Close()

	root, err := snapshot.LoadOrInit(ctx, snapshots)
	if err != nil {
		logging.Fatal("snapshot load failed",
			zap.String("backend", snapshots.Type()), zap.Error(err))
	}
	tree := fstree.NewStore(root, snapshots)
	logging.Info("tree loaded",
		zap.String("backend", snapshots.Type()),
		zap.Int("entries", tree.Size()))

	// Content storage
	content, err := storage.Open(ctx, cfg)
	if err != nil {
		logging.Fatal("content storage init failed", zap.Error(err))
	}
	defer content.Close()
	logging.Info("content storage initialized", zap.String("backend", content.Type()))

	authHandler := auth.New(cfg.AllowedClients, cfg.TokenSecret)
	if len(cfg.AllowedClients) == 0 {
		logging.Warn("no allowed clients configured, the tree is read-only")
	}

	rateLimiter := quota.NewRateLimiter(cfg.WriteRequestsPerMinute)
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go rateLimiter.RunCleanup(5*time.Minute, 10*time.Minute, stopCleanup)

	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	srv := api.NewServer(tree, content, authHandler, rateLimiter, broadcaster, cfg.MaxUploadSize)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		// Close event streams first so Shutdown does not wait on them.
		broadcaster.Close()

		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("http shutdown", zap.Error(err))
		}
		metricsServer.Close()
	}()

	if useTLS {
		logging.Info("server listening (TLS)", zap.String("addr", cfg.ListenAddr))
		err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
	} else {
		logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
		err = httpServer.ListenAndServe()
	}
	if !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server error", zap.Error(err))
	}
	<-stopped

	// Final snapshot so the sink matches the tree even if the last
	// mutation's persist failed.
	if err := tree.Persist(context.Background()); err != nil {
		logging.Error("final snapshot failed", zap.Error(err))
	}
	logging.Info("server stopped")
}
