package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/shopgeo/internal/db"
	"github.com/kailas-cloud/shopgeo/internal/metrics"
	"github.com/kailas-cloud/shopgeo/internal/query"
	chiTransport "github.com/kailas-cloud/shopgeo/internal/transport/chi"
	healthuc "github.com/kailas-cloud/shopgeo/internal/usecase/health"
	searchuc "github.com/kailas-cloud/shopgeo/internal/usecase/search"
	"github.com/kailas-cloud/shopgeo/internal/version"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()
			if port > 0 {
				a.cfg.HTTP.Port = port
			}
			return a.serve(cmd.Context(), nil)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides http.port)")

	return cmd
}

// serve runs the HTTP server until ctx is canceled. When ready is non-nil it
// receives the bound address once the listener is open.
func (a *app) serve(ctx context.Context, ready chan<- string) error {
	logger := a.logger
	logger.Info("Starting shopgeo API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", a.env),
		zap.Int("http_port", a.cfg.HTTP.Port),
		zap.String("cache_driver", a.cfg.Cache.Driver),
	)

	if err := a.loadDataset(ctx); err != nil {
		return err
	}
	if dangling := a.reportIntegrity(); len(dangling) > 0 {
		logger.Warn("Dataset has dangling references", zap.Int("count", len(dangling)))
	}

	store, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	// Pass nil interfaces (not typed nil pointers) when caching is disabled.
	var (
		kv     db.KVStore
		pinger healthuc.CachePinger
	)
	if store != nil {
		defer store.Close()
		kv, pinger = store, store
	}

	metrics.RegisterSearchMetrics()
	for _, kind := range a.dataset.Kinds() {
		metrics.DatasetRecords.WithLabelValues(string(kind)).Set(float64(a.dataset.Len(kind)))
	}

	searchSvc := searchuc.New(query.New(a.dataset), kv, a.searchConfig(), metrics.CacheTotal, logger).
		WithKeyPrefix(a.cfg.Cache.KeyPrefix).
		WithObservers(searchuc.Observers{
			Duration: metrics.SearchDuration,
			Nearby:   metrics.SearchNearbyShops,
		})
	logger.Info("Search cache namespace",
		zap.String("key_prefix", a.cfg.Cache.KeyPrefix),
		zap.String("dataset_version", searchSvc.DatasetVersion()),
	)
	healthSvc := healthuc.New(a.dataset, pinger)

	server := chiTransport.NewServer(searchSvc, healthSvc, logger)
	handler := chiTransport.NewRouter(server, chiTransport.RouterConfig{
		CORSOrigin: a.cfg.HTTP.CORSOrigin,
		RateRPS:    a.cfg.RateLimit.RPS,
		RateBurst:  a.cfg.RateLimit.Burst,
	}, logger)

	addr := fmt.Sprintf(":%d", a.cfg.HTTP.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	if ready != nil {
		ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}
