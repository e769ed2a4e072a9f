package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sitewatch/internal/api"
	"sitewatch/internal/archive"
	archgcs "sitewatch/internal/archive/gcs"
	archlocal "sitewatch/internal/archive/local"
	archmemory "sitewatch/internal/archive/memory"
	"sitewatch/internal/clock/system"
	"sitewatch/internal/config"
	"sitewatch/internal/extract"
	"sitewatch/internal/fetch"
	"sitewatch/internal/match"
	"sitewatch/internal/notify"
	"sitewatch/internal/publish"
	pubmemory "sitewatch/internal/publish/memory"
	pubgcp "sitewatch/internal/publish/pubsub"
	"sitewatch/internal/runner"
	"sitewatch/internal/scheduler"
	"sitewatch/internal/store"
	memstore "sitewatch/internal/store/memory"
	pgstore "sitewatch/internal/store/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer syncLogger(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	st, cleanup, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	svc, svcCleanup, err := buildRunner(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer svcCleanup()

	clock := system.New()

	if swept, err := svc.SweepStaleRuns(ctx); err != nil {
		logger.Warn("stale run sweep failed", zap.Error(err))
	} else if swept > 0 {
		logger.Info("swept stale runs", zap.Int("count", swept))
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(st, svc, clock, cfg.PollInterval(), logger)
		go sched.Run(ctx)
	}

	server := api.NewServer(st, svc, logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// buildRunner assembles the fetch pipeline, notification channels and the run
// service. The returned cleanup releases the renderer and publisher.
func buildRunner(ctx context.Context, cfg config.Config, st store.Store, logger *zap.Logger) (*runner.Service, func(), error) {
	clock := system.New()
	cleanups := []func(){}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	profiles := fetch.NewProfilePool(int64(cfg.Runner.ProfileRotationSeed))
	rotator := fetch.NewProxyRotator(st, 0, logger)
	if err := rotator.Reload(ctx); err != nil {
		logger.Warn("initial proxy reload failed", zap.Error(err))
	}
	if cfg.Runner.ProxyReloadMinutes > 0 {
		go reloadProxiesLoop(ctx, rotator, time.Duration(cfg.Runner.ProxyReloadMinutes)*time.Minute, logger)
	}

	httpFetcher := fetch.NewHTTPFetcher(fetch.HTTPConfig{
		Timeout:     cfg.FetchTimeout(),
		MaxBodySize: cfg.Fetch.MaxBodyBytes,
	}, profiles, rotator, logger)

	var strategy *fetch.Strategy
	if cfg.Headless.Enabled {
		renderer, err := fetch.NewRenderer(fetch.RendererConfig{
			MaxParallel: cfg.Headless.MaxParallel,
			Timeout:     time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		}, logger)
		if err != nil {
			logger.Warn("headless renderer unavailable, using plain http only", zap.Error(err))
			strategy = fetch.NewStrategy(nil, httpFetcher, logger)
		} else {
			cleanups = append(cleanups, renderer.Close)
			strategy = fetch.NewStrategy(renderer, httpFetcher, logger)
		}
	} else {
		strategy = fetch.NewStrategy(nil, httpFetcher, logger)
	}

	blobs, err := buildArchive(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if blobs != nil {
		strategy.SetArchive(blobs)
	}

	dispatcher := notify.NewDispatcher(
		notify.NewEmailSender(st, logger),
		notify.NewWebhookSender(st, logger),
		st, clock, logger,
	)

	publisher, pubCleanup, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	cleanups = append(cleanups, pubCleanup)

	svc := runner.NewService(runner.Config{
		MaxSubpages: cfg.Runner.MaxSubpages,
		StaleRunAge: cfg.StaleRunAge(),
	}, st, strategy, extract.New(logger), match.New(match.NewLexicalSimilarity()), dispatcher, publisher, clock, logger)

	return svc, cleanup, nil
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.Database.Backend {
	case "postgres":
		st, err := pgstore.NewStore(ctx, pgstore.Config{
			DSN:      cfg.Database.DSN,
			MaxConns: int32(cfg.Database.MaxOpenConns),
			MinConns: int32(cfg.Database.MinIdleConns),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return st, st.Close, nil
	default:
		return memstore.NewStore(), func() {}, nil
	}
}

func buildArchive(ctx context.Context, cfg config.Config) (archive.BlobStore, error) {
	switch cfg.Archive.Backend {
	case "memory":
		return archmemory.NewBlobStore(), nil
	case "local":
		return archlocal.New(archlocal.Config{BaseDir: cfg.Archive.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		return archgcs.New(client, archgcs.Config{Bucket: cfg.Archive.GCSBucket})
	default:
		return nil, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (publish.Publisher, func(), error) {
	if !cfg.PubSub.Enabled {
		return pubmemory.New(), func() {}, nil
	}
	pub, err := pubgcp.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub publisher: %w", err)
	}
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("pubsub close failed", zap.Error(err))
		}
	}, nil
}

func reloadProxiesLoop(ctx context.Context, rotator *fetch.ProxyRotator, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rotator.Reload(ctx); err != nil {
				logger.Warn("proxy reload failed", zap.Error(err))
			}
		}
	}
}
