// Command exray-api serves the run orchestration API: it accepts dataset
// uploads, submits workflows to the batch engine, and exposes run status,
// logs, and result downloads.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ameen-91/exray/internal/api"
	"github.com/ameen-91/exray/internal/artifact"
	"github.com/ameen-91/exray/internal/cluster"
	"github.com/ameen-91/exray/internal/observability"
	"github.com/ameen-91/exray/internal/platform/auth"
	"github.com/ameen-91/exray/internal/platform/env"
	"github.com/ameen-91/exray/internal/platform/httpserver"
	"github.com/ameen-91/exray/internal/platform/objectstore"
	"github.com/ameen-91/exray/internal/platform/postgres"
	"github.com/ameen-91/exray/internal/runs"
	"github.com/ameen-91/exray/internal/state"
	"github.com/ameen-91/exray/internal/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const service = "exray-api"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("exray-api exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("object store config: %w", err)
	}
	engineCfg, err := workflow.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	minioClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		return fmt.Errorf("object store client: %w", err)
	}
	if err := objectstore.EnsureBucket(ctx, minioClient, storeCfg); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	artifacts, err := artifact.NewMinioStoreWithClient(minioClient, storeCfg)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	runStore, closeStore, err := newRunStore(ctx, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := workflow.NewClient(engineCfg)
	if err != nil {
		return fmt.Errorf("engine client: %w", err)
	}
	catalog := workflow.NewCatalog(storeCfg.Bucket)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	svc := runs.New(logger, runStore, engine, artifacts, catalog, metrics)

	var clusterInfo api.ClusterInfoSource
	clusterCfg, err := cluster.ConfigFromEnv()
	if err != nil {
		return fmt.Errorf("cluster config: %w", err)
	}
	clusterClient, err := cluster.NewClient(clusterCfg)
	if err != nil {
		return fmt.Errorf("cluster client: %w", err)
	}
	if clusterClient != nil {
		clusterInfo = clusterClient
	}

	health := healthChecks{artifacts.Healthy, engine.Ping}

	mux := http.NewServeMux()
	api.NewHandler(logger, svc, clusterInfo, health).Register(mux)
	mux.Handle("GET /healthz", httpserver.Healthz(service))
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	authMW, err := newAuthMiddleware(ctx, logger, authCfg)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	handler := httpserver.Wrap(logger, service, authMW.Wrap(mux))

	return httpserver.Run(ctx, logger, httpserver.Config{
		Service:         service,
		Addr:            env.String("EXRAY_HTTP_ADDR", ":8000"),
		ShutdownTimeout: 10 * time.Second,
	}, handler)
}

// healthChecks runs each probe in order and reports the first failure.
type healthChecks []func(ctx context.Context) error

func (c healthChecks) Healthy(ctx context.Context) error {
	for _, check := range c {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// newRunStore selects the registry backend. The default file store needs no
// infrastructure; postgres is opt-in for shared deployments.
func newRunStore(ctx context.Context, logger *slog.Logger) (state.Store, func(), error) {
	backend := strings.ToLower(env.String("EXRAY_STATE_BACKEND", "file"))
	switch backend {
	case "file":
		path := env.String("EXRAY_STATE_FILE", "")
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, nil, fmt.Errorf("resolve state file path: %w", err)
			}
			path = filepath.Join(home, "exray_data.json")
		}
		logger.Info("using file run registry", "path", path)
		return state.NewFileStore(path), func() {}, nil

	case "postgres":
		cfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("postgres config: %w", err)
		}
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := state.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		logger.Info("using postgres run registry")
		return state.NewPostgresStore(db), func() { _ = db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("EXRAY_STATE_BACKEND must be file or postgres (got %q)", backend)
	}
}

func newAuthMiddleware(ctx context.Context, logger *slog.Logger, cfg auth.Config) (auth.Middleware, error) {
	mw := auth.Middleware{
		Logger:       logger,
		SkipPrefixes: []string{"/health", "/healthz", "/metrics"},
	}
	switch cfg.Mode {
	case auth.ModeDisabled:
	case auth.ModeDev:
		mw.Authenticator = auth.NewDevAuthenticator(cfg)
	case auth.ModeOIDC:
		authenticator, err := auth.NewOIDCAuthenticator(ctx, cfg)
		if err != nil {
			return auth.Middleware{}, err
		}
		mw.Authenticator = authenticator
	}
	return mw, nil
}
