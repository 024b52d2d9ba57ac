package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aoi-tools/aoi-workbench/internal/aoi"
	"github.com/aoi-tools/aoi-workbench/internal/config"
	"github.com/aoi-tools/aoi-workbench/internal/geometry"
	"github.com/aoi-tools/aoi-workbench/internal/logger"
	"github.com/aoi-tools/aoi-workbench/internal/observability"
	"github.com/aoi-tools/aoi-workbench/internal/server"
	"github.com/aoi-tools/aoi-workbench/internal/store"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		Component: "aoi-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting aoi workbench",
		"addr", cfg.Addr,
		"version", Version,
		"redis", cfg.RedisAddr)

	// No reachable store is a supported degraded mode: the workbench
	// runs memory-only and every save becomes a no-op.
	var kv store.KV
	dialCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	rkv, err := store.NewRedis(dialCtx, cfg.RedisAddr)
	cancel()
	if err != nil {
		appLog.Warn("durable store unavailable, running memory-only", "err", err)
		kv = store.NoopKV{}
	} else {
		kv = rkv
	}
	adapter := store.NewAdapter(appLog, kv, cfg.StoreNamespace, cfg.StoreOpTimeout)
	defer func() { _ = adapter.Close() }()

	engine := geometry.NewEngine(cfg.GeomCacheSize)
	repo := aoi.NewRepository(appLog, engine, adapter, cfg.HitTestRes)
	session := aoi.NewSession(appLog, repo)

	loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	recs, err := adapter.LoadAOIs(loadCtx)
	if err != nil {
		appLog.Warn("load stored areas", "err", err)
	}
	repo.Hydrate(recs)

	projectName, err := adapter.LoadProjectName(loadCtx, cfg.ProjectName)
	cancel()
	if err != nil {
		appLog.Warn("load project name", "err", err)
	}
	appLog.Info("state loaded", "areas", repo.Len(), "project", projectName)

	api := server.NewAPI(appLog, repo, session, adapter, projectName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, appLog, api); err != nil {
		appLog.Error("server failed", "err", err)
		return 1
	}
	return 0
}
