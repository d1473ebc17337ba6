package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/joshp123/dreamehome/internal/config"
	"github.com/joshp123/dreamehome/internal/core"
	"github.com/joshp123/dreamehome/internal/logging"
	"github.com/joshp123/dreamehome/internal/plugins"
	"github.com/joshp123/dreamehome/internal/router"
	"github.com/joshp123/dreamehome/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to config.yaml")
	allPlugins := flag.Bool("all-plugins", false, "Activate every compiled-in plugin regardless of config")
	flag.Parse()

	logger := logging.Default()
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.Logging, version)

	if err := run(cfg, logger, *allPlugins); err != nil {
		logger.Error("dreamehome exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger, allPlugins bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	compiled := plugins.Compiled(cfg, logger.Logger)
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, allPlugins); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, allPlugins)
	if err := core.ValidatePlugins(active); err != nil {
		return err
	}
	for _, p := range active {
		logger.Info("plugin loaded", "plugin", p.ID(), "health", p.Health(), "message", p.HealthMessage())
	}

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		logger.Warn("write dashboards", "dir", cfg.Core.DashboardDir, "error", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr)
	if err != nil {
		return err
	}
	router.RegisterPlugins(grpcServer.Server, active)

	metricsRegistry := core.MetricsRegistry(active)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "dreamehome_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 }))

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/health", server.HealthHandler)
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry))
	httpMux.Handle("/dashboards/", server.DashboardsHandler(core.DashboardsMap(active)))
	for _, p := range active {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(httpMux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	var lifecycles []core.Lifecycle
	defer func() {
		for _, lc := range lifecycles {
			if err := lc.Close(); err != nil {
				logger.Warn("plugin close", "error", err)
			}
		}
	}()
	for _, p := range active {
		lc, ok := p.(core.Lifecycle)
		if !ok {
			continue
		}
		if err := lc.Start(ctx); err != nil {
			return err
		}
		lifecycles = append(lifecycles, lc)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("grpc listening", "addr", cfg.Core.GRPCAddr)
		return grpcServer.Serve()
	})
	group.Go(func() error {
		logger.Info("http listening", "addr", cfg.Core.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.Stop()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
