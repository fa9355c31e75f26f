package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/ngojclee/proxy-farm-system/agent/fleet"
	"github.com/ngojclee/proxy-farm-system/agent/metrics"
	"github.com/ngojclee/proxy-farm-system/control-plane/api"
	"github.com/ngojclee/proxy-farm-system/control-plane/config"
	"github.com/ngojclee/proxy-farm-system/control-plane/database"
	"github.com/ngojclee/proxy-farm-system/control-plane/notify"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("proxyfarm-control-plane", pflag.ContinueOnError)
	config.AddFlags(flagSet)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	configPath, _ := flagSet.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return err
	}
	if err := cfg.ApplyFlags(flagSet); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := cfg.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := database.OpenStores(cfg.StorageBackend, cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer stores.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	fleetMetrics, err := metrics.NewPrometheus(registry, "proxyfarm")
	if err != nil {
		return err
	}

	notifiers := fleet.MultiNotifier{fleet.NewLogNotifier(logger)}
	if cfg.NATS.URL != "" {
		natsNotifier, err := notify.DialNATS(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			return err
		}
		defer natsNotifier.Close()
		notifiers = append(notifiers, natsNotifier)
	}

	var discoverer fleet.Discoverer = &fleet.StaticDiscoverer{Devices: cfg.Devices}
	if cfg.InventoryFile != "" {
		discoverer = fleet.NewInventoryDiscoverer(cfg.InventoryFile)
	}

	f, err := fleet.New(ctx, &fleet.Config{
		Discoverer:      discoverer,
		AssignmentStore: stores.Assignments,
		HistoryStore:    stores.IPHistory,
		HistoryLimit:    cfg.HistoryLimit,
		GatewayAddress:  cfg.GatewayAddress,
		Notifier:        notifiers,
	}, logger, fleet.WithMetrics(fleetMetrics))
	if err != nil {
		return err
	}

	if cfg.RefreshInterval > 0 {
		refresher := fleet.NewRefresher(f, &fleet.RefresherConfig{Interval: cfg.RefreshInterval}, logger)
		if err := refresher.Start(ctx); err != nil {
			return err
		}
		defer refresher.Stop()
	}

	router := mux.NewRouter()
	api.NewFleetAPI(f, cfg.DefaultWindow, logger).RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Control plane listening", "address", cfg.ListenAddress, "storage", cfg.StorageBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down control plane")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
