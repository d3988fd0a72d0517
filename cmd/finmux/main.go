package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace"

	"finmux/internal/config"
	"finmux/internal/health"
	"finmux/internal/logging"
	"finmux/internal/mcpserver"
	"finmux/internal/provider"
	"finmux/internal/provider/refhttp"
	"finmux/internal/router"
	"finmux/internal/telemetry"
)

const (
	serverName    = "finmux"
	serverVersion = "0.1.0"
)

var (
	loadEnvFunc      = godotenv.Load
	loadConfigFunc   = config.Load
	initTracerFunc   = telemetry.Init
	newRegistryFunc  = provider.NewRegistry
	newMonitorFunc   = health.New
	newRouterFunc    = router.New
	newMCPServerFunc = mcpserver.New
	runServerFunc    = func(ctx context.Context, s *mcp.Server) error {
		return s.Run(ctx, &mcp.StdioTransport{})
	}
	setupSignalNotify = signal.Notify
)

func main() {
	loadEnvFunc()

	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := loadConfigFunc(configPath)
	if err != nil {
		log.Fatalf("finmux: load config: %v", err)
	}

	logger := logging.New(cfg.Performance.Logging, os.Stderr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, serverVersion)
	if err != nil {
		log.Fatalf("finmux: init tracer: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer provider shutdown failed")
		}
	}()

	registry := newRegistryFunc()
	for _, spec := range cfg.Providers {
		if !spec.Enabled {
			continue
		}
		adapter, err := buildAdapter(spec, tracer)
		if err != nil {
			logger.Warn().Str("provider", spec.ID).Err(err).Msg("skipping provider that failed to build")
			continue
		}
		if err := registry.Register(adapter); err != nil {
			logger.Warn().Str("provider", spec.ID).Err(err).Msg("skipping duplicate provider registration")
		}
	}

	monitor := newMonitorFunc()

	probeInterval := time.Duration(cfg.Performance.HealthProbeIntervalSeconds) * time.Second
	if probeInterval > 0 {
		watchdog := health.NewWatchdog(monitor, func(ctx context.Context, providerID string) error {
			adapter, ok := registry.Lookup(providerID)
			if !ok {
				return nil
			}
			return adapter.HealthProbe(ctx)
		}, probeInterval)
		go watchdog.Run(ctx, registry.IDs())
	}

	rt := newRouterFunc(cfg, registry, monitor, tracer)
	server := newMCPServerFunc(serverName, serverVersion, rt, logger)

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info().Msg("shutting down")
		cancel()
	}()

	logger.Info().Int("providers", len(registry.IDs())).Msg("finmux ready")
	if err := runServerFunc(ctx, server); err != nil {
		logger.Error().Err(err).Msg("mcp server exited with error")
		os.Exit(1)
	}
}

// buildAdapter constructs the reference HTTP adapter for a configured
// provider. finmux ships one adapter implementation; provider.Type
// selects it explicitly so future adapter kinds have a place to plug in.
func buildAdapter(spec config.ProviderSpec, tracer trace.Tracer) (provider.Adapter, error) {
	switch spec.Type {
	case "refhttp", "":
		rate, _ := strconv.ParseFloat(spec.Options["requestsPerSec"], 64)
		burst, _ := strconv.Atoi(spec.Options["burst"])
		return refhttp.New(refhttp.Config{
			ID:             spec.ID,
			Name:           spec.Options["name"],
			Version:        spec.Options["version"],
			BaseURL:        spec.Options["baseUrl"],
			APIKey:         spec.Options["apiKey"],
			RequestsPerSec: rate,
			Burst:          burst,
		}, nil, tracer), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", spec.Type)
	}
}
