package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/predatorfx/hunter/internal/api"
	"github.com/predatorfx/hunter/internal/broker"
	"github.com/predatorfx/hunter/internal/config"
	"github.com/predatorfx/hunter/internal/diagnostics"
	"github.com/predatorfx/hunter/internal/events"
	"github.com/predatorfx/hunter/internal/persistence"
	"github.com/predatorfx/hunter/internal/session"
)

const (
	appName    = "predatory-hunter"
	appVersion = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServer()
	case "version":
		fmt.Printf("%s v%s\n", appName, appVersion)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("%s v%s\n", appName, appVersion)
	fmt.Printf("usage: %s <command>\n\n", os.Args[0])
	fmt.Println("commands:")
	fmt.Println("  serve    run the HTTP trigger server (health/ready/metrics + session run)")
	fmt.Println("  version  print version information")
	fmt.Println("  help     print this help message")
}

func runServer() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig("")
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	store, err := persistence.Open(cfg, logger)
	if err != nil {
		logger.Fatal("failed to open persistence store", zap.Error(err))
	}
	defer store.Close()

	bus, err := events.New(cfg.Events.NatsURL, cfg.Events.TopicPrefix, logger)
	if err != nil {
		logger.Fatal("failed to construct event bus", zap.Error(err))
	}
	defer bus.Close()

	client := broker.New(cfg, logger)
	hub := diagnostics.NewHub(logger)
	metrics := diagnostics.NewGateMetrics(prometheus.DefaultRegisterer)

	runner := sessionRunner{
		cfg:     cfg,
		client:  client,
		store:   store,
		bus:     bus,
		hub:     hub,
		metrics: metrics,
		logger:  logger,
	}

	server := api.NewServer(runner, logger)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 130 * time.Second, // covers the 110s bounded session plus margin
		IdleTimeout:  120 * time.Second,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	grpcLis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		logger.Fatal("failed to bind grpc health listener", zap.Error(err))
	}

	go func() {
		logger.Info("server starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("grpc health server starting", zap.String("addr", grpcLis.Addr().String()))
		healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(grpcLis); err != nil {
			logger.Error("grpc health server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpcServer.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// sessionRunner adapts the orchestrator constructor to api.Runner,
// building a fresh *session.Orchestrator per trigger so each run starts
// from a clean in-memory state while reusing the long-lived store/client.
type sessionRunner struct {
	cfg     *config.Config
	client  *broker.Client
	store   *persistence.Store
	bus     *events.Bus
	hub     *diagnostics.Hub
	metrics *diagnostics.GateMetrics
	logger  *zap.Logger
}

func (r sessionRunner) Run(ctx context.Context) (session.Report, error) {
	orchestrator := session.New(r.cfg, r.client, r.store, r.bus, r.hub, r.metrics, r.logger)
	return orchestrator.Run(ctx)
}
