package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"adversary-lab/internal/api"
	"adversary-lab/internal/api/handlers"
	apimiddleware "adversary-lab/internal/api/middleware"
	"adversary-lab/internal/config"
	"adversary-lab/internal/domain/services"
	"adversary-lab/internal/grpc/adversarylab"
	"adversary-lab/internal/infrastructure/cache"
	"adversary-lab/internal/infrastructure/graph"
	"adversary-lab/internal/streaming"
	"adversary-lab/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("ADVLAB_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
	})
	logger.SetGlobal(log)

	log.Info().
		Str("app", cfg.App.Name).
		Str("env", cfg.App.Environment).
		Str("version", cfg.App.Version).
		Msg("starting adversary lab")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Knowledge store
	store := services.NewKnowledgeStore(log)
	if err := store.LoadFile(cfg.MITRE.EnterpriseAttackFile); err != nil {
		log.Fatal().Err(err).Str("path", cfg.MITRE.EnterpriseAttackFile).Msg("failed to load ATT&CK bundle")
	}

	// Optional backends stay nil interfaces when disabled or unreachable
	var (
		checks    []handlers.DependencyCheck
		counter   handlers.CampaignCounter
		limiter   apimiddleware.RateLimitStore
		graphRepo handlers.GraphRepository
		remote    streaming.RemotePublisher
	)
	libOptions := []services.LibraryOption{services.WithAutoGenerate(cfg.Personas.AutoGenerate)}

	// Redis
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedis(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without cache")
		} else {
			defer redisCache.Close()
			counter = redisCache
			limiter = redisCache
			checks = append(checks, handlers.DependencyCheck{Name: "redis", Probe: redisCache.Ping})
			if cfg.Personas.Cache {
				libOptions = append(libOptions, services.WithConfigCache(redisCache))
			}
		}
	}
	if cfg.RateLimit.Enabled && limiter == nil {
		log.Warn().Msg("rate limiting needs Redis, requests will not be limited")
	}

	// Neo4j
	if cfg.Neo4j.Enabled {
		neo4jClient, err := graph.NewNeo4jClient(ctx, cfg.Neo4j, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Neo4j, graph features disabled")
		} else {
			defer neo4jClient.Close(context.WithoutCancel(ctx))
			repo := graph.NewKnowledgeGraphRepository(neo4jClient, cfg.Neo4j.BatchSize, log)
			graphRepo = repo
			checks = append(checks, handlers.DependencyCheck{Name: "neo4j", Probe: neo4jClient.Health})

			if cfg.MITRE.SyncGraph {
				if _, err := repo.SyncSnapshot(ctx, store.Snapshot()); err != nil {
					log.Warn().Err(err).Msg("failed to mirror knowledge store into Neo4j")
				}
			}
		}
	}

	// NATS
	if cfg.NATS.Enabled {
		natsPublisher, err := streaming.NewNATSPublisher(ctx, cfg.NATS, log)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to NATS, continuing with local streaming only")
		} else {
			defer natsPublisher.Close()
			remote = natsPublisher
			checks = append(checks, handlers.DependencyCheck{Name: "nats", Probe: natsPublisher.Health})
		}
	}

	// Event streaming
	wsHub := streaming.NewWebSocketHub(log)
	go wsHub.Run(ctx)
	eventBus := streaming.NewEventBus(remote, wsHub, log)
	defer eventBus.Close()
	log.Info().Bool("nats_enabled", remote != nil).Msg("event bus initialized")

	// Persona library
	library, err := services.NewPersonaLibrary(store, log, libOptions...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load curated personas")
	}
	if cfg.Personas.ConfigFile != "" {
		if err := library.LoadOverrides(cfg.Personas.ConfigFile); err != nil {
			log.Fatal().Err(err).Msg("failed to load persona overrides")
		}
	}

	// Campaign engine
	engineOptions := []services.EngineOption{
		services.WithEventPublisher(eventBus),
		services.WithCampaignDefaults(cfg.Simulation.DefaultScenario, cfg.Simulation.MaxDurationHours),
	}
	if cfg.Simulation.Seed != 0 {
		engineOptions = append(engineOptions, services.WithRandomSource(rand.New(rand.NewSource(cfg.Simulation.Seed))))
		log.Info().Int64("seed", cfg.Simulation.Seed).Msg("campaign simulation is seeded")
	}
	engine := services.NewCampaignEngine(library, store, log, engineOptions...)

	// Initialize handlers
	h := handlers.NewHandlers(handlers.Dependencies{
		Store:         store,
		Library:       library,
		Engine:        engine,
		Graph:         graphRepo,
		Counter:       counter,
		Hub:           wsHub,
		Bus:           eventBus,
		Checks:        checks,
		Version:       cfg.App.Version,
		Logger:        log,
		BundlePath:    cfg.MITRE.EnterpriseAttackFile,
		OverridesPath: cfg.Personas.ConfigFile,
	})

	// Create router
	router := api.NewRouter(*cfg, h, limiter, log)

	// Start HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().
			Str("addr", httpServer.Addr).
			Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcListener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create gRPC listener")
	}

	grpcServer := grpc.NewServer()
	grpcChecks := make([]adversarylab.Check, 0, len(checks))
	for _, c := range checks {
		grpcChecks = append(grpcChecks, adversarylab.Check{Name: c.Name, Probe: c.Probe})
	}
	adversarylab.RegisterHealthServer(ctx, grpcServer, 0, log, grpcChecks...)

	go func() {
		log.Info().
			Str("addr", grpcListener.Addr().String()).
			Msg("starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal().Err(err).Msg("gRPC server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")

	// Cancel context to stop background services
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	grpcServer.GracefulStop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("shutdown complete")
}
