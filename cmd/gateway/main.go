package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/adapter/grpc/server"
	"github.com/seu-repo/voice-gateway/internal/adapter/http/fiber/handlers"
	"github.com/seu-repo/voice-gateway/internal/adapter/http/fiber/middleware"
	"github.com/seu-repo/voice-gateway/internal/adapter/queue"
	"github.com/seu-repo/voice-gateway/internal/adapter/vault"
	wsAdapter "github.com/seu-repo/voice-gateway/internal/adapter/websocket"
	"github.com/seu-repo/voice-gateway/internal/infrastructure/circuitbreaker"
	"github.com/seu-repo/voice-gateway/internal/observability/telemetry"
	"github.com/seu-repo/voice-gateway/internal/ports"
	"github.com/seu-repo/voice-gateway/internal/service/auth"
	"github.com/seu-repo/voice-gateway/internal/service/events"
	"github.com/seu-repo/voice-gateway/internal/service/health"
	"github.com/seu-repo/voice-gateway/internal/service/session"
	"github.com/seu-repo/voice-gateway/pkg/config"
)

const serviceName = "voice-gateway"

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	// 2. Initialize Logger
	logger, err := telemetry.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	logger.Info("Starting voice gateway",
		zap.String("service", serviceName),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	// 3. Resolve secrets from Vault, then validate
	if cfg.Vault.Address != "" {
		sm, err := vault.NewSecretManager(cfg.Vault.Address, cfg.Vault.Token, logger)
		if err != nil {
			logger.Fatal("Failed to create Vault client", zap.Error(err))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = sm.ResolveSecrets(ctx, cfg)
		cancel()
		if err != nil {
			logger.Fatal("Failed to resolve secrets", zap.Error(err))
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// 4. Initialize OpenTelemetry (Distributed Tracing)
	if cfg.OpenTelemetry.Enabled {
		tracerProvider, err := telemetry.InitTracer(serviceName, cfg.App.Version, cfg.OpenTelemetry)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				logger.Error("Error shutting down tracer provider", zap.Error(err))
			}
		}()
	}

	breakers := circuitbreaker.NewManager(logger)
	healthService := health.NewService(cfg.App.Version, breakers, logger)

	// 5. Initialize Cache and rate limit stores
	deps, err := openDependencies(cfg, healthService, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer deps.Close()

	// 6. Initialize Event Bus
	bus, err := queue.Open(cfg.Events, logger)
	if err != nil {
		logger.Fatal("Failed to connect to event bus", zap.Error(err))
	}
	var publisher ports.EventPublisher = events.Discard{}
	var emitter *events.Emitter
	if bus != nil {
		defer bus.Close()
		emitter = events.NewEmitter(bus, cfg.Events.SubjectPrefix, cfg.Events.Buffer, logger)
		publisher = emitter
		healthService.RegisterPing("event_bus", func(context.Context) error { return bus.Healthy() })
		if err := events.SubscribeInvalidations(bus, cfg.Events.SubjectPrefix, deps.cache, logger); err != nil {
			logger.Fatal("Failed to subscribe to cache invalidations", zap.Error(err))
		}
	}

	// 7. Initialize Services
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, 24*time.Hour, deps.cache, logger)

	pipeline, err := buildPipeline(cfg, deps, breakers, logger)
	if err != nil {
		logger.Fatal("Failed to build voice pipeline", zap.Error(err))
	}

	sessions := session.NewManager(jwtService, pipeline, publisher, session.Config{
		MaxAudioBytes:      cfg.Limits.MaxAudioBytes,
		ContextTurns:       cfg.Limits.ContextTurns,
		IdleTimeout:        cfg.Limits.IdleTimeout,
		TurnTimeout:        cfg.Limits.TurnTimeout,
		AuthTimeout:        10 * time.Second,
		MaxFramesPerSecond: cfg.Limits.MaxFramesPerSecond,
		MaxSessionsPerUser: cfg.Limits.MaxSessionsPerUser,
		DefaultVoice:       cfg.Voice.DefaultProfile,
		LanguageHint:       cfg.Voice.LanguageHint,
	}, logger)
	healthService.TrackSessions(sessions.Count)

	// 8. Initialize Fiber HTTP Server
	app := fiber.New(fiber.Config{
		AppName:               serviceName,
		ServerHeader:          serviceName,
		DisableStartupMessage: true,
		ReadTimeout:           cfg.HTTP.ReadTimeout,
		WriteTimeout:          cfg.HTTP.WriteTimeout,
		IdleTimeout:           cfg.HTTP.IdleTimeout,
		BodyLimit:             cfg.Limits.MaxAudioBytes*4/3 + 64*1024,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(middleware.NewCORS(cfg.CORS))

	handlers.Register(app, handlers.Routes{
		Auth:       jwtService,
		APILimiter: deps.apiLimiter,
		Voice: handlers.NewVoiceHandler(pipeline, handlers.VoiceHandlerConfig{
			MaxAudioBytes: cfg.Limits.MaxAudioBytes,
			TurnTimeout:   cfg.Limits.TurnTimeout,
			DefaultVoice:  cfg.Voice.DefaultProfile,
			LanguageHint:  cfg.Voice.LanguageHint,
		}, logger),
		Cache:   handlers.NewCacheHandler(deps.cache, publisher, logger),
		Session: handlers.NewAuthHandler(jwtService, logger),
		Health:  health.NewFiberHandler(healthService),
		Log:     logger,
	})

	// Voice streaming WebSocket
	wsAdapter.SetupVoiceRoutes(app, wsAdapter.NewVoiceStreamHandler(sessions, int64(cfg.Limits.MaxAudioBytes), logger))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 9. Initialize gRPC Server (health and reflection for internal callers)
	var grpcServer *server.GRPCServer
	if cfg.GRPC.Enabled {
		grpcServer = server.NewGRPCServer(jwtService, logger)
		go grpcServer.MirrorReadiness(ctx, func(ctx context.Context) bool {
			return healthService.Ready(ctx).Ready
		}, 5*time.Second)
		go func() {
			logger.Info("Starting gRPC Server", zap.Int("port", cfg.GRPC.Port))
			lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
			if err != nil {
				logger.Fatal("Failed to listen for gRPC", zap.Error(err))
			}
			if err := grpcServer.Serve(lis); err != nil {
				logger.Fatal("gRPC Server failed", zap.Error(err))
			}
		}()
	}

	// 10. Start HTTP Server
	go func() {
		logger.Info("Starting HTTP Server", zap.Int("port", cfg.HTTP.Port))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.HTTP.Port)); err != nil {
			logger.Fatal("HTTP Server failed", zap.Error(err))
		}
	}()

	// 11. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()
	if grpcServer != nil {
		grpcServer.SetServing(false)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Sessions did not close in time", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.Stop()
	}
	if emitter != nil {
		if err := emitter.Close(shutdownCtx); err != nil {
			logger.Warn("Dropped pending events on shutdown", zap.Error(err))
		}
	}

	logger.Info("Server exited gracefully")
}
