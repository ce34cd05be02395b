package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/codec"
	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/handlers"
	"messenger-service/internal/health"
	"messenger-service/internal/identity"
	"messenger-service/internal/logger"
	"messenger-service/internal/middleware"
	"messenger-service/internal/models"
	"messenger-service/internal/observability"
	"messenger-service/internal/presence"
	"messenger-service/internal/rabbitmq"
	"messenger-service/internal/repositories"
	"messenger-service/internal/service"
	"messenger-service/internal/storage"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

var serveCommand = &cli.Command{
	Name:   "serve",
	Usage:  "Run the HTTP API, the websocket gateway, and the health listener",
	Action: cmdServe,
}

func cmdServe(cliCtx *cli.Context) error {
	cfg, err := config.NewConfig()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	bodyCodec, err := codec.New(cfg.Encryption.Key)
	if err != nil {
		return err
	}

	database, messages, users, err := openStores(ctx, cfg.Database, bodyCodec, log)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditKey, cfg.AMQP.ServiceTag, cfg.Environment, log)

	opts := service.Options{Audit: audit}
	if images := openImageStore(ctx, cfg.Storage, log); images != nil {
		opts.Images = images
	}

	registry := presence.NewRegistry(users, log)
	messenger := service.New(messages, users, registry, registry, log, opts)
	verifier := identity.NewJWT(cfg.JWT.Secret)
	gateway := ws.NewGateway(registry, verifier, messenger, cfg.Gateway, log)

	var pinger handlers.Pinger
	if database != nil {
		pinger = database
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(log))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/status", handlers.StatusHandler(pinger, registry))
	router.GET("/ws", gateway.Handle)

	api := router.Group("/api", middleware.AuthMiddleware(verifier))
	handlers.NewConversationHandler(messenger, log).Register(api)
	handlers.RegisterDebugRoutes(api, audit, cfg.DebugRoutes)

	var checks []health.Check
	if database != nil {
		checks = append(checks, database.PingContext)
	}
	healthServer := health.NewServer(log, checks...)
	lis, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc health server stopped")
		}
	}()
	go healthServer.Watch(ctx, 15*time.Second)

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("http", server.Addr).Str("grpc", lis.Addr().String()).Msg("messenger service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	log.Info().Msg("shutting down")
	healthServer.Stop()
	gateway.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// openStores wires the persistence driver. The memory driver seeds demo users
// and keeps nothing across restarts.
func openStores(ctx context.Context, cfg config.Database, c *codec.Codec, log zerolog.Logger) (*sqlx.DB, repositories.MessageRepository, repositories.UserRepository, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using in-memory storage")
		users := repositories.NewMemoryUserRepo(
			models.User{ID: 1, Name: "Alice", Handle: "alice"},
			models.User{ID: 2, Name: "Bob", Handle: "bob"},
			models.User{ID: 3, Name: "Carol", Handle: "carol"},
		)
		return nil, repositories.NewMemoryMessageRepo(c, log), users, nil
	case "postgres":
		database, err := db.Connect(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Migrate(database); err != nil {
			database.Close()
			return nil, nil, nil, err
		}
		return database, repositories.NewMessageRepo(database, c, log), repositories.NewUserRepo(database), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Driver)
	}
}

// openImageStore returns nil when object storage is unreachable; image
// messages are then rejected while text keeps working.
func openImageStore(ctx context.Context, cfg config.Storage, log zerolog.Logger) *storage.ImageStore {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Warn().Err(err).Msg("image storage disabled")
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := storage.NewImageStore(sctx, client, cfg.Bucket, cfg.PublicURL)
	if err != nil {
		log.Warn().Err(err).Msg("image storage disabled")
		return nil
	}
	return store
}
