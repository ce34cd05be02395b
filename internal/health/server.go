package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"messenger-service/internal/observability"
)

// ServiceName is the name reported to health probes alongside the empty overall service.
const ServiceName = "messenger"

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Server is the internal gRPC listener serving the standard health protocol.
type Server struct {
	grpc   *grpc.Server
	health *grpchealth.Server
	checks []Check
	log    zerolog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// NewServer builds the gRPC server and registers the health service.
func NewServer(log zerolog.Logger, checks ...Check) *Server {
	s := &Server{
		health: grpchealth.NewServer(),
		checks: checks,
		log:    log,
		stop:   make(chan struct{}),
	}

	s.grpc = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			observability.GRPCServerMetricsUnaryInterceptor(),
			logging.UnaryServerInterceptor(interceptorLogger(log)),
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(s.recovered)),
		),
		grpc.ChainStreamInterceptor(
			recovery.StreamServerInterceptor(recovery.WithRecoveryHandler(s.recovered)),
		),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.set(healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve blocks serving lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Watch runs the checks every interval and flips the reported status on failure.
// It returns when ctx is done or the server stops.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	if len(s.checks) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Probe runs every check once and publishes the result.
func (s *Server) Probe(ctx context.Context) {
	for _, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(checkCtx)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Msg("health check failed")
			s.set(healthpb.HealthCheckResponse_NOT_SERVING)
			return
		}
	}
	s.set(healthpb.HealthCheckResponse_SERVING)
}

// Stop reports NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.health.Shutdown()
		s.grpc.GracefulStop()
	})
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

func (s *Server) recovered(p any) error {
	s.log.Error().Str("panic", fmt.Sprint(p)).Msg("grpc handler panic")
	return status.Error(codes.Internal, "internal error")
}

func interceptorLogger(log zerolog.Logger) logging.Logger {
	return logging.LoggerFunc(func(_ context.Context, lvl logging.Level, msg string, fields ...any) {
		var ev *zerolog.Event
		switch lvl {
		case logging.LevelDebug, logging.LevelInfo:
			ev = log.Debug()
		case logging.LevelWarn:
			ev = log.Warn()
		default:
			ev = log.Error()
		}
		ev.Fields(fields).Msg(msg)
	})
}
