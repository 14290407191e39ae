package grpcx

import (
	"log/slog"

	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/rpccontract"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

type ServerOptions struct {
	// Token guards write methods when non-empty.
	Token string
	// Identities binds tokens to callers. When set, Token is not consulted.
	Identities map[string]domain.Identity
	Reflection bool
	Logger     *slog.Logger
	Recorder   RPCRecorder
}

// NewServer builds a gRPC server with the marketplace service, the standard
// health service and the interceptor chain installed.
func NewServer(handler MarketplaceRPCServer, options ServerOptions) (*grpc.Server, *health.Server) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryUnaryInterceptor(logger),
			TracingUnaryInterceptor(),
			CallerUnaryInterceptor(),
			AuthUnaryInterceptor(options.Token, options.Identities),
			LoggingUnaryInterceptor(logger, options.Recorder),
			ErrorUnaryInterceptor(),
		),
	)
	RegisterMarketplaceServer(server, handler)

	healthService := health.NewServer()
	healthService.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthService.SetServingStatus(rpccontract.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthService)

	if options.Reflection {
		reflection.Register(server)
	}
	return server, healthService
}
