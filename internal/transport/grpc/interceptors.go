package grpcx

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/gaganv007/polkaagents/internal/rpccontract"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RPCRecorder receives one sample per finished call.
type RPCRecorder interface {
	RecordRPC(ctx context.Context, method, code string, seconds float64)
}

type callerKey struct{}

func withCaller(ctx context.Context, caller domain.Identity) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the identity attached by CallerUnaryInterceptor.
func CallerFromContext(ctx context.Context) domain.Identity {
	caller, _ := ctx.Value(callerKey{}).(domain.Identity)
	return caller
}

func RecoveryUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (response any, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.ErrorContext(ctx, "panic recovered",
					"method", info.FullMethod,
					"panic", recovered,
					"stack", string(debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// TracingUnaryInterceptor continues any trace propagated in the incoming
// metadata and wraps the call in a server span.
func TracingUnaryInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer("github.com/gaganv007/polkaagents/internal/transport/grpc")
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))
		}
		ctx, span := tracer.Start(ctx, strings.TrimPrefix(info.FullMethod, "/"),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("rpc.system", "grpc"),
				attribute.String("rpc.method", info.FullMethod),
			),
		)
		defer span.End()

		response, err := handler(ctx, req)
		code := status.Code(err)
		span.SetAttributes(attribute.String("rpc.grpc.status_code", code.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, code.String())
		}
		return response, err
	}
}

// CallerUnaryInterceptor reads the caller identity from metadata. Write
// methods are rejected without one.
func CallerUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		caller := domain.Identity(metadataValue(ctx, rpccontract.CallerMetadataKey))
		if caller == "" && rpccontract.IsWriteMethod(info.FullMethod) {
			return nil, status.Error(codes.Unauthenticated, "missing "+rpccontract.CallerMetadataKey+" metadata")
		}
		return handler(withCaller(ctx, caller), req)
	}
}

// AuthUnaryInterceptor guards write methods. When identities is non-empty
// every token is bound to one caller and a request whose caller metadata names
// someone else is refused. Otherwise the single shared token is checked and
// the caller metadata is taken as given.
func AuthUnaryInterceptor(token string, identities map[string]domain.Identity) grpc.UnaryServerInterceptor {
	bindings := make([]tokenBinding, 0, len(identities))
	for bound, identity := range identities {
		bindings = append(bindings, tokenBinding{token: []byte(bound), identity: identity})
	}
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if !rpccontract.IsWriteMethod(info.FullMethod) {
			return handler(ctx, req)
		}

		if len(bindings) > 0 {
			identity, ok := lookupToken(bindings, extractToken(ctx))
			if !ok {
				return nil, status.Error(codes.Unauthenticated, "invalid authentication token")
			}
			if CallerFromContext(ctx) != identity {
				return nil, status.Error(codes.PermissionDenied, "caller does not match the identity bound to the token")
			}
			return handler(ctx, req)
		}

		if token == "" {
			return handler(ctx, req)
		}
		requestToken := extractToken(ctx)
		if subtle.ConstantTimeCompare([]byte(requestToken), []byte(token)) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid authentication token")
		}
		return handler(ctx, req)
	}
}

type tokenBinding struct {
	token    []byte
	identity domain.Identity
}

// lookupToken compares against every binding so timing does not reveal which
// one matched.
func lookupToken(bindings []tokenBinding, presented string) (domain.Identity, bool) {
	var (
		identity domain.Identity
		found    bool
	)
	for _, binding := range bindings {
		if subtle.ConstantTimeCompare([]byte(presented), binding.token) == 1 {
			identity, found = binding.identity, true
		}
	}
	return identity, found
}

func LoggingUnaryInterceptor(logger *slog.Logger, recorder RPCRecorder) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		started := time.Now()
		response, err := handler(ctx, req)
		elapsed := time.Since(started)
		code := status.Code(err)

		level := slog.LevelInfo
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelError
		}
		attrs := []any{
			"method", info.FullMethod,
			"duration", elapsed,
			"code", code.String(),
		}
		if caller := CallerFromContext(ctx); caller != "" {
			attrs = append(attrs, "caller", caller)
		}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		logger.Log(ctx, level, "grpc call", attrs...)
		if recorder != nil {
			recorder.RecordRPC(ctx, info.FullMethod, code.String(), elapsed.Seconds())
		}
		return response, err
	}
}

func ErrorUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		response, err := handler(ctx, req)
		if err == nil {
			return response, nil
		}
		if _, ok := status.FromError(err); ok {
			return nil, err
		}
		return nil, mapError(err)
	}
}

func mapError(err error) error {
	var appError *domain.AppError
	if errors.As(err, &appError) {
		message := appError.Message
		if appError.Kind != "" {
			message = string(appError.Kind) + ": " + message
		}
		switch appError.Code {
		case domain.CodeInvalidArgument:
			return status.Error(codes.InvalidArgument, message)
		case domain.CodeNotFound:
			return status.Error(codes.NotFound, message)
		case domain.CodeConflict:
			return status.Error(codes.AlreadyExists, message)
		case domain.CodeUnauthenticated:
			return status.Error(codes.Unauthenticated, message)
		case domain.CodePermissionDenied:
			return status.Error(codes.PermissionDenied, message)
		case domain.CodeFailedPrecondition:
			return status.Error(codes.FailedPrecondition, message)
		case domain.CodeAborted:
			return status.Error(codes.Aborted, message)
		default:
			return status.Error(codes.Internal, message)
		}
	}
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}

func extractToken(ctx context.Context) string {
	if token := metadataValue(ctx, rpccontract.TokenMetadataKey); token != "" {
		return token
	}
	authHeader := metadataValue(ctx, "authorization")
	const bearer = "Bearer "
	if strings.HasPrefix(authHeader, bearer) {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, bearer))
	}
	return ""
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	values := metadata.MD(c).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	return keys
}
