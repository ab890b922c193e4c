package main

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/PaulBabatuyi/hittalaget-conversations/internal/auth"
	"github.com/PaulBabatuyi/hittalaget-conversations/internal/data"
)

const requestIDHeader = "x-request-id"

// unauthenticated lists the methods callable without a bearer token.
var unauthenticated = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
	"/grpc.health.v1.Health/List":  true,
}

// currentIdentity returns the caller attached by the auth interceptors.
func currentIdentity(ctx context.Context) (data.Identity, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return data.Identity{}, status.Error(codes.Unauthenticated, "missing auth claims")
	}
	return id, nil
}

// authenticate verifies the bearer token in ctx and returns ctx carrying the
// caller's identity.
func authenticate(ctx context.Context, j *auth.JWTManager) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return nil, status.Errorf(codes.Unauthenticated, "missing authorization header")
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeaders[0], "Bearer"))
	if token == "" {
		return nil, status.Errorf(codes.Unauthenticated, "invalid token")
	}
	claims, err := j.VerifyToken(token)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "unauthenticated: %v", err)
	}
	id := claims.Identity()
	if ci := callInfoFrom(ctx); ci != nil {
		ci.handle = id.Handle
	}
	return auth.WithIdentity(ctx, id), nil
}

// authUnaryInterceptor enforces JWT authentication on every unary method
// except the health checks.
func authUnaryInterceptor(j *auth.JWTManager) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if unauthenticated[info.FullMethod] {
			return handler(ctx, req)
		}
		ctx, err := authenticate(ctx, j)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// authStreamInterceptor is the stream equivalent of authUnaryInterceptor.
func authStreamInterceptor(j *auth.JWTManager) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if unauthenticated[info.FullMethod] {
			return handler(srv, ss)
		}
		ctx, err := authenticate(ss.Context(), j)
		if err != nil {
			return err
		}
		return handler(srv, wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedStream overrides Context() of a grpc.ServerStream.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w wrappedStream) Context() context.Context { return w.ctx }

// callInfo is attached by the logging interceptor and completed by the auth
// interceptor once the caller is known.
type callInfo struct {
	requestID string
	handle    string
}

type callInfoKey struct{}

func callInfoFrom(ctx context.Context) *callInfo {
	ci, _ := ctx.Value(callInfoKey{}).(*callInfo)
	return ci
}

// withCallInfo reuses the caller's x-request-id or mints one.
func withCallInfo(ctx context.Context) (context.Context, *callInfo) {
	ci := &callInfo{}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(requestIDHeader); len(v) > 0 {
			ci.requestID = v[0]
		}
	}
	if ci.requestID == "" {
		ci.requestID = uuid.NewString()
	}
	return context.WithValue(ctx, callInfoKey{}, ci), ci
}

func logCall(logger *log.Logger, ci *callInfo, method string, started time.Time, err error) {
	code := status.Code(err)
	kv := []interface{}{"method", method, "code", code.String(), "took", time.Since(started), "request_id", ci.requestID}
	if ci.handle != "" {
		kv = append(kv, "handle", ci.handle)
	}
	switch code {
	case codes.OK:
		logger.Debug("rpc", kv...)
	case codes.Internal, codes.Unknown, codes.Unavailable:
		logger.Error("rpc", append(kv, "err", err)...)
	default:
		logger.Info("rpc", append(kv, "err", err)...)
	}
}

// loggingUnaryInterceptor tags each call with a request id, echoes it in the
// response header and logs the outcome. It runs outermost so rejected calls
// are logged too.
func loggingUnaryInterceptor(logger *log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		started := time.Now()
		ctx, ci := withCallInfo(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDHeader, ci.requestID))

		resp, err := handler(ctx, req)
		logCall(logger, ci, info.FullMethod, started, err)
		return resp, err
	}
}

// loggingStreamInterceptor is the stream equivalent of loggingUnaryInterceptor.
func loggingStreamInterceptor(logger *log.Logger) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		started := time.Now()
		ctx, ci := withCallInfo(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(requestIDHeader, ci.requestID))

		err := handler(srv, wrappedStream{ServerStream: ss, ctx: ctx})
		logCall(logger, ci, info.FullMethod, started, err)
		return err
	}
}
