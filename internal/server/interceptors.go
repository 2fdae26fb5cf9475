package server

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// AdminTokenHeader carries the admin token, as gRPC metadata or HTTP header.
const AdminTokenHeader = "x-admin-token"

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (_ interface{}, err error) {
		start := time.Now()
		defer func() {
			logger.Debug().
				Str("method", info.FullMethod).
				Str("code", status.Code(err).String()).
				Dur("duration", time.Since(start)).
				Msg("grpc unary")
		}()
		return handler(ctx, req)
	}
}

func recoveryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (_ interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("method", info.FullMethod).Msg("panic in unary handler")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// adminInterceptor guards admin methods. With no token configured they are
// refused outright.
func adminInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if !adminMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		var presented string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(AdminTokenHeader); len(vals) > 0 {
				presented = vals[0]
			}
		}
		if !validAdminToken(token, presented) {
			return nil, status.Error(codes.PermissionDenied, "admin token required")
		}
		return handler(ctx, req)
	}
}

func validAdminToken(configured, presented string) bool {
	return configured != "" && subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
