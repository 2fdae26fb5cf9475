package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the gRPC service. Messages are google.protobuf.Struct
// carrying the JSON forms of the request and response types.
const ServiceName = "naivault.v1.Vault"

// Methods that change state through the core, and admin-only methods.
var (
	ingestMethods = map[string]bool{
		"/" + ServiceName + "/InjectTransfer": true,
		"/" + ServiceName + "/RequestBorrow":  true,
	}
	adminMethods = map[string]bool{
		"/" + ServiceName + "/InjectTransfer":     true,
		"/" + ServiceName + "/UpdatePolicy":       true,
		"/" + ServiceName + "/VerifyIntegrity":    true,
		"/" + ServiceName + "/RebuildProjections": true,
		"/" + ServiceName + "/GetEventLogInfo":    true,
	}
)

var vaultServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		method("InjectTransfer", (*VaultService).InjectTransfer),
		method("RequestBorrow", (*VaultService).RequestBorrow),
		method("UpdatePolicy", (*VaultService).UpdatePolicy),
		method("GetPosition", (*VaultService).GetPosition),
		method("GetBorrowHistory", (*VaultService).GetBorrowHistory),
		method("ListPendingMints", (*VaultService).ListPendingMints),
		method("GetSystemStatus", (*VaultService).GetSystemStatus),
		method("VerifyIntegrity", (*VaultService).VerifyIntegrity),
		method("RebuildProjections", (*VaultService).RebuildProjections),
		method("GetEventLogInfo", (*VaultService).GetEventLogInfo),
	},
	Metadata: "naivault/v1/vault.proto",
}

// method adapts a typed VaultService method to a Struct-in, Struct-out
// unary handler.
func method[Req, Resp any](name string, call func(*VaultService, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				r := new(Req)
				if err := FromStruct(req.(*structpb.Struct), r); err != nil {
					return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
				}
				resp, err := call(srv.(*VaultService), ctx, r)
				if err != nil {
					return nil, err
				}
				out, err := ToStruct(resp)
				if err != nil {
					return nil, status.Errorf(codes.Internal, "encode response: %v", err)
				}
				return out, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

// FromStruct decodes a Struct into v through its JSON form.
func FromStruct(s *structpb.Struct, v interface{}) error {
	data, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ToStruct encodes v into a Struct through its JSON form.
func ToStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GRPCServer serves the vault service and standard health checks.
type GRPCServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	logger     zerolog.Logger
}

// NewGRPCServer registers svc behind recovery, logging, admin-token and
// rate-limit interceptors. A nil limiter disables rate limiting.
func NewGRPCServer(addr string, svc *VaultService, adminToken string, limiter *Limiter, logger zerolog.Logger) *GRPCServer {
	interceptors := []grpc.UnaryServerInterceptor{
		loggingInterceptor(logger),
		recoveryInterceptor(logger),
		adminInterceptor(adminToken),
	}
	if limiter != nil {
		interceptors = append(interceptors, limiter.UnaryInterceptor(ingestMethods))
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	grpcServer.RegisterService(&vaultServiceDesc, svc)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{grpcServer: grpcServer, health: healthServer, addr: addr, logger: logger}
}

// SetServing flips the health status reported for the vault service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(ServiceName, st)
}

// Start serves on the configured address until ctx is done.
func (s *GRPCServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}
