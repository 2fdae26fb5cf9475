package server

import (
	"NaiVault/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// HTTPGateway serves the vault service as JSON over HTTP on a grpc-gateway
// mux, next to health and metrics endpoints.
type HTTPGateway struct {
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewHTTPGateway builds the HTTP handler tree. A nil limiter disables rate
// limiting.
func NewHTTPGateway(addr string, svc *VaultService, adminToken string, limiter *Limiter, hc *observability.HealthChecker, logger zerolog.Logger) (*HTTPGateway, error) {
	mux, err := NewGatewayMux(svc, adminToken, limiter)
	if err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if hc != nil {
		httpMux.HandleFunc("/healthz", hc.LivenessHandler)
		httpMux.HandleFunc("/readyz", hc.ReadinessHandler)
	}
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	return &HTTPGateway{
		httpServer: &http.Server{Addr: addr, Handler: httpMux, ReadHeaderTimeout: 5 * time.Second},
		logger:     logger,
	}, nil
}

// Start serves until ctx is done.
func (g *HTTPGateway) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		g.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.httpServer.Shutdown(shutdownCtx)
	}()

	g.logger.Info().Str("addr", g.httpServer.Addr).Msg("HTTP gateway listening")
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type route struct {
	verb, path   string
	admin, limit bool
	handle       func(ctx context.Context, r *http.Request, params map[string]string) (interface{}, error)
}

// NewGatewayMux registers the HTTP routes of the vault service.
func NewGatewayMux(svc *VaultService, adminToken string, limiter *Limiter) (*runtime.ServeMux, error) {
	routes := []route{
		{verb: "POST", path: "/v1/transfers", admin: true, limit: true, handle: func(ctx context.Context, r *http.Request, _ map[string]string) (interface{}, error) {
			var req InjectTransferRequest
			if err := decodeBody(r, &req); err != nil {
				return nil, err
			}
			return svc.InjectTransfer(ctx, &req)
		}},
		{verb: "POST", path: "/v1/borrows", limit: true, handle: func(ctx context.Context, r *http.Request, _ map[string]string) (interface{}, error) {
			var req RequestBorrowRequest
			if err := decodeBody(r, &req); err != nil {
				return nil, err
			}
			return svc.RequestBorrow(ctx, &req)
		}},
		{verb: "POST", path: "/v1/admin/policy", admin: true, handle: func(ctx context.Context, r *http.Request, _ map[string]string) (interface{}, error) {
			var req UpdatePolicyRequest
			if err := decodeBody(r, &req); err != nil {
				return nil, err
			}
			return svc.UpdatePolicy(ctx, &req)
		}},
		{verb: "GET", path: "/v1/accounts/{account_id}/position", handle: func(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
			live, _ := strconv.ParseBool(r.URL.Query().Get("live"))
			return svc.GetPosition(ctx, &AccountRequest{AccountID: p["account_id"], Live: live})
		}},
		{verb: "GET", path: "/v1/accounts/{account_id}/borrows", handle: func(ctx context.Context, r *http.Request, p map[string]string) (interface{}, error) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			return svc.GetBorrowHistory(ctx, &AccountRequest{AccountID: p["account_id"], Limit: limit})
		}},
		{verb: "GET", path: "/v1/mints/pending", handle: func(ctx context.Context, r *http.Request, _ map[string]string) (interface{}, error) {
			return svc.ListPendingMints(ctx, &AccountRequest{AccountID: r.URL.Query().Get("account_id")})
		}},
		{verb: "GET", path: "/v1/status", handle: func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return svc.GetSystemStatus(ctx, &Empty{})
		}},
		{verb: "POST", path: "/v1/admin/verify", admin: true, handle: func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return svc.VerifyIntegrity(ctx, &Empty{})
		}},
		{verb: "POST", path: "/v1/admin/rebuild-projections", admin: true, handle: func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return svc.RebuildProjections(ctx, &Empty{})
		}},
		{verb: "GET", path: "/v1/admin/event-log", admin: true, handle: func(ctx context.Context, _ *http.Request, _ map[string]string) (interface{}, error) {
			return svc.GetEventLogInfo(ctx, &Empty{})
		}},
	}

	mux := runtime.NewServeMux()
	for _, rt := range routes {
		if err := mux.HandlePath(rt.verb, rt.path, wrap(rt, adminToken, limiter)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.verb, rt.path, err)
		}
	}
	return mux, nil
}

func wrap(rt route, adminToken string, limiter *Limiter) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		if rt.admin && !validAdminToken(adminToken, r.Header.Get(AdminTokenHeader)) {
			writeError(w, status.Error(codes.PermissionDenied, "admin token required"))
			return
		}
		if rt.limit && limiter != nil && !limiter.Allow(hostOf(r.RemoteAddr)) {
			limiter.throttled(rt.path)
			writeError(w, status.Error(codes.ResourceExhausted, "rate limit exceeded"))
			return
		}

		resp, err := rt.handle(r.Context(), r, params)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode body: %v", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	json.NewEncoder(w).Encode(map[string]string{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}
