package server_test

import (
	"NaiVault/internal/core"
	"NaiVault/internal/ingestion"
	"NaiVault/internal/mint"
	"NaiVault/internal/query"
	"NaiVault/internal/server"
	"NaiVault/internal/testutil"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const adminToken = "s3cret"

func newService(t *testing.T) *server.VaultService {
	t.Helper()
	reg, err := mint.NewRegistry(mint.NewMemStore())
	require.NoError(t, err)
	c, err := core.NewVaultCore(core.Options{
		SupportedTokens: []string{"wrap.near"},
		Registry:        reg,
		Scheduler:       &testutil.RecordingScheduler{},
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)

	loop := core.NewLoop(c, 16, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	qs := query.NewQueryService(nil, loop, nil, nil)
	return server.NewVaultService(ingestion.NewAdminIngestService(loop), qs, nil, nil, zerolog.Nop())
}

// ============================================================================
// gRPC
// ============================================================================

func dial(t *testing.T, svc *server.VaultService, limiter *server.Limiter) *grpc.ClientConn {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := server.NewGRPCServer(lis.Addr().String(), svc, adminToken, limiter, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx, lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]interface{}) (map[string]interface{}, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, "/"+server.ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func TestGRPC_DepositThenBorrow(t *testing.T) {
	conn := dial(t, newService(t), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	adminCtx := metadata.AppendToOutgoingContext(ctx, server.AdminTokenHeader, adminToken)

	resp, err := invoke(adminCtx, conn, "InjectTransfer", map[string]interface{}{
		"transfer_id": "t1", "token_id": "wrap.near", "sender_id": "alice.near",
		"amount": "1000", "sequence": 0,
	})
	require.NoError(t, err)
	assert.Equal(t, true, resp["accepted"])
	assert.Equal(t, "transfer:t1", resp["idempotency_key"])
	assert.Nil(t, resp["call_id"])

	resp, err = invoke(ctx, conn, "RequestBorrow", map[string]interface{}{
		"request_id": "r1", "account_id": "alice.near", "collateral_token_id": "wrap.near",
		"collateral_amount": "1000", "borrow_amount": "500",
	})
	require.NoError(t, err)
	assert.Equal(t, true, resp["accepted"])
	assert.Equal(t, mint.CallIDFor("borrow:r1"), resp["call_id"])

	resp, err = invoke(ctx, conn, "RequestBorrow", map[string]interface{}{
		"request_id": "r2", "account_id": "alice.near", "collateral_token_id": "wrap.near",
		"collateral_amount": "5000", "borrow_amount": "500",
	})
	require.NoError(t, err)
	assert.Equal(t, false, resp["accepted"])
	assert.Equal(t, "insufficient_collateral", resp["reason"])

	resp, err = invoke(ctx, conn, "GetSystemStatus", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), resp["pending_mints"])
}

func TestGRPC_AdminMethodsNeedToken(t *testing.T) {
	conn := dial(t, newService(t), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := invoke(ctx, conn, "UpdatePolicy", map[string]interface{}{"action": "pause"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	badCtx := metadata.AppendToOutgoingContext(ctx, server.AdminTokenHeader, "wrong")
	_, err = invoke(badCtx, conn, "UpdatePolicy", map[string]interface{}{"action": "pause"})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	adminCtx := metadata.AppendToOutgoingContext(ctx, server.AdminTokenHeader, adminToken)
	_, err = invoke(adminCtx, conn, "UpdatePolicy", map[string]interface{}{"action": "blacklist"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	resp, err := invoke(adminCtx, conn, "UpdatePolicy", map[string]interface{}{"action": "pause"})
	require.NoError(t, err)
	assert.Equal(t, true, resp["accepted"])
}

func TestGRPC_RateLimited(t *testing.T) {
	conn := dial(t, newService(t), server.NewLimiter(1, 2, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := map[string]interface{}{
		"account_id": "alice.near", "collateral_token_id": "wrap.near",
		"collateral_amount": "1", "borrow_amount": "1",
	}
	for i := 0; i < 2; i++ {
		_, err := invoke(ctx, conn, "RequestBorrow", req)
		require.NoError(t, err)
	}
	_, err := invoke(ctx, conn, "RequestBorrow", req)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	// queries are not limited
	_, err = invoke(ctx, conn, "GetSystemStatus", map[string]interface{}{})
	assert.NoError(t, err)
}

// ============================================================================
// HTTP
// ============================================================================

func do(t *testing.T, h http.Handler, method, path, token, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set(server.AdminTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

func TestHTTP_PauseBlocksBorrow(t *testing.T) {
	mux, err := server.NewGatewayMux(newService(t), adminToken, nil)
	require.NoError(t, err)

	code, _ := do(t, mux, "POST", "/v1/admin/policy", "", `{"action":"pause"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, out := do(t, mux, "POST", "/v1/admin/policy", adminToken, `{"update_id":"p1","action":"pause"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["accepted"])

	code, out = do(t, mux, "POST", "/v1/borrows", "",
		`{"account_id":"alice.near","collateral_token_id":"wrap.near","collateral_amount":"1","borrow_amount":"1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["accepted"])
	assert.Equal(t, "paused", out["reason"])

	code, out = do(t, mux, "GET", "/v1/status", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["paused"])
}

func TestHTTP_Errors(t *testing.T) {
	mux, err := server.NewGatewayMux(newService(t), adminToken, nil)
	require.NoError(t, err)

	code, out := do(t, mux, "POST", "/v1/borrows", "", `{"borrow_amount":"-1"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidArgument", out["code"])

	code, _ = do(t, mux, "POST", "/v1/borrows", "", `{"unknown":1}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, mux, "GET", "/v1/accounts/NOPE/position?live=true", "", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = do(t, mux, "GET", "/v1/accounts/alice.near/position?live=true", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alice.near", out["account_id"])
}

func TestLimiter_PerClientBuckets(t *testing.T) {
	l := server.NewLimiter(60, 1, nil)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	assert.Nil(t, server.NewLimiter(0, 1, nil))
}
