package server

import (
	"NaiVault/internal/core"
	"NaiVault/internal/event"
	"NaiVault/internal/ingestion"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"NaiVault/internal/persistence"
	"NaiVault/internal/projection"
	"NaiVault/internal/query"
	"context"
	"database/sql"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// --- Requests and responses ---

type InjectTransferRequest struct {
	TransferID string `json:"transfer_id"`
	TokenID    string `json:"token_id"`
	SenderID   string `json:"sender_id"`
	Amount     string `json:"amount"`
	Msg        string `json:"msg"`
	Sequence   int64  `json:"sequence"`
}

type RequestBorrowRequest struct {
	RequestID         string `json:"request_id"`
	AccountID         string `json:"account_id"`
	CollateralTokenID string `json:"collateral_token_id"`
	CollateralAmount  string `json:"collateral_amount"`
	BorrowAmount      string `json:"borrow_amount"`
}

type UpdatePolicyRequest struct {
	UpdateID string `json:"update_id"`
	Action   string `json:"action"`
	Target   string `json:"target"`
}

// SubmitResponse reports how the core decided on a submitted event. A
// rejection is a decision, not an RPC error.
type SubmitResponse struct {
	Accepted       bool   `json:"accepted"`
	IdempotencyKey string `json:"idempotency_key"`
	Reason         string `json:"reason,omitempty"`
	CallID         string `json:"call_id,omitempty"` // mint call requested by the event
}

type AccountRequest struct {
	AccountID string `json:"account_id"`
	Live      bool   `json:"live"`
	Limit     int    `json:"limit"`
}

type Empty struct{}

type RebuildResponse struct {
	Completed bool `json:"completed"`
}

type EventLogInfo struct {
	LastSequence int64 `json:"last_sequence"`
}

// VaultService is the transport-independent implementation behind both the
// gRPC service and the HTTP routes. Errors are gRPC status errors.
type VaultService struct {
	ingest  *ingestion.AdminIngestService
	query   *query.QueryService
	db      *sql.DB
	snapMgr *persistence.SnapshotManager
	logger  zerolog.Logger
}

func NewVaultService(ingest *ingestion.AdminIngestService, qs *query.QueryService, db *sql.DB, snapMgr *persistence.SnapshotManager, logger zerolog.Logger) *VaultService {
	return &VaultService{ingest: ingest, query: qs, db: db, snapMgr: snapMgr, logger: logger}
}

func (s *VaultService) InjectTransfer(ctx context.Context, req *InjectTransferRequest) (*SubmitResponse, error) {
	amount, err := fpmath.ParseU128(req.Amount)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "amount: %v", err)
	}
	evt, err := s.ingest.InjectTransfer(ctx, req.TransferID, req.TokenID, req.SenderID, amount, req.Msg, req.Sequence)
	if evt == nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := submitted(evt, err)
	if err != nil {
		return nil, err
	}
	if resp.Accepted {
		if m, perr := core.ParseTransferMessage(req.Msg); perr == nil && m.Action == core.ActionBorrow {
			resp.CallID = mint.CallIDFor(evt.IdempotencyKey())
		}
	}
	return resp, nil
}

func (s *VaultService) RequestBorrow(ctx context.Context, req *RequestBorrowRequest) (*SubmitResponse, error) {
	collateral, err := fpmath.ParseU128(req.CollateralAmount)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "collateral_amount: %v", err)
	}
	borrow, err := fpmath.ParseU128(req.BorrowAmount)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "borrow_amount: %v", err)
	}
	evt, err := s.ingest.RequestBorrow(ctx, req.RequestID, req.AccountID, req.CollateralTokenID, collateral, borrow)
	resp, err := submitted(evt, err)
	if err != nil {
		return nil, err
	}
	if resp.Accepted {
		resp.CallID = mint.CallIDFor(evt.IdempotencyKey())
	}
	return resp, nil
}

func (s *VaultService) UpdatePolicy(ctx context.Context, req *UpdatePolicyRequest) (*SubmitResponse, error) {
	action, err := event.ParsePolicyAction(req.Action)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if action.NeedsTarget() && req.Target == "" {
		return nil, status.Errorf(codes.InvalidArgument, "%s requires a target", action)
	}
	evt, err := s.ingest.UpdatePolicy(ctx, req.UpdateID, action, req.Target)
	return submitted(evt, err)
}

// submitted maps a core outcome onto the response.
func submitted(evt event.Event, err error) (*SubmitResponse, error) {
	resp := &SubmitResponse{IdempotencyKey: evt.IdempotencyKey()}
	switch {
	case err == nil:
		resp.Accepted = true
		return resp, nil
	case errors.Is(err, core.ErrRejected), errors.Is(err, core.ErrOutOfOrder), errors.Is(err, core.ErrSequenceGap):
		resp.Reason = core.RejectReason(err)
		return resp, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case errors.Is(err, core.ErrFatal):
		return nil, status.Error(codes.Internal, err.Error())
	}
	return nil, status.Error(codes.Unavailable, err.Error())
}

func (s *VaultService) GetPosition(ctx context.Context, req *AccountRequest) (*query.PositionResponse, error) {
	var (
		resp *query.PositionResponse
		err  error
	)
	if req.Live {
		resp, err = s.query.GetLivePosition(ctx, req.AccountID)
	} else {
		resp, err = s.query.GetPosition(ctx, req.AccountID)
	}
	return resp, queryError(err)
}

func (s *VaultService) GetBorrowHistory(ctx context.Context, req *AccountRequest) (*query.BorrowHistoryResponse, error) {
	resp, err := s.query.GetBorrowHistory(ctx, req.AccountID, req.Limit)
	return resp, queryError(err)
}

type PendingMintsResponse struct {
	Pending []query.PendingMintResponse `json:"pending"`
}

func (s *VaultService) ListPendingMints(ctx context.Context, req *AccountRequest) (*PendingMintsResponse, error) {
	pending, err := s.query.ListPendingMints(ctx, req.AccountID)
	if err != nil {
		return nil, queryError(err)
	}
	return &PendingMintsResponse{Pending: pending}, nil
}

func (s *VaultService) GetSystemStatus(ctx context.Context, _ *Empty) (*query.SystemStatus, error) {
	resp, err := s.query.GetSystemStatus(ctx)
	return resp, queryError(err)
}

// --- Admin ---

func (s *VaultService) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.query.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

func (s *VaultService) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	if err := projection.RebuildProjections(ctx, s.db, s.logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildResponse{Completed: true}, nil
}

func (s *VaultService) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfo, error) {
	latestSeq, err := s.snapMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	return &EventLogInfo{LastSequence: latestSeq}, nil
}

func queryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, query.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	return status.Error(codes.Internal, err.Error())
}
