package ingestion

import (
	"NaiVault/internal/event"
	fpmath "NaiVault/internal/math"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Submitter runs an event through the core and reports its outcome.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) error
}

// AdminIngestService is the synchronous admin path into the core: manual
// transfer injection, borrow requests and policy changes. Bulk traffic goes
// through NATS.
type AdminIngestService struct {
	core Submitter
	now  func() time.Time
}

func NewAdminIngestService(core Submitter) *AdminIngestService {
	return &AdminIngestService{core: core, now: time.Now}
}

// InjectTransfer replays a transfer notification by hand. The caller supplies
// the per-token sequence, which must be the next one the core expects.
func (s *AdminIngestService) InjectTransfer(ctx context.Context, transferID, tokenID, sender string, amount fpmath.U128, msg string, sequence int64) (*event.TokenTransferReceived, error) {
	if transferID == "" {
		transferID = uuid.NewString()
	}
	if tokenID == "" || sender == "" {
		return nil, errors.New("token_id and sender_id are required")
	}
	evt := &event.TokenTransferReceived{
		TransferID: transferID,
		TokenID:    tokenID,
		Sender:     sender,
		Amount:     amount,
		Msg:        msg,
		Sequence:   sequence,
		Timestamp:  s.now().UnixMicro(),
	}
	return evt, s.core.Submit(ctx, evt)
}

// RequestBorrow asks for a mint against collateral the account already holds.
// An empty requestID gets a fresh one; retries should reuse the returned id.
func (s *AdminIngestService) RequestBorrow(ctx context.Context, requestID, account, collateralToken string, collateral, borrow fpmath.U128) (*event.BorrowRequested, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	evt := &event.BorrowRequested{
		RequestID:         requestID,
		Account:           account,
		CollateralTokenID: collateralToken,
		CollateralAmount:  collateral,
		BorrowAmount:      borrow,
		Timestamp:         s.now().UnixMicro(),
	}
	return evt, s.core.Submit(ctx, evt)
}

// UpdatePolicy applies a gate change.
func (s *AdminIngestService) UpdatePolicy(ctx context.Context, updateID string, action event.PolicyAction, target string) (*event.PolicyUpdated, error) {
	if updateID == "" {
		updateID = uuid.NewString()
	}
	evt := &event.PolicyUpdated{
		UpdateID:  updateID,
		Action:    action,
		Target:    target,
		Timestamp: s.now().UnixMicro(),
	}
	return evt, s.core.Submit(ctx, evt)
}
