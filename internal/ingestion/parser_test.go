package ingestion_test

import (
	"NaiVault/internal/event"
	"NaiVault/internal/ingestion"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return ingestion.RawEvent{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseTokenTransferReceived(t *testing.T) {
	payload := map[string]interface{}{
		"transfer_id": "tx-1",
		"token_id":    "wrap.near",
		"sender_id":   "alice.near",
		"amount":      "340282366920938463463374607431768211455",
		"msg":         `{"action":"borrow","borrow_amount":"500"}`,
		"sequence":    int64(7),
		"timestamp":   int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "TokenTransferReceived")
	require.NoError(t, err)

	tr, ok := evt.(*event.TokenTransferReceived)
	require.True(t, ok, "expected *event.TokenTransferReceived, got %T", evt)
	assert.Equal(t, "wrap.near", tr.TokenID)
	assert.Equal(t, "340282366920938463463374607431768211455", tr.Amount.String())
	assert.Equal(t, int64(7), tr.Sequence)
	assert.Equal(t, "token:wrap.near", *tr.Partition())
	assert.Equal(t, "transfer:tx-1", tr.IdempotencyKey())
}

func TestParseBorrowRequested(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":          "req-1",
		"account_id":          "bob.near",
		"collateral_token_id": "usdc.near",
		"collateral_amount":   "1000",
		"borrow_amount":       "250",
		"timestamp":           int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "BorrowRequested")
	require.NoError(t, err)

	br, ok := evt.(*event.BorrowRequested)
	require.True(t, ok, "expected *event.BorrowRequested, got %T", evt)
	assert.Equal(t, "bob.near", br.Account)
	assert.Equal(t, "usdc.near", br.CollateralTokenID)
	assert.Equal(t, "1000", br.CollateralAmount.String())
	assert.Equal(t, "250", br.BorrowAmount.String())
}

func TestParsePolicyUpdated(t *testing.T) {
	payload := map[string]interface{}{
		"update_id": "p-1",
		"action":    "blacklist",
		"target":    "mallory.near",
		"timestamp": int64(1700000000000000),
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, payload), "PolicyUpdated")
	require.NoError(t, err)

	pu, ok := evt.(*event.PolicyUpdated)
	require.True(t, ok, "expected *event.PolicyUpdated, got %T", evt)
	assert.Equal(t, event.PolicyActionBlacklist, pu.Action)
	assert.Equal(t, "mallory.near", pu.Target)
}

func TestParseMintSettled_NotIngestible(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{"call_id":"c","status":"succeeded","timestamp":1}`)}
	_, err := ingestion.ParseRawEvent(raw, "MintSettled")
	require.ErrorIs(t, err, ingestion.ErrInvalidEvent)
}

func TestParseUnknownEventType_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawEvent(raw, "NonExistentType")
	require.Error(t, err)
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawEvent(raw, "TokenTransferReceived")
	require.Error(t, err)
}

func TestParseRejectsShape(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   map[string]interface{}
	}{
		{"amount not a decimal", "TokenTransferReceived", map[string]interface{}{
			"transfer_id": "t", "token_id": "wrap.near", "sender_id": "a.near",
			"amount": "-5", "sequence": 1, "timestamp": 1,
		}},
		{"missing sender", "TokenTransferReceived", map[string]interface{}{
			"transfer_id": "t", "token_id": "wrap.near", "amount": "5", "sequence": 1, "timestamp": 1,
		}},
		{"missing timestamp", "TokenTransferReceived", map[string]interface{}{
			"transfer_id": "t", "token_id": "wrap.near", "sender_id": "a.near", "amount": "5", "sequence": 1,
		}},
		{"missing request id", "BorrowRequested", map[string]interface{}{
			"account_id": "a.near", "collateral_token_id": "wrap.near",
			"collateral_amount": "1", "borrow_amount": "1", "timestamp": 1,
		}},
		{"unknown policy action", "PolicyUpdated", map[string]interface{}{
			"update_id": "p", "action": "liquidate", "timestamp": 1,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseRawEvent(rawFromJSON(t, tt.payload), tt.eventType)
			require.ErrorIs(t, err, ingestion.ErrInvalidEvent)
		})
	}
}

func TestResolveEventType(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	tests := map[string]string{
		"nai.transfers.wrap.near": "TokenTransferReceived",
		"nai.borrows.web":         "BorrowRequested",
		"nai.policy.admin":        "PolicyUpdated",
		"nai.other":               "",
	}
	for subject, want := range tests {
		assert.Equal(t, want, ingestion.ResolveEventType(subject, subjects), subject)
	}
}
