package ingestion_test

import (
	"NaiVault/internal/core"
	"NaiVault/internal/event"
	"NaiVault/internal/ingestion"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: outbound publication
// ============================================================================

func output(seq int64, et event.EventType, key string, borrow *event.BorrowEvent) core.CoreOutput {
	return core.CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       seq,
			IdempotencyKey: key,
			EventType:      et,
			Timestamp:      time.UnixMicro(1_000_000 + seq),
			Payload:        []byte(`{}`),
		},
		Borrow: borrow,
	}
}

func TestPublisher_EventsAndBorrows(t *testing.T) {
	url := testutil.RunNATSServer(t)
	logger := zerolog.Nop()

	nc, js, err := ingestion.ConnectNATS(url, "naivault-test", logger)
	require.NoError(t, err)
	defer nc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, ingestion.EnsureOutboundStream(ctx, js, time.Hour))

	in := make(chan core.CoreOutput, 4)
	in <- output(0, event.EventTypeTokenTransferReceived, "transfer:t1", nil)
	in <- output(1, event.EventTypeMintSettled, "mint_settled:c1", &event.BorrowEvent{
		AccountID:         "alice.near",
		CollateralTokenID: "wrap.near",
		BorrowAmount:      fpmath.NewU128(700),
	})
	// Republished sequence is dropped by the stream's Msg-Id window.
	in <- output(0, event.EventTypeTokenTransferReceived, "transfer:t1", nil)
	close(in)

	require.NoError(t, ingestion.NewOutboundPublisher(js, in, logger).Run(ctx))

	stream, err := js.Stream(ctx, "NAI_VAULT_EVENTS")
	require.NoError(t, err)
	info, err := stream.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.State.Msgs)

	first, err := stream.GetMsg(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "nai.vault.events.TokenTransferReceived", first.Subject)
	var pub ingestion.PublishableEvent
	require.NoError(t, json.Unmarshal(first.Data, &pub))
	assert.Equal(t, "transfer:t1", pub.IdempotencyKey)

	borrow, err := stream.GetMsg(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "nai.vault.borrows", borrow.Subject)
	var b ingestion.PublishableBorrow
	require.NoError(t, json.Unmarshal(borrow.Data, &b))
	assert.Equal(t, ingestion.PublishableBorrow{
		Sequence:          1,
		AccountID:         "alice.near",
		CollateralTokenID: "wrap.near",
		BorrowAmount:      "700",
	}, b)
}
