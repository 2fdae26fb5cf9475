package issuer_test

import (
	"NaiVault/internal/event"
	"NaiVault/internal/issuer"
	fpmath "NaiVault/internal/math"
	"NaiVault/internal/mint"
	"NaiVault/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(testutil.RunNATSServer(t))
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

// respond answers every call on the subject with reply(call).
func respond(t *testing.T, nc *nats.Conn, subject string, reply func(mint.MintCall) []byte) {
	t.Helper()
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var call mint.MintCall
		if err := json.Unmarshal(msg.Data, &call); err != nil {
			msg.Respond([]byte(`{"ok":false,"error":"bad request"}`))
			return
		}
		msg.Respond(reply(call))
	})
	require.NoError(t, err)
	require.NoError(t, nc.Flush())
	t.Cleanup(func() { sub.Unsubscribe() })
}

func call(amount uint64) mint.MintCall {
	return mint.MintCall{
		CallID:    "call-1",
		AccountID: "alice.near",
		Amount:    fpmath.NewU128(amount),
		Gas:       mint.DefaultGas,
	}
}

func TestNATSIssuer_Success(t *testing.T) {
	nc := connect(t)
	respond(t, nc, issuer.DefaultSubject, func(c mint.MintCall) []byte {
		return []byte(`{"ok":true,"result":"` + c.Amount.String() + `"}`)
	})

	iss := issuer.NewNATSIssuer(nc, "", nil, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := iss.Mint(ctx, call(500))
	assert.Equal(t, event.MintStatusSucceeded, out.Status)
	assert.Equal(t, `"500"`, string(out.Payload))

	amount, res := mint.Resolve(out)
	assert.Equal(t, mint.ResolutionMinted, res)
	assert.Equal(t, "500", amount.String())
}

func TestNATSIssuer_MalformedResultPassesThrough(t *testing.T) {
	nc := connect(t)
	respond(t, nc, issuer.DefaultSubject, func(mint.MintCall) []byte {
		return []byte(`{"ok":true,"result":{"minted":1}}`)
	})

	out := issuer.NewNATSIssuer(nc, "", nil, zerolog.Nop()).Mint(context.Background(), call(1))
	require.Equal(t, event.MintStatusSucceeded, out.Status)

	amount, res := mint.Resolve(out)
	assert.Equal(t, mint.ResolutionMalformedResponse, res)
	assert.True(t, amount.IsZero())
}

func TestNATSIssuer_RemoteFailure(t *testing.T) {
	nc := connect(t)
	respond(t, nc, issuer.DefaultSubject, func(mint.MintCall) []byte {
		return []byte(`{"ok":false,"error":"not a minter"}`)
	})

	out := issuer.NewNATSIssuer(nc, "", nil, zerolog.Nop()).Mint(context.Background(), call(1))
	assert.Equal(t, event.MintStatusFailed, out.Status)
	assert.Equal(t, "not a minter", out.Reason)
}

func TestNATSIssuer_NoResponderFails(t *testing.T) {
	nc := connect(t)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	out := issuer.NewNATSIssuer(nc, "nai.issuer.nobody", nil, zerolog.Nop()).Mint(ctx, call(1))
	assert.Equal(t, event.MintStatusFailed, out.Status)
}
