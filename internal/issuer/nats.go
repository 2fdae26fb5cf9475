// Package issuer connects the mint scheduler to the debt-token issuer.
package issuer

import (
	"NaiVault/internal/mint"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const DefaultSubject = "nai.issuer.mint"

// Reply is the issuer's answer. Result is the raw return value of the mint
// call and is passed through unparsed.
type Reply struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NATSIssuer calls the issuer over NATS request/reply.
type NATSIssuer struct {
	nc       *nats.Conn
	subject  string
	duration *prometheus.HistogramVec
	logger   zerolog.Logger
}

// NewNATSIssuer returns an issuer on subject. duration may be nil.
func NewNATSIssuer(nc *nats.Conn, subject string, duration *prometheus.HistogramVec, logger zerolog.Logger) *NATSIssuer {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSIssuer{nc: nc, subject: subject, duration: duration, logger: logger}
}

// Mint sends call and waits for the reply or ctx. Transport errors and
// timeouts settle as failures: the vault only records what the issuer
// confirms.
func (i *NATSIssuer) Mint(ctx context.Context, call mint.MintCall) mint.Outcome {
	start := time.Now()
	outcome := i.mint(ctx, call)
	if i.duration != nil {
		i.duration.WithLabelValues(outcome.Status.String()).Observe(time.Since(start).Seconds())
	}
	return outcome
}

func (i *NATSIssuer) mint(ctx context.Context, call mint.MintCall) mint.Outcome {
	data, err := json.Marshal(call)
	if err != nil {
		return mint.Failed(fmt.Sprintf("marshal call: %v", err))
	}

	msg, err := i.nc.RequestWithContext(ctx, i.subject, data)
	if err != nil {
		reason := "issuer unreachable"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			reason = "issuer timeout"
		}
		i.logger.Warn().Err(err).Str("call_id", call.CallID).Msg(reason)
		return mint.Failed(reason)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		// Not an envelope at all: there is no success signal to trust.
		return mint.Failed(fmt.Sprintf("unreadable reply: %v", err))
	}
	if !reply.OK {
		return mint.Failed(reply.Error)
	}
	return mint.Succeeded([]byte(reply.Result))
}
