// Package gate decides whether an inbound transfer or borrow may proceed.
package gate

import (
	"errors"
	"fmt"
)

var (
	ErrRejected = errors.New("rejected by policy")

	ErrPaused           = fmt.Errorf("%w: vault paused", ErrRejected)
	ErrBlacklisted      = fmt.Errorf("%w: sender blacklisted", ErrRejected)
	ErrUnsupportedToken = fmt.Errorf("%w: token unsupported", ErrRejected)
)

// View is the policy state the gate reads.
type View interface {
	IsPaused() bool
	IsBlacklisted(account string) bool
	IsSupported(token string) bool
}

// Gate evaluates transfers against an injected View.
type Gate struct {
	view View
}

func New(view View) *Gate {
	return &Gate{view: view}
}

// CanAccept returns nil when sender may move token into the vault, otherwise one
// of ErrPaused, ErrBlacklisted, ErrUnsupportedToken (checked in that order).
func (g *Gate) CanAccept(sender, token string) error {
	if g.view == nil {
		return nil
	}
	if g.view.IsPaused() {
		return ErrPaused
	}
	if g.view.IsBlacklisted(sender) {
		return fmt.Errorf("%w: %s", ErrBlacklisted, sender)
	}
	if !g.view.IsSupported(token) {
		return fmt.Errorf("%w: %s", ErrUnsupportedToken, token)
	}
	return nil
}

// Reason maps a rejection to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrBlacklisted):
		return "blacklisted"
	case errors.Is(err, ErrUnsupportedToken):
		return "unsupported_token"
	case err == nil:
		return ""
	}
	return "other"
}
