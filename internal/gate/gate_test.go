package gate_test

import (
	"testing"

	"NaiVault/internal/event"
	"NaiVault/internal/gate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubView struct {
	paused      bool
	blacklisted map[string]bool
	supported   map[string]bool
}

func (s stubView) IsPaused() bool              { return s.paused }
func (s stubView) IsBlacklisted(a string) bool { return s.blacklisted[a] }
func (s stubView) IsSupported(tok string) bool { return s.supported[tok] }

func TestGate_Allows(t *testing.T) {
	g := gate.New(stubView{supported: map[string]bool{"wrap.near": true}})
	assert.NoError(t, g.CanAccept("alice.near", "wrap.near"))
}

func TestGate_RejectionOrder(t *testing.T) {
	v := stubView{
		paused:      true,
		blacklisted: map[string]bool{"eve.near": true},
		supported:   map[string]bool{},
	}
	err := gate.New(v).CanAccept("eve.near", "junk.near")
	assert.ErrorIs(t, err, gate.ErrPaused)
	assert.ErrorIs(t, err, gate.ErrRejected)

	v.paused = false
	err = gate.New(v).CanAccept("eve.near", "junk.near")
	assert.ErrorIs(t, err, gate.ErrBlacklisted)
	assert.Equal(t, "blacklisted", gate.Reason(err))

	err = gate.New(v).CanAccept("alice.near", "junk.near")
	assert.ErrorIs(t, err, gate.ErrUnsupportedToken)
	assert.Equal(t, "unsupported_token", gate.Reason(err))
}

func TestGate_NilViewAllowsEverything(t *testing.T) {
	assert.NoError(t, gate.New(nil).CanAccept("x.near", "y.near"))
}

func TestState_ApplyAndSnapshot(t *testing.T) {
	s := gate.NewState("wrap.near")
	g := gate.New(s)

	require.NoError(t, s.Apply(&event.PolicyUpdated{UpdateID: "1", Action: event.PolicyActionBlacklist, Target: "eve.near"}))
	assert.ErrorIs(t, g.CanAccept("eve.near", "wrap.near"), gate.ErrBlacklisted)

	require.NoError(t, s.Apply(&event.PolicyUpdated{UpdateID: "2", Action: event.PolicyActionPause}))
	assert.ErrorIs(t, g.CanAccept("alice.near", "wrap.near"), gate.ErrPaused)

	snap := s.Snapshot()
	restored := gate.NewState()
	restored.Restore(snap)
	assert.Equal(t, snap, restored.Snapshot())
	assert.True(t, restored.IsPaused())
	assert.True(t, restored.IsSupported("wrap.near"))

	require.NoError(t, restored.Apply(&event.PolicyUpdated{UpdateID: "3", Action: event.PolicyActionUnpause}))
	require.NoError(t, restored.Apply(&event.PolicyUpdated{UpdateID: "4", Action: event.PolicyActionUnblacklist, Target: "eve.near"}))
	assert.NoError(t, gate.New(restored).CanAccept("eve.near", "wrap.near"))
}

func TestState_ApplyRequiresTarget(t *testing.T) {
	s := gate.NewState()
	assert.Error(t, s.Apply(&event.PolicyUpdated{UpdateID: "1", Action: event.PolicyActionSupportToken}))
	assert.Error(t, s.Apply(&event.PolicyUpdated{UpdateID: "2", Action: event.PolicyActionUnknown, Target: "x"}))
}
