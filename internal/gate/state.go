package gate

import (
	"NaiVault/internal/event"
	"fmt"
	"sort"
)

// State is the mutable policy: pause flag, blacklist and supported tokens.
// It is owned by the core and changed only by PolicyUpdated events.
type State struct {
	paused    bool
	blacklist map[string]struct{}
	supported map[string]struct{}
}

func NewState(supportedTokens ...string) *State {
	s := &State{
		blacklist: make(map[string]struct{}),
		supported: make(map[string]struct{}),
	}
	for _, t := range supportedTokens {
		s.supported[t] = struct{}{}
	}
	return s
}

func (s *State) IsPaused() bool { return s.paused }

func (s *State) IsBlacklisted(account string) bool {
	_, ok := s.blacklist[account]
	return ok
}

func (s *State) IsSupported(token string) bool {
	_, ok := s.supported[token]
	return ok
}

// Apply performs a policy update. Updates are idempotent: blacklisting an
// already blacklisted account is not an error.
func (s *State) Apply(u *event.PolicyUpdated) error {
	if u.Action.NeedsTarget() && u.Target == "" {
		return fmt.Errorf("policy %s requires a target", u.Action)
	}
	switch u.Action {
	case event.PolicyActionPause:
		s.paused = true
	case event.PolicyActionUnpause:
		s.paused = false
	case event.PolicyActionBlacklist:
		s.blacklist[u.Target] = struct{}{}
	case event.PolicyActionUnblacklist:
		delete(s.blacklist, u.Target)
	case event.PolicyActionSupportToken:
		s.supported[u.Target] = struct{}{}
	case event.PolicyActionUnsupportToken:
		delete(s.supported, u.Target)
	default:
		return fmt.Errorf("unknown policy action %d", u.Action)
	}
	return nil
}

// Snapshot is the serializable form of State.
type Snapshot struct {
	Paused          bool     `json:"paused"`
	Blacklist       []string `json:"blacklist"`
	SupportedTokens []string `json:"supported_tokens"`
}

func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Paused:          s.paused,
		Blacklist:       sortedKeys(s.blacklist),
		SupportedTokens: sortedKeys(s.supported),
	}
}

func (s *State) Restore(snap Snapshot) {
	s.paused = snap.Paused
	s.blacklist = make(map[string]struct{}, len(snap.Blacklist))
	for _, a := range snap.Blacklist {
		s.blacklist[a] = struct{}{}
	}
	s.supported = make(map[string]struct{}, len(snap.SupportedTokens))
	for _, t := range snap.SupportedTokens {
		s.supported[t] = struct{}{}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
