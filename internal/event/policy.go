package event

import (
	"fmt"
)

// PolicyAction is an administrative change to the access gate.
type PolicyAction uint8

const (
	PolicyActionUnknown PolicyAction = iota
	PolicyActionPause
	PolicyActionUnpause
	PolicyActionBlacklist
	PolicyActionUnblacklist
	PolicyActionSupportToken
	PolicyActionUnsupportToken
)

var policyActionNames = map[PolicyAction]string{
	PolicyActionPause:          "pause",
	PolicyActionUnpause:        "unpause",
	PolicyActionBlacklist:      "blacklist",
	PolicyActionUnblacklist:    "unblacklist",
	PolicyActionSupportToken:   "support_token",
	PolicyActionUnsupportToken: "unsupport_token",
}

func (a PolicyAction) String() string {
	if n, ok := policyActionNames[a]; ok {
		return n
	}
	return "unknown"
}

func ParsePolicyAction(s string) (PolicyAction, error) {
	for a, n := range policyActionNames {
		if n == s {
			return a, nil
		}
	}
	return PolicyActionUnknown, fmt.Errorf("unknown policy action %q", s)
}

// NeedsTarget reports whether the action applies to an account or token.
func (a PolicyAction) NeedsTarget() bool {
	return a != PolicyActionPause && a != PolicyActionUnpause
}

// PolicyUpdated changes the gate state. Processed through the core so that gate
// decisions are ordered with the transfers they affect.
type PolicyUpdated struct {
	UpdateID  string
	Action    PolicyAction
	Target    string // account for (un)blacklist, token for (un)support
	Timestamp int64
}

func (p *PolicyUpdated) IdempotencyKey() string {
	return "policy:" + p.UpdateID
}

func (p *PolicyUpdated) EventType() EventType {
	return EventTypePolicyUpdated
}

func (p *PolicyUpdated) Partition() *string {
	return nil
}

func (p *PolicyUpdated) SourceSequence() int64 {
	return 0
}

func (p *PolicyUpdated) EventTime() int64 {
	return p.Timestamp
}
