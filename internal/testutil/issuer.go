package testutil

import (
	"NaiVault/internal/mint"
	"context"
	"sync"
)

// FakeIssuer answers mint calls from a script. Calls without a scripted
// outcome get Default.
type FakeIssuer struct {
	mu       sync.Mutex
	Outcomes map[string]mint.Outcome // by account id
	Default  mint.Outcome
	Calls    []mint.MintCall
}

func NewFakeIssuer(def mint.Outcome) *FakeIssuer {
	return &FakeIssuer{
		Outcomes: make(map[string]mint.Outcome),
		Default:  def,
	}
}

func (f *FakeIssuer) Script(account string, o mint.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Outcomes[account] = o
}

func (f *FakeIssuer) Mint(_ context.Context, call mint.MintCall) mint.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
	if o, ok := f.Outcomes[call.AccountID]; ok {
		return o
	}
	return f.Default
}

func (f *FakeIssuer) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// RecordingScheduler keeps dispatched calls so a test can settle them by hand,
// in any order.
type RecordingScheduler struct {
	mu    sync.Mutex
	Calls []mint.MintCall
}

func (r *RecordingScheduler) Schedule(call mint.MintCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, call)
}

func (r *RecordingScheduler) Dispatched() []mint.MintCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mint.MintCall(nil), r.Calls...)
}
