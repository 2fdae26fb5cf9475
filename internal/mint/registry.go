package mint

import (
	"fmt"
	"sort"
)

// Registry holds the contexts of in-flight mint calls keyed by call identity.
// Every change is written through to the Store first.
type Registry struct {
	store   Store
	pending map[string]MintRequestContext
}

// NewRegistry loads whatever the store still holds from a previous run.
func NewRegistry(store Store) (*Registry, error) {
	r := &Registry{
		store:   store,
		pending: make(map[string]MintRequestContext),
	}
	existing, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load pending mints: %w", err)
	}
	for _, c := range existing {
		r.pending[c.CallID] = c
	}
	return r, nil
}

// Put records a context. Re-recording an identical context is a no-op.
func (r *Registry) Put(c MintRequestContext) error {
	if prev, ok := r.pending[c.CallID]; ok && prev == c {
		return nil
	}
	if err := r.store.Put(c); err != nil {
		return fmt.Errorf("persist pending mint %s: %w", c.CallID, err)
	}
	r.pending[c.CallID] = c
	return nil
}

func (r *Registry) Get(callID string) (MintRequestContext, bool) {
	c, ok := r.pending[callID]
	return c, ok
}

// Remove discards a settled context. The in-memory entry is always dropped; a
// store error is returned so the caller can report it.
func (r *Registry) Remove(callID string) error {
	delete(r.pending, callID)
	if err := r.store.Delete(callID); err != nil {
		return fmt.Errorf("delete pending mint %s: %w", callID, err)
	}
	return nil
}

func (r *Registry) Len() int {
	return len(r.pending)
}

// Pending returns all contexts ordered by request time, then call id.
func (r *Registry) Pending() []MintRequestContext {
	out := make([]MintRequestContext, 0, len(r.pending))
	for _, c := range r.pending {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt != out[j].RequestedAt {
			return out[i].RequestedAt < out[j].RequestedAt
		}
		return out[i].CallID < out[j].CallID
	})
	return out
}

// Restore merges snapshot contexts into the registry.
func (r *Registry) Restore(contexts []MintRequestContext) error {
	for _, c := range contexts {
		if err := r.Put(c); err != nil {
			return err
		}
	}
	return nil
}
