package index

import (
	"sync"

	"github.com/mkarrer/swapdesk/internal/pubkey"
)

// ListState is a cached escrow list. An empty PendingOps slice means
// the snapshot came straight from the index; otherwise the snapshot
// carries optimistic edits that have not been re-read from the index.
type ListState struct {
	Entries    []Entry
	PendingOps []string
}

// Authoritative reports whether the snapshot has no optimistic edits.
func (s ListState) Authoritative() bool { return len(s.PendingOps) == 0 }

// Cache holds per-participant escrow lists. Writes come only from the
// synchronizer's optimistic updates and from authoritative refreshes;
// everything else reads.
type Cache struct {
	mu    sync.RWMutex
	lists map[string]ListState
}

// NewCache returns an empty list cache.
func NewCache() *Cache {
	return &Cache{lists: make(map[string]ListState)}
}

// ListKey names the cached active-escrow list of one participant.
func ListKey(owner pubkey.PublicKey) string { return owner.String() }

// Put installs an authoritative snapshot, discarding optimistic state.
func (c *Cache) Put(listKey string, entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[listKey] = ListState{Entries: append([]Entry(nil), entries...)}
}

// Get returns the cached state for a list, if any.
func (c *Cache) Get(listKey string) (ListState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.lists[listKey]
	return s, ok
}

// Invalidate drops a cached list so the next read refetches.
func (c *Cache) Invalidate(listKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, listKey)
}

// OptimisticRemove drops one escrow from a cached list ahead of the
// next authoritative refresh. Each call removes a single address, so
// overlapping removals from concurrent operations commute.
func (c *Cache) OptimisticRemove(listKey string, escrowAddress pubkey.PublicKey, opID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.lists[listKey]
	if !ok {
		return
	}
	kept := s.Entries[:0:0]
	for _, e := range s.Entries {
		if e.EscrowAddress != escrowAddress {
			kept = append(kept, e)
		}
	}
	s.Entries = kept
	s.PendingOps = append(s.PendingOps, opID)
	c.lists[listKey] = s
}

// Settle clears one pending operation once its index write has landed.
// The snapshot stays; it becomes authoritative when the last pending
// operation settles.
func (c *Cache) Settle(listKey, opID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.lists[listKey]
	if !ok {
		return
	}
	kept := s.PendingOps[:0:0]
	for _, id := range s.PendingOps {
		if id != opID {
			kept = append(kept, id)
		}
	}
	s.PendingOps = kept
	c.lists[listKey] = s
}
