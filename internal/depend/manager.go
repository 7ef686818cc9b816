// Package depend implements the dependency manager: given a stream of
// node/way/relation change notifications during append-mode ingest, it
// tracks which parents must be reprocessed.
package depend

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// BackrefSource answers "what references this id" queries, backed by the
// slim middle's back-reference tables.
type BackrefSource interface {
	WaysUsingNode(ctx context.Context, nodeID int64) ([]int64, error)
	RelationsUsingWay(ctx context.Context, wayID int64) ([]int64, error)
}

// Manager maintains the pending-ways and pending-relations sets awaiting
// geometry rebuild. It is safe for concurrent use: multiple ingest
// goroutines may call *Changed concurrently with a drain.
type Manager struct {
	source BackrefSource

	mu               sync.Mutex
	pendingWays      map[int64]struct{}
	pendingRelations map[int64]struct{}
}

// NewManager creates a dependency manager backed by source.
func NewManager(source BackrefSource) *Manager {
	return &Manager{
		source:           source,
		pendingWays:      make(map[int64]struct{}),
		pendingRelations: make(map[int64]struct{}),
	}
}

// NodeChanged records that node id changed: every way referencing it is
// added to the pending-ways set.
func (m *Manager) NodeChanged(ctx context.Context, id int64) error {
	wayIDs, err := m.source.WaysUsingNode(ctx, id)
	if err != nil {
		return fmt.Errorf("depend: ways_using_node(%d): %w", id, err)
	}
	m.mu.Lock()
	for _, w := range wayIDs {
		m.pendingWays[w] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// WayChanged records that way id changed: every relation referencing it
// is added to the pending-relations set. Used both for direct way
// changes and for stage 1c's re-notification of ways marked during
// stage 1b.
func (m *Manager) WayChanged(ctx context.Context, id int64) error {
	relIDs, err := m.source.RelationsUsingWay(ctx, id)
	if err != nil {
		return fmt.Errorf("depend: relations_using_way(%d): %w", id, err)
	}
	m.mu.Lock()
	for _, r := range relIDs {
		m.pendingRelations[r] = struct{}{}
	}
	m.mu.Unlock()
	return nil
}

// HasPending reports whether either pending set is non-empty.
func (m *Manager) HasPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pendingWays) > 0 || len(m.pendingRelations) > 0
}

// DrainPendingWayIDs returns every pending way id, sorted and
// deduplicated, and empties the set.
func (m *Manager) DrainPendingWayIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := drainSet(m.pendingWays)
	m.pendingWays = make(map[int64]struct{})
	return ids
}

// DrainPendingRelationIDs returns every pending relation id, sorted and
// deduplicated, and empties the set.
func (m *Manager) DrainPendingRelationIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := drainSet(m.pendingRelations)
	m.pendingRelations = make(map[int64]struct{})
	return ids
}

func drainSet(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
