package depend

import (
	"context"
	"testing"
)

// fakeSource models way w=20 referencing node n=1, and relation r=30
// referencing way w=20 — scenario S6.
type fakeSource struct {
	waysByNode map[int64][]int64
	relsByWay  map[int64][]int64
}

func (f *fakeSource) WaysUsingNode(ctx context.Context, nodeID int64) ([]int64, error) {
	return f.waysByNode[nodeID], nil
}

func (f *fakeSource) RelationsUsingWay(ctx context.Context, wayID int64) ([]int64, error) {
	return f.relsByWay[wayID], nil
}

func TestPendingPropagationS6(t *testing.T) {
	src := &fakeSource{
		waysByNode: map[int64][]int64{1: {20}},
		relsByWay:  map[int64][]int64{20: {30}},
	}
	m := NewManager(src)
	ctx := context.Background()

	if err := m.NodeChanged(ctx, 1); err != nil {
		t.Fatalf("NodeChanged: %v", err)
	}
	ways := m.DrainPendingWayIDs()
	if len(ways) != 1 || ways[0] != 20 {
		t.Fatalf("pending ways = %v, want [20]", ways)
	}

	if err := m.WayChanged(ctx, 20); err != nil {
		t.Fatalf("WayChanged: %v", err)
	}
	rels := m.DrainPendingRelationIDs()
	if len(rels) != 1 || rels[0] != 30 {
		t.Fatalf("pending relations = %v, want [30]", rels)
	}
}

func TestDrainEmptiesSet(t *testing.T) {
	src := &fakeSource{waysByNode: map[int64][]int64{1: {20}}}
	m := NewManager(src)
	ctx := context.Background()

	_ = m.NodeChanged(ctx, 1)
	if !m.HasPending() {
		t.Fatalf("expected pending after NodeChanged")
	}
	_ = m.DrainPendingWayIDs()
	if m.HasPending() {
		t.Fatalf("expected no pending after drain")
	}
	if got := m.DrainPendingWayIDs(); len(got) != 0 {
		t.Fatalf("expected empty drain on second call, got %v", got)
	}
}

func TestDrainDeduplicatesAndSorts(t *testing.T) {
	src := &fakeSource{waysByNode: map[int64][]int64{
		1: {30, 10, 20},
		2: {10, 40},
	}}
	m := NewManager(src)
	ctx := context.Background()
	_ = m.NodeChanged(ctx, 1)
	_ = m.NodeChanged(ctx, 2)

	ways := m.DrainPendingWayIDs()
	want := []int64{10, 20, 30, 40}
	if len(ways) != len(want) {
		t.Fatalf("ways = %v, want %v", ways, want)
	}
	for i := range want {
		if ways[i] != want[i] {
			t.Fatalf("ways = %v, want %v", ways, want)
		}
	}
}
