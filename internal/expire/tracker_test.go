package expire

import "testing"

func tileSet(tiles []Tile) map[Tile]bool {
	m := make(map[Tile]bool, len(tiles))
	for _, t := range tiles {
		m[t] = true
	}
	return m
}

func TestExpirePointProducesAncestors(t *testing.T) {
	tr := NewTracker(2, 4)
	tr.ExpirePoint(10, 20)
	tiles := tr.GetTiles()
	zooms := map[int]bool{}
	for _, tl := range tiles {
		zooms[tl.Z] = true
	}
	for z := 2; z <= 4; z++ {
		if !zooms[z] {
			t.Fatalf("expected a dirty tile at zoom %d, got %+v", z, tiles)
		}
	}
}

func TestExpireOutputIsDestructive(t *testing.T) {
	tr := NewTracker(0, 3)
	tr.ExpirePoint(5, 5)
	first := tr.GetTiles()
	if len(first) == 0 {
		t.Fatalf("expected dirty tiles on first call")
	}
	second := tr.GetTiles()
	if len(second) != 0 {
		t.Fatalf("expected empty on second call, got %+v", second)
	}
}

func TestMergeCommutativity(t *testing.T) {
	a1 := NewTracker(0, 4)
	a1.ExpirePoint(10, 10)
	a1.ExpirePoint(-40, 30)

	b1 := NewTracker(0, 4)
	b1.ExpirePoint(100, -20)

	a2 := NewTracker(0, 4)
	a2.ExpirePoint(10, 10)
	a2.ExpirePoint(-40, 30)

	b2 := NewTracker(0, 4)
	b2.ExpirePoint(100, -20)

	a1.Merge(b1)
	b2.Merge(a2)

	merged1 := a1.GetTiles()
	merged2 := b2.GetTiles()

	s1, s2 := tileSet(merged1), tileSet(merged2)
	if len(s1) != len(s2) {
		t.Fatalf("merge not commutative: %d vs %d tiles", len(s1), len(s2))
	}
	for tl := range s1 {
		if !s2[tl] {
			t.Fatalf("merge not commutative: %+v missing from second merge", tl)
		}
	}
}

func TestDisabledTrackerRecordsNothing(t *testing.T) {
	tr := NewTracker(0, 4)
	tr.Disable()
	tr.ExpirePoint(1, 1)
	if len(tr.GetTiles()) != 0 {
		t.Fatalf("expected no tiles when disabled")
	}
}

func TestExpireBBoxInvalidIsNoop(t *testing.T) {
	tr := NewTracker(0, 4)
	tr.ExpireBBox(BBox{MinLon: 10, MaxLon: 5}) // invalid: min > max
	if len(tr.GetTiles()) != 0 {
		t.Fatalf("expected no tiles for invalid bbox")
	}
}
