package middle

import "testing"

func TestRAMStorePutIsIdempotentOnOverwrite(t *testing.T) {
	s := NewRAMStore()
	s.PutNode(42, 10, 20)
	s.PutNode(42, 99, 88)

	lon, lat, ok := s.GetNode(42)
	if !ok {
		t.Fatal("expected node 42 present")
	}
	if lon != 99 || lat != 88 {
		t.Errorf("got (%d,%d), want (99,88); second put should win", lon, lat)
	}
}

func TestRAMStoreNegativeIDs(t *testing.T) {
	s := NewRAMStore()
	ids := []int64{-1, -1000, -(1 << 40), 1, 1000, 1 << 40}
	for _, id := range ids {
		s.PutNode(id, int32(id%1000), int32(id%777))
	}
	for _, id := range ids {
		lon, lat, ok := s.GetNode(id)
		if !ok {
			t.Fatalf("id %d: expected present", id)
		}
		if lon != int32(id%1000) || lat != int32(id%777) {
			t.Errorf("id %d: got (%d,%d)", id, lon, lat)
		}
	}
}

func TestRAMStoreGetMissingNode(t *testing.T) {
	s := NewRAMStore()
	if _, _, ok := s.GetNode(7); ok {
		t.Error("expected missing node to report not-found")
	}
}

func TestRAMStoreDeleteNode(t *testing.T) {
	s := NewRAMStore()
	s.PutNode(5, 1, 2)
	s.DeleteNode(5)
	if _, _, ok := s.GetNode(5); ok {
		t.Error("expected node to be gone after delete")
	}
}

func TestRAMStoreGetNodeListSkipsMissing(t *testing.T) {
	s := NewRAMStore()
	s.PutNode(1, 10, 20)
	s.PutNode(3, 30, 40)

	lons, lats, found := s.GetNodeList([]int64{1, 2, 3})
	if found != 2 {
		t.Fatalf("expected 2 found, got %d", found)
	}
	if len(lons) != 2 || len(lats) != 2 {
		t.Fatalf("expected 2 coords, got lons=%d lats=%d", len(lons), len(lats))
	}
	if lons[0] != 10 || lons[1] != 30 {
		t.Errorf("unexpected lons: %v", lons)
	}
}

func TestRAMStoreWayAndRelationRoundTrip(t *testing.T) {
	s := NewRAMStore()
	w := RawWay{ID: 100, Nodes: []int64{1, 2, 3}}
	s.PutWay(w)
	got, ok := s.GetWay(100)
	if !ok || got.ID != 100 || len(got.Nodes) != 3 {
		t.Fatalf("way roundtrip failed: %+v ok=%v", got, ok)
	}

	r := RawRelation{ID: 200}
	s.PutRelation(r)
	gotR, ok := s.GetRelation(200)
	if !ok || gotR.ID != 200 {
		t.Fatalf("relation roundtrip failed: %+v ok=%v", gotR, ok)
	}

	s.DeleteWay(100)
	if _, ok := s.GetWay(100); ok {
		t.Error("expected way deleted")
	}
	s.DeleteRelation(200)
	if _, ok := s.GetRelation(200); ok {
		t.Error("expected relation deleted")
	}
}

func TestRAMStoreClear(t *testing.T) {
	s := NewRAMStore()
	s.PutNode(1, 1, 1)
	s.PutWay(RawWay{ID: 1})
	s.PutRelation(RawRelation{ID: 1})
	s.Clear()

	if _, _, ok := s.GetNode(1); ok {
		t.Error("expected nodes cleared")
	}
	if _, ok := s.GetWay(1); ok {
		t.Error("expected ways cleared")
	}
	if _, ok := s.GetRelation(1); ok {
		t.Error("expected relations cleared")
	}
}
