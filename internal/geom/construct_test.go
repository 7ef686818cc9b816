package geom

import "testing"

func TestLineStringFromWayCollapsesDuplicates(t *testing.T) {
	coords := []Point{{0, 0}, {0, 0}, {1, 1}, {1, 1}, {2, 2}}
	g := LineStringFromWay(coords, 4326)
	if g.Kind != KindLineString || len(g.Points) != 3 {
		t.Fatalf("expected 3-point linestring, got %+v", g)
	}
}

func TestPolygonFromWayRequiresClosedRing(t *testing.T) {
	closed := []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	g := PolygonFromWay(closed, 4326)
	if g.Kind != KindPolygon || len(g.Rings) != 1 {
		t.Fatalf("expected polygon, got %+v", g)
	}

	open := []Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	if got := PolygonFromWay(open, 4326); !got.IsNull() {
		t.Fatalf("expected null for open way, got %+v", got)
	}
}

func TestMultiLineStringFromWaysCollapsesToSingle(t *testing.T) {
	ways := [][]Point{{{0, 0}, {1, 0}}}
	g := MultiLineStringFromWays(ways, false, 4326)
	if g.Kind != KindLineString {
		t.Fatalf("expected bare linestring when forceMulti=false and one way, got %+v", g)
	}

	forced := MultiLineStringFromWays(ways, true, 4326)
	if forced.Kind != KindMultiLineString || len(forced.Geometries) != 1 {
		t.Fatalf("expected multilinestring when forceMulti=true, got %+v", forced)
	}
}

func TestMultiLineStringFromWaysDropsDegenerate(t *testing.T) {
	ways := [][]Point{{{0, 0}, {1, 0}}, {{5, 5}}}
	g := MultiLineStringFromWays(ways, true, 4326)
	if g.Kind != KindMultiLineString || len(g.Geometries) != 1 {
		t.Fatalf("expected degenerate way dropped, got %+v", g)
	}
}

func TestMultiPointFromNodesEmpty(t *testing.T) {
	if g := MultiPointFromNodes(nil, 4326); !g.IsNull() {
		t.Fatalf("expected null for empty node list")
	}
}

func TestMultiPolygonFromRelationExplicitRoles(t *testing.T) {
	outer := WayMember{Role: "outer", Coords: []Point{{0, 0}, {3, 0}, {3, 3}, {0, 3}, {0, 0}}}
	inner := WayMember{Role: "inner", Coords: []Point{{1, 1}, {2, 1}, {2, 2}, {1, 2}, {1, 1}}}
	g := MultiPolygonFromRelation([]WayMember{outer, inner})
	if g.Kind != KindMultiPolygon || len(g.Geometries) != 1 {
		t.Fatalf("expected single polygon in multipolygon, got %+v", g)
	}
	poly := g.Geometries[0]
	if len(poly.Rings) != 2 {
		t.Fatalf("expected outer+inner ring, got %d rings", len(poly.Rings))
	}
	if a := Area(poly); a != 8 {
		t.Fatalf("area = %v, want 8", a)
	}
}

func TestMultiPolygonFromRelationUntaggedRoles(t *testing.T) {
	outer := WayMember{Coords: []Point{{0, 0}, {3, 0}, {3, 3}, {0, 3}, {0, 0}}}
	inner := WayMember{Coords: []Point{{1, 1}, {2, 1}, {2, 2}, {1, 2}, {1, 1}}}
	g := MultiPolygonFromRelation([]WayMember{outer, inner})
	if g.Kind != KindMultiPolygon || len(g.Geometries) != 1 {
		t.Fatalf("expected single polygon via containment classification, got %+v", g)
	}
	if a := Area(g.Geometries[0]); a != 8 {
		t.Fatalf("area = %v, want 8", a)
	}
}

func TestMultiPolygonFromRelationSplitWays(t *testing.T) {
	// Outer ring assembled from two way pieces sharing endpoints.
	a := WayMember{Role: "outer", Coords: []Point{{0, 0}, {3, 0}, {3, 3}}}
	b := WayMember{Role: "outer", Coords: []Point{{3, 3}, {0, 3}, {0, 0}}}
	g := MultiPolygonFromRelation([]WayMember{a, b})
	if g.Kind != KindMultiPolygon || len(g.Geometries) != 1 {
		t.Fatalf("expected ring joined from two pieces, got %+v", g)
	}
	if area := Area(g.Geometries[0]); area != 9 {
		t.Fatalf("area = %v, want 9", area)
	}
}

func TestMultiPolygonFromRelationNoClosedRing(t *testing.T) {
	open := WayMember{Role: "outer", Coords: []Point{{0, 0}, {1, 0}, {1, 1}}}
	if g := MultiPolygonFromRelation([]WayMember{open}); !g.IsNull() {
		t.Fatalf("expected null, got %+v", g)
	}
}

func TestCollectionFromMembers(t *testing.T) {
	members := []CollectionMember{
		{Geom: NewPoint(0, 0, 4326)},
		{Geom: Null},
		{Geom: Geometry{Kind: KindLineString, Points: []Point{{0, 0}, {1, 1}}}},
	}
	g := CollectionFromMembers(members, 4326)
	if g.Kind != KindCollection || len(g.Geometries) != 2 {
		t.Fatalf("expected 2 non-null members, got %+v", g)
	}
	if len(CollectionFromMembers(nil, 4326).Geometries) != 0 && !CollectionFromMembers(nil, 4326).IsNull() {
		t.Fatalf("expected null for empty members")
	}
}
