package geom

import "testing"

// S3 — polygon with one inner ring.
func TestPolygonInnerRingAreaS3(t *testing.T) {
	outer := Ring{{0, 0}, {3, 0}, {3, 3}, {0, 3}, {0, 0}}
	inner := Ring{{1, 1}, {2, 1}, {2, 2}, {1, 2}, {1, 1}}
	p := Geometry{Kind: KindPolygon, Rings: []Ring{outer, inner}}

	if a := Area(p); a != 8 {
		t.Fatalf("area = %v, want 8", a)
	}

	r1 := Reverse(p)
	r2 := Reverse(r1)
	if !r2.Equal(p) {
		t.Fatalf("double reverse mismatch")
	}
	if Area(r1) != Area(p) {
		t.Fatalf("area not reverse-invariant")
	}
}

func TestAreaNonPolygonIsZero(t *testing.T) {
	ls := Geometry{Kind: KindLineString, Points: []Point{{0, 0}, {1, 1}}}
	if Area(ls) != 0 {
		t.Fatalf("expected 0 area for non-polygon")
	}
	if Area(Null) != 0 {
		t.Fatalf("expected 0 area for null")
	}
}

// S4 — multipoint from relation node members; way member ignored.
func TestMultiPointFromRelationS4(t *testing.T) {
	coords := []Point{{1, 0}, {1, 1}, {3, 2}, {3, 1}}
	mp := MultiPointFromNodes(coords, 4326)
	if mp.Kind != KindMultiPoint || len(mp.Geometries) != 4 {
		t.Fatalf("unexpected geometry: %+v", mp)
	}
	c := Centroid(mp)
	if c.X != 2 || c.Y != 1 {
		t.Fatalf("centroid = %+v, want (2,1)", c)
	}
}

// S5 — line merge.
func TestLineMergeS5(t *testing.T) {
	g := Geometry{Kind: KindMultiLineString, Geometries: []Geometry{
		{Kind: KindLineString, Points: []Point{{0, 0}, {1, 0}}},
		{Kind: KindLineString, Points: []Point{{2, 0}, {1, 0}}},
		{Kind: KindLineString, Points: []Point{{2, 0}, {3, 0}}},
	}}
	merged := LineMerge(g)
	if merged.Kind != KindLineString {
		t.Fatalf("expected single linestring, got %+v", merged)
	}
	want := []Point{{0, 0}, {1, 0}, {2, 0}, {3, 0}}
	if len(merged.Points) != len(want) {
		t.Fatalf("point count mismatch: %+v", merged.Points)
	}
	for i, p := range want {
		if merged.Points[i] != p {
			t.Fatalf("point %d mismatch: got %+v want %+v", i, merged.Points[i], p)
		}
	}
}

func TestLineMergeIdempotent(t *testing.T) {
	g := Geometry{Kind: KindMultiLineString, Geometries: []Geometry{
		{Kind: KindLineString, Points: []Point{{0, 0}, {1, 0}}},
		{Kind: KindLineString, Points: []Point{{1, 0}, {2, 0}}},
	}}
	once := LineMerge(g)
	wrapped := Geometry{Kind: KindMultiLineString, Geometries: []Geometry{once}}
	twice := LineMerge(wrapped)
	if !once.Equal(twice) {
		t.Fatalf("line_merge not idempotent: %+v vs %+v", once, twice)
	}
}

func TestDegenerateConstructionYieldsNull(t *testing.T) {
	if g := LineStringFromWay(nil, 4326); !g.IsNull() {
		t.Fatalf("expected null for empty way")
	}
	if g := LineStringFromWay([]Point{{0, 0}}, 4326); !g.IsNull() {
		t.Fatalf("expected null for single-point way")
	}
	if g := PolygonFromWay([]Point{{0, 0}, {1, 0}, {1, 1}}, 4326); !g.IsNull() {
		t.Fatalf("expected null for open way polygon")
	}
}

func TestSegmentize(t *testing.T) {
	g := Geometry{Kind: KindLineString, Points: []Point{{0, 0}, {10, 0}}}
	seg := Segmentize(g, 3)
	if seg.Kind != KindMultiLineString {
		t.Fatalf("expected multilinestring")
	}
	pts := seg.Geometries[0].Points
	for i := 0; i < len(pts)-1; i++ {
		if Distance(pts[i], pts[i+1]) > 3.0001 {
			t.Fatalf("segment too long: %v", Distance(pts[i], pts[i+1]))
		}
	}
}

func TestSplitMulti(t *testing.T) {
	g := Geometry{Kind: KindMultiPoint, SRID: 4326, Geometries: []Geometry{{Kind: KindPoint, X: 0, Y: 0}, {Kind: KindPoint, X: 1, Y: 1}}}
	parts := SplitMulti(g, true)
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if len(SplitMulti(Null, true)) != 0 {
		t.Fatalf("expected empty for null")
	}
}

func TestGeometryN(t *testing.T) {
	g := Geometry{Kind: KindMultiPoint, Geometries: []Geometry{{Kind: KindPoint, X: 0, Y: 0}, {Kind: KindPoint, X: 1, Y: 1}}}
	if n := GeometryN(g, 2); n.X != 1 {
		t.Fatalf("geometry_n(2) mismatch: %+v", n)
	}
	if n := GeometryN(g, 3); !n.IsNull() {
		t.Fatalf("expected null for out-of-range n")
	}
}

func TestTransformPreconditionViolation(t *testing.T) {
	g := NewPoint(1, 1, 3857)
	_, err := Transform(g, 4326, 3857, func(x, y float64) (float64, float64) { return x, y })
	if err == nil {
		t.Fatalf("expected precondition error for mismatched SRID")
	}
}

func TestSphericalAreaPrecondition(t *testing.T) {
	g := Geometry{Kind: KindPolygon, SRID: 3857, Rings: []Ring{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}}
	_, err := SphericalArea(g)
	if err == nil {
		t.Fatalf("expected precondition error for non-4326 geometry")
	}
}
