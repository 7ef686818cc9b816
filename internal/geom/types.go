// Package geom implements the OSM geometry value type and its EWKB wire
// codec: a tagged-variant sum type over null/point/linestring/polygon and
// their multi/collection forms, plus construction from OSM topology and
// the measurement/transform operations the driver needs.
package geom

// Kind discriminates the variant held by a Geometry value.
type Kind int

const (
	KindNull Kind = iota
	KindPoint
	KindLineString
	KindPolygon
	KindMultiPoint
	KindMultiLineString
	KindMultiPolygon
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "NULL"
	case KindPoint:
		return "POINT"
	case KindLineString:
		return "LINESTRING"
	case KindPolygon:
		return "POLYGON"
	case KindMultiPoint:
		return "MULTIPOINT"
	case KindMultiLineString:
		return "MULTILINESTRING"
	case KindMultiPolygon:
		return "MULTIPOLYGON"
	case KindCollection:
		return "GEOMETRYCOLLECTION"
	default:
		return "UNKNOWN"
	}
}

// wkbType is the raw EWKB type code before the SRID flag is OR-ed in.
type wkbType uint32

const (
	wkbPoint              wkbType = 1
	wkbLineString         wkbType = 2
	wkbPolygon            wkbType = 3
	wkbMultiPoint         wkbType = 4
	wkbMultiLineString    wkbType = 5
	wkbMultiPolygon       wkbType = 6
	wkbGeometryCollection wkbType = 7

	wkbSRIDFlag uint32 = 0x2000_0000
)

func kindToWKBType(k Kind) (wkbType, bool) {
	switch k {
	case KindPoint:
		return wkbPoint, true
	case KindLineString:
		return wkbLineString, true
	case KindPolygon:
		return wkbPolygon, true
	case KindMultiPoint:
		return wkbMultiPoint, true
	case KindMultiLineString:
		return wkbMultiLineString, true
	case KindMultiPolygon:
		return wkbMultiPolygon, true
	case KindCollection:
		return wkbGeometryCollection, true
	default:
		return 0, false
	}
}

func wkbTypeToKind(t wkbType) (Kind, bool) {
	switch t {
	case wkbPoint:
		return KindPoint, true
	case wkbLineString:
		return KindLineString, true
	case wkbPolygon:
		return KindPolygon, true
	case wkbMultiPoint:
		return KindMultiPoint, true
	case wkbMultiLineString:
		return KindMultiLineString, true
	case wkbMultiPolygon:
		return KindMultiPolygon, true
	case wkbGeometryCollection:
		return KindCollection, true
	default:
		return KindNull, false
	}
}

// Point is a bare (x, y) coordinate pair; for SRID 4326 x=longitude,
// y=latitude.
type Point struct {
	X, Y float64
}

// Ring is a closed point sequence: first point equals last, length >= 4.
type Ring []Point

// Geometry is a tagged-variant value.
// Singular kinds (Point, LineString, Polygon) use X/Y, Points, or Rings
// respectively. Multi/collection kinds hold their members in Geometries,
// each a fully formed sub-geometry (mirroring the EWKB body layout, where
// multi-geometry members are themselves headered sub-geometries).
//
// Go structs holding slices are not comparable with the built-in ==
// operator; Equal provides the structural-equality semantics the source
// design calls for.
type Geometry struct {
	Kind Kind
	SRID int32

	X, Y float64

	Points []Point
	Rings  []Ring

	Geometries []Geometry
}

// Null is the zero-value null geometry with no SRID.
var Null = Geometry{Kind: KindNull}

// NewPoint constructs a singular point geometry.
func NewPoint(x, y float64, srid int32) Geometry {
	return Geometry{Kind: KindPoint, SRID: srid, X: x, Y: y}
}

// IsNull reports whether g is the null geometry.
func (g Geometry) IsNull() bool {
	return g.Kind == KindNull
}

// WithSRID returns a copy of g with its SRID replaced.
func (g Geometry) WithSRID(srid int32) Geometry {
	g.SRID = srid
	return g
}

// Equal performs deep structural comparison, the == replacement called
// for by the sum-type design: two geometries are equal iff their kind,
// SRID, and all nested coordinates/members match exactly.
func (g Geometry) Equal(o Geometry) bool {
	if g.Kind != o.Kind || g.SRID != o.SRID {
		return false
	}
	switch g.Kind {
	case KindNull:
		return true
	case KindPoint:
		return g.X == o.X && g.Y == o.Y
	case KindLineString:
		return equalPoints(g.Points, o.Points)
	case KindPolygon:
		return equalRings(g.Rings, o.Rings)
	default:
		if len(g.Geometries) != len(o.Geometries) {
			return false
		}
		for i := range g.Geometries {
			if !g.Geometries[i].Equal(o.Geometries[i]) {
				return false
			}
		}
		return true
	}
}

func equalPoints(a, b []Point) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalRings(a, b []Ring) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equalPoints([]Point(a[i]), []Point(b[i])) {
			return false
		}
	}
	return true
}

// NumGeometries returns the number of sub-geometries for multi/collection
// kinds, 1 for singular non-null kinds, 0 for null.
func (g Geometry) NumGeometries() int {
	switch g.Kind {
	case KindNull:
		return 0
	case KindPoint, KindLineString, KindPolygon:
		return 1
	default:
		return len(g.Geometries)
	}
}
