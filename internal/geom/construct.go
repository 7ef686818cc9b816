package geom

import (
	"go.uber.org/zap"

	"github.com/wegman-software/osm2pgsql-go/internal/logger"
)

// maxRelationMembers is the member-count cap above which a warning is
// logged rather than failing outright — pathological relations still
// get processed, just noisily.
const maxRelationMembers = 32767

func warnIfTooManyMembers(relationMemberCount int) {
	if relationMemberCount > maxRelationMembers {
		logger.Get().Warn("relation has more members than the classic cap",
			zap.Int("members", relationMemberCount),
			zap.Int("cap", maxRelationMembers),
		)
	}
}

// WayMember is a resolved relation member that contributes a way's
// coordinate sequence, used by MultiPolygonFromRelation and
// CollectionFromMembers. Coords is already resolved to located points
// (missing middle nodes are simply absent).
type WayMember struct {
	Role   string // "outer", "inner", or "" (untagged)
	Coords []Point
}

// collapseDuplicates removes consecutive repeated points, the collapsing
// behaviour required before computing a way's linestring.
func collapseDuplicates(pts []Point) []Point {
	if len(pts) == 0 {
		return nil
	}
	out := make([]Point, 0, len(pts))
	out = append(out, pts[0])
	for _, p := range pts[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}

// LineStringFromWay builds a linestring from a way's located, ordered
// node coordinates. Consecutive duplicates collapse; fewer than 2
// remaining points yields Null.
func LineStringFromWay(coords []Point, srid int32) Geometry {
	pts := collapseDuplicates(coords)
	if len(pts) < 2 {
		return Null
	}
	return Geometry{Kind: KindLineString, SRID: srid, Points: pts}
}

func isClosed(pts []Point) bool {
	return len(pts) >= 2 && pts[0] == pts[len(pts)-1]
}

// PolygonFromWay builds a polygon from a single closed way: the
// collapsed node sequence becomes the (sole) outer ring. An open way
// yields Null.
func PolygonFromWay(coords []Point, srid int32) Geometry {
	pts := collapseDuplicates(coords)
	if len(pts) < 4 || !isClosed(pts) {
		return Null
	}
	return Geometry{Kind: KindPolygon, SRID: srid, Rings: []Ring{Ring(pts)}}
}

// PointFromNode builds a singular point geometry from a node's location.
func PointFromNode(lon, lat float64, srid int32) Geometry {
	return NewPoint(lon, lat, srid)
}

// MultiLineStringFromWays builds a multilinestring from a sequence of
// ways' coordinate lists. If forceMulti is false and exactly one
// non-null component results, a bare linestring is returned instead.
func MultiLineStringFromWays(wayCoords [][]Point, forceMulti bool, srid int32) Geometry {
	var lines []Geometry
	for _, coords := range wayCoords {
		ls := LineStringFromWay(coords, 0)
		if !ls.IsNull() {
			lines = append(lines, ls)
		}
	}
	if len(lines) == 0 {
		return Null
	}
	if !forceMulti && len(lines) == 1 {
		return lines[0].WithSRID(srid)
	}
	return Geometry{Kind: KindMultiLineString, SRID: srid, Geometries: lines}
}

// MultiPointFromNodes builds a multipoint from located node coordinates,
// preserving input order.
func MultiPointFromNodes(coords []Point, srid int32) Geometry {
	if len(coords) == 0 {
		return Null
	}
	pts := make([]Geometry, len(coords))
	for i, c := range coords {
		pts[i] = Geometry{Kind: KindPoint, X: c.X, Y: c.Y}
	}
	return Geometry{Kind: KindMultiPoint, SRID: srid, Geometries: pts}
}

// MultiPolygonFromRelation assembles a multipolygon from a relation's way
// members, following osm2pgsql's classic multipolygon algorithm: ways are
// joined end-to-end into closed rings, then rings are classified outer
// vs. inner — respecting explicit "outer"/"inner" roles where given, and
// falling back to containment (a ring inside another, larger ring is an
// inner ring of it) for untagged rings. Invalid assemblies (no closed
// outer ring) yield Null.
func MultiPolygonFromRelation(members []WayMember) Geometry {
	warnIfTooManyMembers(len(members))
	rings, roles := joinRings(members)
	if len(rings) == 0 {
		return Null
	}

	type classified struct {
		ring   Ring
		outer  bool
		forced bool // role was explicit
	}
	cls := make([]classified, len(rings))
	for i, r := range rings {
		switch roles[i] {
		case "outer":
			cls[i] = classified{ring: r, outer: true, forced: true}
		case "inner":
			cls[i] = classified{ring: r, outer: false, forced: true}
		default:
			cls[i] = classified{ring: r}
		}
	}
	// Untagged rings: classify by containment against the largest
	// not-yet-assigned outer candidate, using signed area for nesting depth.
	for i := range cls {
		if cls[i].forced {
			continue
		}
		areaI := signedRingArea(cls[i].ring)
		contained := false
		for j := range cls {
			if i == j {
				continue
			}
			if ringContains(cls[j].ring, cls[i].ring) && absF(signedRingArea(cls[j].ring)) > absF(areaI) {
				contained = true
				break
			}
		}
		cls[i].outer = !contained
	}

	// Group outers with their contained inners into polygons.
	var outers []int
	for i, c := range cls {
		if c.outer {
			outers = append(outers, i)
		}
	}
	if len(outers) == 0 {
		return Null
	}
	polys := make([]Geometry, 0, len(outers))
	for _, oi := range outers {
		poly := Geometry{Kind: KindPolygon, Rings: []Ring{orientRing(cls[oi].ring, true)}}
		for j, c := range cls {
			if c.outer || j == oi {
				continue
			}
			if ringContains(cls[oi].ring, c.ring) {
				poly.Rings = append(poly.Rings, orientRing(c.ring, false))
			}
		}
		polys = append(polys, poly)
	}
	if len(polys) == 1 {
		return Geometry{Kind: KindMultiPolygon, Geometries: polys}
	}
	return Geometry{Kind: KindMultiPolygon, Geometries: polys}
}

// joinRings performs greedy endpoint-matching assembly of way coordinate
// sequences into closed rings, the same join used by LineMerge. A way
// that is already closed becomes its own ring directly. The role
// returned for a joined ring is its first contributing member's role
// when all contributing members agree, else "".
func joinRings(members []WayMember) ([]Ring, []string) {
	type piece struct {
		coords []Point
		role   string
		used   bool
	}
	var pieces []piece
	for _, m := range members {
		c := collapseDuplicates(m.Coords)
		if len(c) < 2 {
			continue
		}
		pieces = append(pieces, piece{coords: c, role: m.Role})
	}

	var rings []Ring
	var roles []string

	for start := 0; start < len(pieces); start++ {
		if pieces[start].used {
			continue
		}
		pieces[start].used = true
		chain := append([]Point(nil), pieces[start].coords...)
		role := pieces[start].role
		agree := true

		for !isClosed(chain) {
			progressed := false
			for k := range pieces {
				if pieces[k].used {
					continue
				}
				c := pieces[k].coords
				last := chain[len(chain)-1]
				switch {
				case c[0] == last:
					chain = append(chain, c[1:]...)
				case c[len(c)-1] == last:
					chain = append(chain, reversePoints(c)[1:]...)
				default:
					continue
				}
				if pieces[k].role != role {
					agree = false
				}
				pieces[k].used = true
				progressed = true
				break
			}
			if !progressed {
				break
			}
		}

		if isClosed(chain) && len(chain) >= 4 {
			rings = append(rings, Ring(chain))
			if agree {
				roles = append(roles, role)
			} else {
				roles = append(roles, "")
			}
		}
	}

	return rings, roles
}

func reversePoints(pts []Point) []Point {
	out := make([]Point, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

// signedRingArea returns the signed area (shoelace formula, positive
// for counter-clockwise orientation).
func signedRingArea(r Ring) float64 {
	var sum float64
	for i := 0; i < len(r)-1; i++ {
		sum += r[i].X*r[i+1].Y - r[i+1].X*r[i].Y
	}
	return sum / 2
}

func absF(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// orientRing returns r oriented counter-clockwise (outer==true) or
// clockwise (outer==false), per the conventional OGC winding rule.
func orientRing(r Ring, outer bool) Ring {
	ccw := signedRingArea(r) > 0
	if ccw == outer {
		return r
	}
	return Ring(reversePoints([]Point(r)))
}

// ringContains is an even-odd point-in-polygon test applied to the
// candidate ring's first vertex; adequate for the non-self-intersecting
// rings OSM multipolygon assembly produces.
func ringContains(outer, candidate Ring) bool {
	if len(candidate) == 0 {
		return false
	}
	return pointInRing(candidate[0], outer)
}

func pointInRing(p Point, r Ring) bool {
	inside := false
	n := len(r)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := r[j], r[i]
		if (a.Y > p.Y) != (b.Y > p.Y) {
			xint := a.X + (p.Y-a.Y)/(b.Y-a.Y)*(b.X-a.X)
			if p.X < xint {
				inside = !inside
			}
		}
	}
	return inside
}

// CollectionMember tags a resolved sub-geometry for inclusion in a
// heterogeneous relation-member collection.
type CollectionMember struct {
	Geom Geometry
}

// CollectionFromMembers builds a geometrycollection from heterogeneous
// relation members (already resolved to geometries by the caller).
// Empty input yields Null.
func CollectionFromMembers(members []CollectionMember, srid int32) Geometry {
	warnIfTooManyMembers(len(members))
	var subs []Geometry
	for _, m := range members {
		if !m.Geom.IsNull() {
			subs = append(subs, m.Geom.WithSRID(0))
		}
	}
	if len(subs) == 0 {
		return Null
	}
	return Geometry{Kind: KindCollection, SRID: srid, Geometries: subs}
}
