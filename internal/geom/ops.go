package geom

import (
	"fmt"
	"math"
)

// Area computes the planar area of a polygon or multipolygon (sum of
// outer-ring areas minus inner-ring areas, via the shoelace formula).
// Every other kind, including Null, has area 0.
func Area(g Geometry) float64 {
	switch g.Kind {
	case KindPolygon:
		return polygonArea(g.Rings)
	case KindMultiPolygon:
		var total float64
		for _, sub := range g.Geometries {
			total += polygonArea(sub.Rings)
		}
		return total
	default:
		return 0
	}
}

func polygonArea(rings []Ring) float64 {
	if len(rings) == 0 {
		return 0
	}
	area := absF(signedRingArea(rings[0]))
	for _, r := range rings[1:] {
		area -= absF(signedRingArea(r))
	}
	return area
}

const earthRadiusMeters = 6378137.0

// SphericalArea computes the area of a 4326 polygon/multipolygon on a
// sphere of Earth's radius, using the spherical excess formula applied
// ring by ring. Calling it on a non-4326 geometry is a precondition
// violation.
func SphericalArea(g Geometry) (float64, error) {
	if g.IsNull() {
		return 0, nil
	}
	if g.SRID != 4326 {
		return 0, fmt.Errorf("%w: spherical_area requires SRID 4326, got %d", ErrPrecondition, g.SRID)
	}
	switch g.Kind {
	case KindPolygon:
		return sphericalPolygonArea(g.Rings), nil
	case KindMultiPolygon:
		var total float64
		for _, sub := range g.Geometries {
			total += sphericalPolygonArea(sub.Rings)
		}
		return total, nil
	default:
		return 0, nil
	}
}

func sphericalPolygonArea(rings []Ring) float64 {
	if len(rings) == 0 {
		return 0
	}
	area := absF(sphericalRingArea(rings[0]))
	for _, r := range rings[1:] {
		area -= absF(sphericalRingArea(r))
	}
	return area
}

// sphericalRingArea uses the spherical-excess (L'Huilier-free) formula
// summing signed trapezoid contributions in longitude/latitude.
func sphericalRingArea(r Ring) float64 {
	if len(r) < 2 {
		return 0
	}
	var total float64
	for i := 0; i < len(r)-1; i++ {
		lon1, lat1 := r[i].X*math.Pi/180, r[i].Y*math.Pi/180
		lon2, lat2 := r[i+1].X*math.Pi/180, r[i+1].Y*math.Pi/180
		total += (lon2 - lon1) * (2 + math.Sin(lat1) + math.Sin(lat2))
	}
	return total * earthRadiusMeters * earthRadiusMeters / 2
}

// Length sums Euclidean segment lengths of a linestring. Every other
// kind has length 0.
func Length(g Geometry) float64 {
	if g.Kind != KindLineString {
		return 0
	}
	var total float64
	for i := 0; i < len(g.Points)-1; i++ {
		total += Distance(g.Points[i], g.Points[i+1])
	}
	return total
}

// Distance returns the Euclidean distance between two points.
func Distance(p, q Point) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Interpolate returns the point a fraction t of the way from p to q.
func Interpolate(p, q Point, t float64) Point {
	return Point{X: p.X + (q.X-p.X)*t, Y: p.Y + (q.Y-p.Y)*t}
}

// Centroid computes the centroid of g. Degenerate inputs (Null, empty
// components) return the origin point.
func Centroid(g Geometry) Point {
	switch g.Kind {
	case KindPoint:
		return Point{X: g.X, Y: g.Y}
	case KindLineString:
		return centroidOfPoints(g.Points)
	case KindPolygon:
		return centroidOfPolygon(g.Rings)
	case KindMultiPoint:
		pts := make([]Point, len(g.Geometries))
		for i, s := range g.Geometries {
			pts[i] = Point{X: s.X, Y: s.Y}
		}
		return centroidOfPoints(pts)
	case KindMultiLineString:
		var all []Point
		for _, s := range g.Geometries {
			all = append(all, s.Points...)
		}
		return centroidOfPoints(all)
	case KindMultiPolygon:
		var sumX, sumY, sumW float64
		for _, s := range g.Geometries {
			if len(s.Rings) == 0 {
				continue
			}
			c := centroidOfPolygon(s.Rings)
			w := absF(signedRingArea(s.Rings[0]))
			sumX += c.X * w
			sumY += c.Y * w
			sumW += w
		}
		if sumW == 0 {
			return Point{}
		}
		return Point{X: sumX / sumW, Y: sumY / sumW}
	default:
		return Point{}
	}
}

func centroidOfPoints(pts []Point) Point {
	if len(pts) == 0 {
		return Point{}
	}
	var sx, sy float64
	for _, p := range pts {
		sx += p.X
		sy += p.Y
	}
	return Point{X: sx / float64(len(pts)), Y: sy / float64(len(pts))}
}

func centroidOfPolygon(rings []Ring) Point {
	if len(rings) == 0 {
		return Point{}
	}
	outer := rings[0]
	var cx, cy, area float64
	for i := 0; i < len(outer)-1; i++ {
		cross := outer[i].X*outer[i+1].Y - outer[i+1].X*outer[i].Y
		cx += (outer[i].X + outer[i+1].X) * cross
		cy += (outer[i].Y + outer[i+1].Y) * cross
		area += cross
	}
	if area == 0 {
		return centroidOfPoints([]Point(outer))
	}
	area /= 2
	return Point{X: cx / (6 * area), Y: cy / (6 * area)}
}

// Reverse reverses vertex order within each component of g.
func Reverse(g Geometry) Geometry {
	switch g.Kind {
	case KindPoint, KindNull:
		return g
	case KindLineString:
		g.Points = reversePoints(g.Points)
		return g
	case KindPolygon:
		rings := make([]Ring, len(g.Rings))
		for i, r := range g.Rings {
			rings[i] = Ring(reversePoints([]Point(r)))
		}
		g.Rings = rings
		return g
	default:
		subs := make([]Geometry, len(g.Geometries))
		for i, s := range g.Geometries {
			subs[i] = Reverse(s)
		}
		g.Geometries = subs
		return g
	}
}

// Segmentize splits every segment of g longer than maxLen into
// equal-length pieces, returning a multilinestring. Applies to
// linestrings and multilinestrings; other kinds return Null.
func Segmentize(g Geometry, maxLen float64) Geometry {
	switch g.Kind {
	case KindLineString:
		pts := segmentizePoints(g.Points, maxLen)
		return Geometry{Kind: KindMultiLineString, SRID: g.SRID, Geometries: []Geometry{{Kind: KindLineString, Points: pts}}}
	case KindMultiLineString:
		subs := make([]Geometry, len(g.Geometries))
		for i, s := range g.Geometries {
			subs[i] = Geometry{Kind: KindLineString, Points: segmentizePoints(s.Points, maxLen)}
		}
		return Geometry{Kind: KindMultiLineString, SRID: g.SRID, Geometries: subs}
	default:
		return Null
	}
}

func segmentizePoints(pts []Point, maxLen float64) []Point {
	if len(pts) < 2 || maxLen <= 0 {
		return pts
	}
	out := []Point{pts[0]}
	for i := 0; i < len(pts)-1; i++ {
		a, b := pts[i], pts[i+1]
		d := Distance(a, b)
		if d <= maxLen || d == 0 {
			out = append(out, b)
			continue
		}
		n := int(math.Ceil(d / maxLen))
		for k := 1; k <= n; k++ {
			out = append(out, Interpolate(a, b, float64(k)/float64(n)))
		}
	}
	return out
}

// Simplify applies Douglas-Peucker simplification with tolerance eps to
// a linestring. Other kinds return Null.
func Simplify(g Geometry, eps float64) Geometry {
	if g.Kind != KindLineString {
		return Null
	}
	simplified := douglasPeucker(g.Points, eps)
	return Geometry{Kind: KindLineString, SRID: g.SRID, Points: simplified}
}

func douglasPeucker(pts []Point, eps float64) []Point {
	if len(pts) < 3 || eps <= 0 {
		return pts
	}
	dmax := 0.0
	index := 0
	start, end := pts[0], pts[len(pts)-1]
	for i := 1; i < len(pts)-1; i++ {
		d := perpendicularDistance(pts[i], start, end)
		if d > dmax {
			index = i
			dmax = d
		}
	}
	if dmax > eps {
		left := douglasPeucker(pts[:index+1], eps)
		right := douglasPeucker(pts[index:], eps)
		return append(left[:len(left)-1], right...)
	}
	return []Point{start, end}
}

func perpendicularDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return Distance(p, a)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	proj := Point{X: a.X + t*dx, Y: a.Y + t*dy}
	return Distance(p, proj)
}

// LineMerge joins endpoint-sharing linestrings of a multilinestring
// greedily, orienting pieces as needed. Pieces that merge into a single
// chain yield a bare linestring; several chains yield a multilinestring.
// A bare linestring passes through unchanged. Other kinds return Null.
// Idempotent up to component ordering: LineMerge(LineMerge(g)) yields
// the same set of merged components as LineMerge(g).
func LineMerge(g Geometry) Geometry {
	switch g.Kind {
	case KindLineString:
		return g
	case KindMultiLineString:
		var members []WayMember
		for _, s := range g.Geometries {
			members = append(members, WayMember{Coords: s.Points})
		}
		chains := joinOpenChains(members)
		if len(chains) == 0 {
			return Null
		}
		subs := make([]Geometry, len(chains))
		for i, c := range chains {
			subs[i] = Geometry{Kind: KindLineString, Points: c}
		}
		if len(subs) == 1 {
			return subs[0].WithSRID(g.SRID)
		}
		return Geometry{Kind: KindMultiLineString, SRID: g.SRID, Geometries: subs}
	default:
		return Null
	}
}

// joinOpenChains is joinRings' open-chain counterpart: it merges pieces
// sharing endpoints but does not require (or produce) closure.
func joinOpenChains(members []WayMember) [][]Point {
	type piece struct {
		coords []Point
		used   bool
	}
	pieces := make([]piece, 0, len(members))
	for _, m := range members {
		c := collapseDuplicates(m.Coords)
		if len(c) >= 2 {
			pieces = append(pieces, piece{coords: c})
		}
	}

	var chains [][]Point
	for start := range pieces {
		if pieces[start].used {
			continue
		}
		pieces[start].used = true
		chain := append([]Point(nil), pieces[start].coords...)

		for {
			progressed := false
			for k := range pieces {
				if pieces[k].used {
					continue
				}
				c := pieces[k].coords
				first, last := chain[0], chain[len(chain)-1]
				switch {
				case c[0] == last:
					chain = append(chain, c[1:]...)
				case c[len(c)-1] == last:
					chain = append(chain, reversePoints(c)[1:]...)
				case c[len(c)-1] == first:
					chain = append(append([]Point(nil), c[:len(c)-1]...), chain...)
				case c[0] == first:
					rc := reversePoints(c)
					chain = append(append([]Point(nil), rc[:len(rc)-1]...), chain...)
				default:
					continue
				}
				pieces[k].used = true
				progressed = true
				break
			}
			if !progressed {
				break
			}
		}
		chains = append(chains, chain)
	}
	return chains
}

// Transform reprojects every coordinate of g from src to dst using proj.
// g.SRID must equal src, else it is a precondition violation. proj is a
// caller-supplied point-wise reprojection function (e.g. the
// internal/proj Web Mercator transform).
func Transform(g Geometry, src, dst int32, proj func(x, y float64) (float64, float64)) (Geometry, error) {
	if g.IsNull() {
		return Null, nil
	}
	if g.SRID != src {
		return Geometry{}, fmt.Errorf("%w: transform expects SRID %d, got %d", ErrPrecondition, src, g.SRID)
	}
	return transformGeom(g, dst, proj), nil
}

func transformGeom(g Geometry, dst int32, proj func(x, y float64) (float64, float64)) Geometry {
	switch g.Kind {
	case KindPoint:
		x, y := proj(g.X, g.Y)
		return Geometry{Kind: KindPoint, SRID: dst, X: x, Y: y}
	case KindLineString:
		pts := make([]Point, len(g.Points))
		for i, p := range g.Points {
			x, y := proj(p.X, p.Y)
			pts[i] = Point{X: x, Y: y}
		}
		return Geometry{Kind: KindLineString, SRID: dst, Points: pts}
	case KindPolygon:
		rings := make([]Ring, len(g.Rings))
		for i, r := range g.Rings {
			pts := make([]Point, len(r))
			for j, p := range r {
				x, y := proj(p.X, p.Y)
				pts[j] = Point{X: x, Y: y}
			}
			rings[i] = Ring(pts)
		}
		return Geometry{Kind: KindPolygon, SRID: dst, Rings: rings}
	default:
		subs := make([]Geometry, len(g.Geometries))
		for i, s := range g.Geometries {
			subs[i] = transformGeom(s, 0, proj)
		}
		return Geometry{Kind: g.Kind, SRID: dst, Geometries: subs}
	}
}

// SplitMulti emits the non-multi components of g. Null yields an empty
// slice.
func SplitMulti(g Geometry, enable bool) []Geometry {
	if g.IsNull() {
		return nil
	}
	if !enable {
		return []Geometry{g}
	}
	switch g.Kind {
	case KindMultiPoint, KindMultiLineString, KindMultiPolygon, KindCollection:
		out := make([]Geometry, len(g.Geometries))
		for i, s := range g.Geometries {
			out[i] = s.WithSRID(g.SRID)
		}
		return out
	default:
		return []Geometry{g}
	}
}

// GeometryN returns the n-th (1-based) sub-geometry of g, or Null if n
// is out of range.
func GeometryN(g Geometry, n int) Geometry {
	if n < 1 {
		return Null
	}
	switch g.Kind {
	case KindPoint, KindLineString, KindPolygon:
		if n == 1 {
			return g
		}
		return Null
	default:
		if n > len(g.Geometries) {
			return Null
		}
		return g.Geometries[n-1].WithSRID(g.SRID)
	}
}
