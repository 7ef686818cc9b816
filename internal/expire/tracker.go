package expire

import (
	"bufio"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/wegman-software/osm2pgsql-go/internal/logger"
)

// tile is one quadtree node: a 2x2 grid of (complete-flag, child-pointer)
// pairs per quadrant, matching the original C++ implementation's
// struct tile { int complete[2][2]; struct tile *subtiles[2][2]; }.
type tile struct {
	complete [2][2]bool
	subtiles [2][2]*tile
}

// Tracker accumulates dirtied tiles in a quadtree rooted at zoom 0,
// subdividing down to maxZoom. It is not safe for concurrent mutation;
// per-worker trackers are merged under a stage barrier.
type Tracker struct {
	root    *tile
	minZoom int
	maxZoom int
	enabled bool
	spent   bool // GetTiles/WriteToFile already called
}

// NewTracker creates a tile expiry tracker covering [minZoom, maxZoom].
func NewTracker(minZoom, maxZoom int) *Tracker {
	return &Tracker{
		root:    &tile{},
		minZoom: minZoom,
		maxZoom: maxZoom,
		enabled: true,
	}
}

// Disable turns off tile tracking (for when no expire output is needed).
func (t *Tracker) Disable() { t.enabled = false }

// IsEnabled reports whether tracking is enabled.
func (t *Tracker) IsEnabled() bool { return t.enabled }

// dirtyAt marks the single maxZoom tile (x,y) dirty, subdividing the
// quadtree path from the root as needed.
func (t *Tracker) dirtyAt(x, y int) {
	n := t.maxZoom
	node := t.root
	for z := 0; z < n; z++ {
		shift := n - z - 1
		qx := (x >> shift) & 1
		qy := (y >> shift) & 1
		if node.complete[qx][qy] {
			return
		}
		if z == n-1 {
			node.complete[qx][qy] = true
			node.subtiles[qx][qy] = nil
			continue
		}
		if node.subtiles[qx][qy] == nil {
			node.subtiles[qx][qy] = &tile{}
		}
		node = node.subtiles[qx][qy]
	}
}

// ExpirePoint marks the tiles containing a point dirty at every zoom
// from minZoom to maxZoom.
func (t *Tracker) ExpirePoint(lon, lat float64) {
	if !t.enabled {
		return
	}
	tl := LatLonToTile(lat, lon, t.maxZoom)
	t.dirtyAt(tl.X, tl.Y)
}

// ExpireLine dirties every maxZoom tile crossed by the segment a-b using
// a Bresenham walk over the tile grid; wraps in longitude.
func (t *Tracker) ExpireLine(a, b Point) {
	if !t.enabled {
		return
	}
	n := 1 << t.maxZoom
	ta := LatLonToTile(a.Y, a.X, t.maxZoom)
	tb := LatLonToTile(b.Y, b.X, t.maxZoom)

	dx := tb.X - ta.X
	if dx > n/2 {
		dx -= n
	} else if dx < -n/2 {
		dx += n
	}
	dy := tb.Y - ta.Y

	steps := absInt(dx)
	if absInt(dy) > steps {
		steps = absInt(dy)
	}
	if steps == 0 {
		t.dirtyAt(wrapX(ta.X, n), ta.Y)
		return
	}
	for i := 0; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		x := wrapX(ta.X+int(frac*float64(dx)+0.5), n)
		y := ta.Y + int(frac*float64(dy)+0.5)
		t.dirtyAt(x, y)
	}
}

// Point is a bare coordinate used by the expiry tracker's geometry-driven
// entry points; independent of internal/geom to avoid a dependency cycle
// (expire is consumed by internal/output, which also consumes geom).
type Point struct{ X, Y float64 }

// ExpirePolygon dirties every maxZoom tile the ring's bounding box
// scanline covers — a conservative over-approximation of "covered tiles"
// adequate for render-invalidation purposes.
func (t *Tracker) ExpirePolygon(ring []Point) {
	if !t.enabled || len(ring) == 0 {
		return
	}
	bbox := NewBBoxFromPoint(ring[0].Y, ring[0].X)
	for _, p := range ring[1:] {
		bbox.ExpandPoint(p.Y, p.X)
	}
	t.ExpireBBox(bbox)
}

// ExpireFromEWKB dirties the tiles covering the bounding box of a point
// set already resolved from an EWKB geometry's coordinates.
func (t *Tracker) ExpireFromEWKB(coords []float64) {
	t.ExpireCoords(coords)
}

// ExpireBBox marks tiles intersecting a bounding box as expired. Tiles
// are dirtied only at maxZoom; shallower zooms in [minZoom, maxZoom)
// surface as dirty automatically once any of their maxZoom descendants
// is dirtied, via GetTiles' ancestor expansion.
func (t *Tracker) ExpireBBox(bbox BBox) {
	if !t.enabled || !bbox.IsValid() {
		return
	}
	r := BBoxToTileRange(bbox, t.maxZoom)
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			t.dirtyAt(x, y)
		}
	}
}

// ExpireCoords marks tiles for a coordinate array ([lon, lat, lon, lat,...]).
func (t *Tracker) ExpireCoords(coords []float64) {
	if !t.enabled || len(coords) < 2 {
		return
	}
	bbox := NewBBoxFromCoords(coords)
	t.ExpireBBox(bbox)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func wrapX(x, n int) int {
	x %= n
	if x < 0 {
		x += n
	}
	return x
}

// Merge performs a structural OR of other into t: a quadrant complete in
// either tree is complete in the result. Subtrees of other are linked
// into t, not copied, so later changes to t (including the consuming
// GetTiles) also reach other. The covered tile set does not depend on
// argument order because OR is commutative.
func (t *Tracker) Merge(other *Tracker) {
	if other == nil || other.root == nil {
		return
	}
	t.root = mergeTiles(t.root, other.root)
}

func mergeTiles(a, b *tile) *tile {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	for qx := 0; qx < 2; qx++ {
		for qy := 0; qy < 2; qy++ {
			if a.complete[qx][qy] {
				continue
			}
			if b.complete[qx][qy] {
				a.complete[qx][qy] = true
				a.subtiles[qx][qy] = nil
				continue
			}
			a.subtiles[qx][qy] = mergeTiles(a.subtiles[qx][qy], b.subtiles[qx][qy])
		}
	}
	return a
}

// collectDirty walks the quadtree collecting every dirtied tile between
// minZoom and maxZoom, consuming the tree as it goes the tree").
func collectDirty(node *tile, x, y, z, minZoom, maxZoom int, out *[]Tile) {
	if node == nil {
		return
	}
	for qx := 0; qx < 2; qx++ {
		for qy := 0; qy < 2; qy++ {
			cx, cy, cz := x*2+qx, y*2+qy, z+1
			if node.complete[qx][qy] {
				// cz == maxZoom always in this implementation (dirtyAt
				// always walks to full depth); emit this leaf tile and
				// every ancestor down to minZoom.
				for zz := minZoom; zz <= cz; zz++ {
					shift := cz - zz
					*out = append(*out, Tile{Z: zz, X: cx >> shift, Y: cy >> shift})
				}
				continue
			}
			if node.subtiles[qx][qy] != nil {
				collectDirty(node.subtiles[qx][qy], cx, cy, cz, minZoom, maxZoom, out)
				node.subtiles[qx][qy] = nil
			}
		}
	}
}

// GetTiles returns every dirtied tile, consuming the tree: a second call
// after WriteToFile/GetTiles returns nothing. Tiles are sorted for
// deterministic output.
func (t *Tracker) GetTiles() []Tile {
	if t.spent || t.root == nil {
		return nil
	}
	var tiles []Tile
	collectDirty(t.root, 0, 0, 0, t.minZoom, t.maxZoom, &tiles)
	t.root = nil
	t.spent = true

	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Z != tiles[j].Z {
			return tiles[i].Z < tiles[j].Z
		}
		if tiles[i].X != tiles[j].X {
			return tiles[i].X < tiles[j].X
		}
		return tiles[i].Y < tiles[j].Y
	})

	deduped := tiles[:0]
	for i, tl := range tiles {
		if i == 0 || tl != tiles[i-1] {
			deduped = append(deduped, tl)
		}
	}
	return deduped
}

// WriteToFile writes expired tiles as "z/x/y" lines and consumes the
// tree. Calling it twice is a programming error; the
// second call writes nothing since GetTiles returns empty once spent.
func (t *Tracker) WriteToFile(filename string) error {
	log := logger.Get()

	tiles := t.GetTiles()
	if len(tiles) == 0 {
		log.Info("No tiles to expire")
		return nil
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create expire file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, tl := range tiles {
		fmt.Fprintln(w, tl.String())
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write expire file: %w", err)
	}

	counts := make(map[int]int)
	for _, tl := range tiles {
		counts[tl.Z]++
	}
	zooms := make([]int, 0, len(counts))
	for z := range counts {
		zooms = append(zooms, z)
	}
	sort.Ints(zooms)

	fields := make([]zap.Field, 0, len(zooms)+2)
	fields = append(fields, zap.String("file", filename))
	for _, z := range zooms {
		fields = append(fields, zap.Int(fmt.Sprintf("z%d", z), counts[z]))
	}
	fields = append(fields, zap.Int("total", len(tiles)))
	log.Info("Wrote expire tiles", fields...)

	return nil
}
