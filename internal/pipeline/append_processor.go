package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wegman-software/osm2pgsql-go/internal/config"
	"github.com/wegman-software/osm2pgsql-go/internal/depend"
	"github.com/wegman-software/osm2pgsql-go/internal/expire"
	"github.com/wegman-software/osm2pgsql-go/internal/geom"
	"github.com/wegman-software/osm2pgsql-go/internal/logger"
	"github.com/wegman-software/osm2pgsql-go/internal/middle"
	"github.com/wegman-software/osm2pgsql-go/internal/osc"
	"github.com/wegman-software/osm2pgsql-go/internal/output"
	"github.com/wegman-software/osm2pgsql-go/internal/proj"
)

// AppendStats tracks append processing statistics. Counters touched only
// from the sequential Stage 1a loop stay plain int64; counters touched
// from the Stage 1b/1c worker pools are atomic.
type AppendStats struct {
	NodesProcessed     int64
	WaysProcessed      int64
	RelationsProcessed int64
	PointsUpdated      int64
	WaysRebuilt        atomic.Int64
	RelationsRebuilt   atomic.Int64
	LinesUpdated       atomic.Int64
	PolygonsUpdated    atomic.Int64
	Duration           time.Duration
}

// AppendProcessor handles incremental updates from OSC files
type AppendProcessor struct {
	cfg         *config.Config
	pool        *pgxpool.Pool
	middleStore *middle.MiddleStore
	transformer *proj.Transformer

	// Cascading parent lookups, backed by the slim middle tables
	//, replacing the old flat pendingWays/pendingRelations maps.
	deps *depend.Manager

	// Destination writer threads, one per output table.
	pointTable   *output.Table
	lineTable    *output.Table
	polygonTable *output.Table

	// Tile expiry tracking
	expireTracker *expire.Tracker
}

var outputColumns = []string{"osm_id", "osm_type", "tags", "geom"}

// outputTableNames returns the point/line/polygon output table names,
// honoring the configured table prefix (default "planet_osm").
func outputTableNames(cfg *config.Config) (point, line, polygon string) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "planet_osm"
	}
	return prefix + "_point", prefix + "_line", prefix + "_polygon"
}

// NewAppendProcessor creates a new append processor
func NewAppendProcessor(cfg *config.Config, pool *pgxpool.Pool, middleStore *middle.MiddleStore) *AppendProcessor {
	transformer, _ := proj.NewTransformer(proj.SRID4326, cfg.Projection)

	// Create expire tracker if expire output is configured
	var tracker *expire.Tracker
	if cfg.ExpireOutput != "" {
		tracker = expire.NewTracker(cfg.ExpireMinZoom, cfg.ExpireMaxZoom)
	}

	queueDepth := cfg.CacheSizeMB * 4 // bigger RAM budget buys a deeper output queue before backpressure kicks in
	if queueDepth <= 0 {
		queueDepth = 2000
	}

	pointName, lineName, polygonName := outputTableNames(cfg)

	return &AppendProcessor{
		cfg:           cfg,
		pool:          pool,
		middleStore:   middleStore,
		transformer:   transformer,
		deps:          depend.NewManager(middleStore),
		pointTable:    output.NewTable(pool, cfg.DBSchema, pointName, outputColumns, queueDepth),
		lineTable:     output.NewTable(pool, cfg.DBSchema, lineName, outputColumns, queueDepth),
		polygonTable:  output.NewTable(pool, cfg.DBSchema, polygonName, outputColumns, queueDepth),
		expireTracker: tracker,
	}
}

// ExpireTracker returns the expire tracker (for writing output after processing)
func (p *AppendProcessor) ExpireTracker() *expire.Tracker {
	return p.expireTracker
}

// Close flushes and stops the output writer threads. Call once after
// ProcessChanges returns.
func (p *AppendProcessor) Close() error {
	for _, t := range []*output.Table{p.pointTable, p.lineTable, p.polygonTable} {
		if err := t.Finish(); err != nil {
			return err
		}
	}
	return nil
}

// ProcessChanges applies changes from an OSC file
func (p *AppendProcessor) ProcessChanges(ctx context.Context, changes <-chan osc.Change) (*AppendStats, error) {
	log := logger.Get()
	stats := &AppendStats{}
	start := time.Now()

	log.Info("Processing OSC changes")

	// Stage 1a: apply direct changes in input order.
	for change := range changes {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var err error
		switch change.Type {
		case "node":
			err = p.processNodeChange(ctx, change, stats)
		case "way":
			err = p.processWayChange(ctx, change, stats)
		case "relation":
			err = p.processRelationChange(ctx, change, stats)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to process %s change: %w", change.Type, err)
		}
	}

	log.Info("Processed direct changes",
		zap.Int64("nodes", stats.NodesProcessed),
		zap.Int64("ways", stats.WaysProcessed),
		zap.Int64("relations", stats.RelationsProcessed))

	// Stage 1b: rebuild ways newly marked pending by node changes, across
	// a worker pool pulling from a shared id stack.
	if wayIDs := p.deps.DrainPendingWayIDs(); len(wayIDs) > 0 {
		log.Info("Rebuilding affected ways", zap.Int("count", len(wayIDs)))
		if err := p.fanOut(ctx, wayIDs, func(ctx context.Context, id int64) error {
			if err := p.rebuildWay(ctx, id, stats); err != nil {
				log.Warn("Failed to rebuild way", zap.Int64("id", id), zap.Error(err))
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	// Stage 1c: rebuild relations marked pending by either direct way
	// changes or stage 1b's rebuilds.
	if relIDs := p.deps.DrainPendingRelationIDs(); len(relIDs) > 0 {
		log.Info("Rebuilding affected relations", zap.Int("count", len(relIDs)))
		if err := p.fanOut(ctx, relIDs, func(ctx context.Context, id int64) error {
			if err := p.rebuildRelation(ctx, id, stats); err != nil {
				log.Warn("Failed to rebuild relation", zap.Int64("id", id), zap.Error(err))
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	if err := p.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush output writers: %w", err)
	}

	stats.Duration = time.Since(start)

	log.Info("Append processing complete",
		zap.Int64("ways_rebuilt", stats.WaysRebuilt.Load()),
		zap.Int64("relations_rebuilt", stats.RelationsRebuilt.Load()),
		zap.Int64("points_updated", stats.PointsUpdated),
		zap.Int64("lines_updated", stats.LinesUpdated.Load()),
		zap.Int64("polygons_updated", stats.PolygonsUpdated.Load()),
		zap.Duration("duration", stats.Duration))

	return stats, nil
}

// notifyNodeChanged marks ways referencing node for stage 1b rebuild,
// unless forward-dependency tracking is disabled — disabling it limits append mode to
// direct node/way/relation edits with no cascading rebuild.
func (p *AppendProcessor) notifyNodeChanged(ctx context.Context, nodeID int64) error {
	if !p.cfg.WithForwardDependencies {
		return nil
	}
	return p.deps.NodeChanged(ctx, nodeID)
}

// notifyWayChanged marks relations referencing way for stage 1c rebuild,
// subject to the same with_forward_dependencies gate.
func (p *AppendProcessor) notifyWayChanged(ctx context.Context, wayID int64) error {
	if !p.cfg.WithForwardDependencies {
		return nil
	}
	return p.deps.WayChanged(ctx, wayID)
}

// fanOut drains ids from a shared stack across cfg.NumProcs workers,
// giving Stage 1b/1c concurrency in place of a single sequential loop.
func (p *AppendProcessor) fanOut(ctx context.Context, ids []int64, work func(context.Context, int64) error) error {
	workers := p.cfg.NumProcs
	if workers < 1 {
		workers = 1
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	stack := append([]int64(nil), ids...)
	var mu sync.Mutex
	pop := func() (int64, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(stack) == 0 {
			return 0, false
		}
		n := len(stack) - 1
		id := stack[n]
		stack = stack[:n]
		return id, true
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				id, ok := pop()
				if !ok {
					return nil
				}
				if err := work(gctx, id); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// processNodeChange handles a node create/modify/delete
func (p *AppendProcessor) processNodeChange(ctx context.Context, change osc.Change, stats *AppendStats) error {
	node := change.Node
	if node == nil {
		return nil
	}
	stats.NodesProcessed++

	// Expire tiles for the node's location. ExpirePoint takes (lon, lat).
	if p.expireTracker != nil {
		lon := middle.UnscaleCoord(node.Lon)
		lat := middle.UnscaleCoord(node.Lat)
		p.expireTracker.ExpirePoint(lon, lat)
	}

	switch change.Action {
	case osc.ActionCreate, osc.ActionModify:
		// Update middle table
		if err := p.middleStore.UpdateNode(ctx, node); err != nil {
			return err
		}

		// Update point geometry if node has meaningful tags
		if len(node.Tags) > 0 && hasMeaningfulNodeTags(node.Tags) {
			if err := p.updatePointGeometry(ctx, node); err != nil {
				return err
			}
			stats.PointsUpdated++
		}

		// Mark ways referencing this node for stage 1b rebuild
		if err := p.notifyNodeChanged(ctx, node.ID); err != nil {
			return err
		}

	case osc.ActionDelete:
		// Delete from middle table
		if err := p.middleStore.DeleteNode(ctx, node.ID); err != nil {
			return err
		}

		// Delete from output table
		if err := output.DeleteByTypedID(ctx, p.pool, p.cfg.DBSchema, p.pointTable.Name, node.ID, "N"); err != nil {
			return err
		}

		// Mark ways referencing this node for stage 1b rebuild
		if err := p.notifyNodeChanged(ctx, node.ID); err != nil {
			return err
		}
	}

	return nil
}

// processWayChange handles a way create/modify/delete
func (p *AppendProcessor) processWayChange(ctx context.Context, change osc.Change, stats *AppendStats) error {
	way := change.Way
	if way == nil {
		return nil
	}
	stats.WaysProcessed++

	switch change.Action {
	case osc.ActionCreate, osc.ActionModify:
		// Update middle table
		if err := p.middleStore.UpdateWay(ctx, way); err != nil {
			return err
		}

		// Rebuild way geometry
		if err := p.rebuildWayDirect(ctx, way, stats); err != nil {
			return err
		}

	case osc.ActionDelete:
		// Delete from middle table
		if err := p.middleStore.DeleteWay(ctx, way.ID); err != nil {
			return err
		}

		// Delete from output tables (could be line or polygon)
		if err := output.DeleteByTypedID(ctx, p.pool, p.cfg.DBSchema, p.lineTable.Name, way.ID, "W"); err != nil {
			return err
		}
		if err := output.DeleteByTypedID(ctx, p.pool, p.cfg.DBSchema, p.polygonTable.Name, way.ID, "W"); err != nil {
			return err
		}

		// Mark relations referencing this way for stage 1c rebuild
		if err := p.notifyWayChanged(ctx, way.ID); err != nil {
			return err
		}
	}

	return nil
}

// processRelationChange handles a relation create/modify/delete
func (p *AppendProcessor) processRelationChange(ctx context.Context, change osc.Change, stats *AppendStats) error {
	rel := change.Relation
	if rel == nil {
		return nil
	}
	stats.RelationsProcessed++

	switch change.Action {
	case osc.ActionCreate, osc.ActionModify:
		// Update middle table
		if err := p.middleStore.UpdateRelation(ctx, rel); err != nil {
			return err
		}

		// Rebuild relation geometry if it's a multipolygon
		if isMultipolygonTags(rel.Tags) {
			if err := p.rebuildRelationDirect(ctx, rel, stats); err != nil {
				return err
			}
		}

	case osc.ActionDelete:
		// Delete from middle table
		if err := p.middleStore.DeleteRelation(ctx, rel.ID); err != nil {
			return err
		}

		// Delete from output table
		if err := output.DeleteByTypedID(ctx, p.pool, p.cfg.DBSchema, p.polygonTable.Name, rel.ID, "R"); err != nil {
			return err
		}
	}

	return nil
}

// rebuildWay rebuilds a way's geometry from middle tables
func (p *AppendProcessor) rebuildWay(ctx context.Context, wayID int64, stats *AppendStats) error {
	way, err := p.middleStore.GetWay(ctx, wayID)
	if err != nil {
		return err
	}
	if way == nil {
		return nil // Way was deleted
	}

	return p.rebuildWayDirect(ctx, way, stats)
}

// rebuildWayDirect rebuilds geometry for a way, building it through
// internal/geom's typed constructors rather than hand-assembled WKB, and
// writing it through the table's COPY-queue writer.
func (p *AppendProcessor) rebuildWayDirect(ctx context.Context, way *middle.RawWay, stats *AppendStats) error {
	// Get node coordinates
	coords := make([]float64, 0, len(way.Nodes)*2)
	for _, nodeID := range way.Nodes {
		node, err := p.middleStore.GetNode(ctx, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return nil // Missing node, can't build geometry
		}
		coords = append(coords, middle.UnscaleCoord(node.Lon), middle.UnscaleCoord(node.Lat))
	}

	if len(coords) < 4 {
		return nil // Not enough points
	}

	// Expire tiles for the way's bounding box (before coordinate transformation)
	if p.expireTracker != nil {
		p.expireTracker.ExpireCoords(coords)
	}

	// Transform coordinates
	p.transformer.TransformCoords(coords)

	// Determine geometry type
	isClosed := len(way.Nodes) >= 4 && way.Nodes[0] == way.Nodes[len(way.Nodes)-1]
	isAreaTag := isAreaTags(way.Tags)

	srid := int32(p.cfg.Projection)
	pts := flatCoordsToPoints(coords)
	tagsJSON, _ := json.Marshal(way.Tags)

	// Delete existing geometry first
	if err := output.DeleteByTypedID(ctx, p.pool, p.cfg.DBSchema, p.lineTable.Name, way.ID, "W"); err != nil {
		return err
	}
	if err := output.DeleteByTypedID(ctx, p.pool, p.cfg.DBSchema, p.polygonTable.Name, way.ID, "W"); err != nil {
		return err
	}

	if isClosed && isAreaTag {
		g := geom.PolygonFromWay(pts, srid)
		if g.IsNull() {
			return nil
		}
		if err := p.writeRow(p.polygonTable, way.ID, "W", string(tagsJSON), geom.Encode(g, false)); err != nil {
			return err
		}
		stats.PolygonsUpdated.Add(1)
	} else {
		g := geom.LineStringFromWay(pts, srid)
		if g.IsNull() {
			return nil
		}
		if err := p.writeRow(p.lineTable, way.ID, "W", string(tagsJSON), geom.Encode(g, false)); err != nil {
			return err
		}
		stats.LinesUpdated.Add(1)
	}

	// Cascade to relations that use this way, regardless of whether the
	// rebuild was triggered directly or via a node change.
	if err := p.notifyWayChanged(ctx, way.ID); err != nil {
		return err
	}

	stats.WaysRebuilt.Add(1)
	return nil
}

// rebuildRelation rebuilds a relation's geometry from middle tables
func (p *AppendProcessor) rebuildRelation(ctx context.Context, relID int64, stats *AppendStats) error {
	rel, err := p.middleStore.GetRelation(ctx, relID)
	if err != nil {
		return err
	}
	if rel == nil {
		return nil // Relation was deleted
	}

	if !isMultipolygonTags(rel.Tags) {
		return nil // Not a multipolygon
	}

	return p.rebuildRelationDirect(ctx, rel, stats)
}

// rebuildRelationDirect rebuilds geometry for a relation via
// geom.MultiPolygonFromRelation — the containment-aware ring assembly,
// superseding the old endpoint-only buildRingsFromWays joiner.
func (p *AppendProcessor) rebuildRelationDirect(ctx context.Context, rel *middle.RawRelation, stats *AppendStats) error {
	var members []geom.WayMember
	for _, member := range rel.Members {
		if member.Type != "w" {
			continue
		}

		way, err := p.middleStore.GetWay(ctx, member.Ref)
		if err != nil {
			return err
		}
		if way == nil {
			continue
		}

		coords := make([]float64, 0, len(way.Nodes)*2)
		for _, nodeID := range way.Nodes {
			node, err := p.middleStore.GetNode(ctx, nodeID)
			if err != nil {
				return err
			}
			if node == nil {
				coords = nil
				break
			}
			coords = append(coords, middle.UnscaleCoord(node.Lon), middle.UnscaleCoord(node.Lat))
		}
		if len(coords) < 4 {
			continue
		}

		// Expire tiles before transforming to the output projection.
		if p.expireTracker != nil {
			p.expireTracker.ExpireCoords(coords)
		}
		p.transformer.TransformCoords(coords)

		members = append(members, geom.WayMember{
			Role:   member.Role,
			Coords: flatCoordsToPoints(coords),
		})
	}

	if len(members) == 0 {
		return nil
	}

	g := geom.MultiPolygonFromRelation(members).WithSRID(int32(p.cfg.Projection))
	if g.IsNull() {
		return nil
	}

	tagsJSON, _ := json.Marshal(rel.Tags)

	// Delete existing and insert new
	if err := output.DeleteByTypedID(ctx, p.pool, p.cfg.DBSchema, p.polygonTable.Name, rel.ID, "R"); err != nil {
		return err
	}
	if err := p.writeRow(p.polygonTable, rel.ID, "R", string(tagsJSON), geom.Encode(g, true)); err != nil {
		return err
	}

	stats.RelationsRebuilt.Add(1)
	stats.PolygonsUpdated.Add(1)
	return nil
}

// updatePointGeometry updates a point geometry in the output table
func (p *AppendProcessor) updatePointGeometry(ctx context.Context, node *middle.RawNode) error {
	// Delete existing
	if err := output.DeleteByTypedID(ctx, p.pool, p.cfg.DBSchema, p.pointTable.Name, node.ID, "N"); err != nil {
		return err
	}

	// Transform coordinates
	lon := middle.UnscaleCoord(node.Lon)
	lat := middle.UnscaleCoord(node.Lat)
	x, y := p.transformer.Transform(lon, lat)

	g := geom.PointFromNode(x, y, int32(p.cfg.Projection))
	tagsJSON, _ := json.Marshal(node.Tags)
	return p.writeRow(p.pointTable, node.ID, "N", string(tagsJSON), geom.Encode(g, false))
}

// writeRow enqueues one row on an output table's COPY-queue writer
// thread.
func (p *AppendProcessor) writeRow(table *output.Table, osmID int64, osmType, tags string, wkb []byte) error {
	return table.NewRow().
		AddColumn(osmID).
		AddColumn(osmType).
		AddColumn(tags).
		AddColumn(wkb).
		EndRow()
}

// flatCoordsToPoints converts a flat [lon0, lat0, lon1, lat1, ...] array
// into the geom package's []Point form.
func flatCoordsToPoints(coords []float64) []geom.Point {
	pts := make([]geom.Point, len(coords)/2)
	for i := range pts {
		pts[i] = geom.Point{X: coords[i*2], Y: coords[i*2+1]}
	}
	return pts
}

// hasMeaningfulNodeTags checks if node tags are meaningful (not just metadata)
func hasMeaningfulNodeTags(tags map[string]string) bool {
	dominated := map[string]bool{
		"created_by": true,
		"source":     true,
		"note":       true,
		"fixme":      true,
		"FIXME":      true,
	}

	for k := range tags {
		if !dominated[k] {
			return true
		}
	}
	return false
}

// isAreaTags checks if tags indicate an area
func isAreaTags(tags map[string]string) bool {
	if v, ok := tags["area"]; ok {
		return v == "yes"
	}

	areaKeys := map[string]bool{
		"building": true,
		"landuse":  true,
		"natural":  true,
		"leisure":  true,
		"amenity":  true,
		"shop":     true,
		"tourism":  true,
		"man_made": true,
	}

	for k := range tags {
		if areaKeys[k] {
			return true
		}
	}

	return false
}

// isMultipolygonTags checks if tags indicate a multipolygon relation
func isMultipolygonTags(tags map[string]string) bool {
	if t, ok := tags["type"]; ok {
		return t == "multipolygon" || t == "boundary"
	}
	return false
}
