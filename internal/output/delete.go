package output

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DeleteByID removes every row for one OSM object id from the table —
// the common delete form used for node/way/relation replacement during
// append.
func DeleteByID(ctx context.Context, pool *pgxpool.Pool, schema, table string, osmID int64) error {
	_, err := pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s.%s WHERE osm_id = $1", schema, table),
		osmID,
	)
	if err != nil {
		return fmt.Errorf("output: delete by id from %s.%s: %w", schema, table, err)
	}
	return nil
}

// DeleteByTypedID removes rows for one OSM object id, additionally
// filtered by source type (node/way/relation), used where a table can
// hold rows carrying the same numeric id from more than one OSM type
// (e.g. a relation-built polygon sharing planet_osm_polygon with
// way-built polygons).
func DeleteByTypedID(ctx context.Context, pool *pgxpool.Pool, schema, table string, osmID int64, osmType string) error {
	_, err := pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s.%s WHERE osm_id = $1 AND osm_type = $2", schema, table),
		osmID, osmType,
	)
	if err != nil {
		return fmt.Errorf("output: delete by typed id from %s.%s: %w", schema, table, err)
	}
	return nil
}

// DeleteByIDs removes rows for a batch of OSM object ids in a single
// statement, used when a relation rebuild invalidates many polygon rows
// at once.
func DeleteByIDs(ctx context.Context, pool *pgxpool.Pool, schema, table string, osmIDs []int64) error {
	if len(osmIDs) == 0 {
		return nil
	}
	_, err := pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s.%s WHERE osm_id = ANY($1)", schema, table),
		osmIDs,
	)
	if err != nil {
		return fmt.Errorf("output: delete by ids from %s.%s: %w", schema, table, err)
	}
	return nil
}
