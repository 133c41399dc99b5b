package spatialdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/segmat/segmat/internal/schema"
	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
)

// BoundingBoxOf computes the tight bounding box spanning every non-null
// point column of an annotation table in a single query that unions each
// column's MIN/MAX aggregates, then combines the per-column boxes by
// min-of-mins/max-of-maxes client side, matching ChunkingStrategy's initial
// bounding-box pass (§4.1) without materializing a single row of the table.
func BoundingBoxOf(ctx context.Context, db *sql.DB, table string, def schema.Definition) (model.BoundingBox, error) {
	var parts []string
	for _, col := range def.Columns {
		posCol := col.PositionColumn()
		parts = append(parts, fmt.Sprintf(
			`SELECT MIN(ST_X(%s::geometry)) AS min_x, MIN(ST_Y(%s::geometry)) AS min_y, MIN(ST_Z(%s::geometry)) AS min_z,
			        MAX(ST_X(%s::geometry)) AS max_x, MAX(ST_Y(%s::geometry)) AS max_y, MAX(ST_Z(%s::geometry)) AS max_z
			 FROM %s WHERE %s IS NOT NULL`,
			posCol, posCol, posCol, posCol, posCol, posCol, table, posCol,
		))
	}
	query := strings.Join(parts, " UNION ALL ")

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return model.BoundingBox{}, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "computing tight bounding box", err)
	}
	defer rows.Close()

	var box model.BoundingBox
	found := false
	for rows.Next() {
		var minX, minY, minZ, maxX, maxY, maxZ sql.NullFloat64
		if err := rows.Scan(&minX, &minY, &minZ, &maxX, &maxY, &maxZ); err != nil {
			return model.BoundingBox{}, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "scanning bounding box row", err)
		}
		if !minX.Valid {
			continue
		}
		colBox := model.BoundingBox{
			Min: model.Point3D{X: minX.Float64, Y: minY.Float64, Z: minZ.Float64},
			Max: model.Point3D{X: maxX.Float64, Y: maxY.Float64, Z: maxZ.Float64},
		}
		if !found {
			box, found = colBox, true
			continue
		}
		box = box.Union(colBox)
	}
	if err := rows.Err(); err != nil {
		return model.BoundingBox{}, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "iterating bounding box rows", err)
	}
	if !found {
		return model.BoundingBox{}, apperrors.New(apperrors.CodeNotFound, "annotation table has no non-null points")
	}
	return box, nil
}

// EstimateRowCount returns a cheap, approximate row count for table, read
// from the planner's pg_class.reltuples row estimate rather than a full
// COUNT(*) scan, matching the source system's acceptance of a cheap estimate for
// chunking-strategy selection (§4.1).
func EstimateRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var estimate sql.NullFloat64
	row := db.QueryRowContext(ctx, `SELECT reltuples FROM pg_class WHERE relname = $1`, table)
	if err := row.Scan(&estimate); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "estimating row count", err)
	}
	if !estimate.Valid || estimate.Float64 < 0 {
		return 0, nil
	}
	return int64(estimate.Float64), nil
}
