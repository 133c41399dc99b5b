package spatialdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/internal/schema"
)

// Query selects the rows of an annotation table whose point columns fall
// inside box, one model.AnnotationRow per (row, point column) pair, the way
// select_3D_points_in_bbox builds a PostGIS ST_3DMakeBox predicate per point
// column and unions the results.
func Query(ctx context.Context, db *sql.DB, dialect Dialect, idColumn string, table string, def schema.Definition, box model.BoundingBox) ([]model.AnnotationRow, error) {
	if dialect.Name() != "postgres" {
		return nil, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "spatial bounding-box queries require PostGIS", fmt.Errorf("dialect %s unsupported", dialect.Name()))
	}

	var parts []string
	for _, col := range def.Columns {
		posCol := col.PositionColumn()
		parts = append(parts, fmt.Sprintf(
			`SELECT %s AS id, '%s' AS point_column, ST_X(%s::geometry) AS x, ST_Y(%s::geometry) AS y, ST_Z(%s::geometry) AS z
			 FROM %s
			 WHERE %s && ST_3DMakeBox(
			   ST_MakePoint(%s, %s, %s),
			   ST_MakePoint(%s, %s, %s)
			 )`,
			idColumn, col.Suffix, posCol, posCol, posCol,
			table,
			posCol,
			dialect.Placeholder(1), dialect.Placeholder(2), dialect.Placeholder(3),
			dialect.Placeholder(4), dialect.Placeholder(5), dialect.Placeholder(6),
		))
	}
	query := strings.Join(parts, " UNION ALL ")

	args := []interface{}{box.Min.X, box.Min.Y, box.Min.Z, box.Max.X, box.Max.Y, box.Max.Z}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "bounding box query failed", err)
	}
	defer rows.Close()

	var result []model.AnnotationRow
	for rows.Next() {
		var r model.AnnotationRow
		var x, y, z float64
		if err := rows.Scan(&r.ID, &r.PointColumn, &x, &y, &z); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "scanning bounding box row", err)
		}
		r.Point = model.Point3D{X: x, Y: y, Z: z}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "iterating bounding box rows", err)
	}
	return result, nil
}
