package spatialdb

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/segmat/segmat/pkg/errors"
)

// MissingRootRow names one segmentation row whose root id needs to be
// repaired after a prior run left it at zero (point resolved to a
// supervoxel that the chunked graph could not yet map to a root, typically
// because the supervoxel was created after the run's timestamp).
type MissingRootRow struct {
	ID           int64
	Column       string
	SupervoxelID uint64
}

// SelectMissingRoots returns up to limit rows in table whose rootColumn is
// zero but whose matching supervoxel column is non-zero, the candidate set
// for a repair pass.
func SelectMissingRoots(ctx context.Context, db *sql.DB, idColumn, table, supervoxelColumn, rootColumn string, limit int) ([]MissingRootRow, error) {
	query := fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s = 0 AND %s != 0 LIMIT %d",
		idColumn, supervoxelColumn, table, rootColumn, supervoxelColumn, limit,
	)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "selecting missing roots", err)
	}
	defer rows.Close()

	var out []MissingRootRow
	for rows.Next() {
		var r MissingRootRow
		r.Column = rootColumn
		if err := rows.Scan(&r.ID, &r.SupervoxelID); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "scanning missing root row", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BulkUpdateByID applies a single root id value to every id in ids for the
// given column, used after a repair pass re-resolves a batch of supervoxels
// that all happened to collapse to the same root.
func BulkUpdateByID(ctx context.Context, tx *sql.Tx, dialect Dialect, idColumn, table, column string, rootID uint64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, rootID)
	for i, id := range ids {
		placeholders[i] = dialect.Placeholder(i + 2)
		args = append(args, id)
	}
	query := fmt.Sprintf(
		"UPDATE %s SET %s = %s WHERE %s IN (%s)",
		table, column, dialect.Placeholder(1), idColumn, joinPlaceholders(placeholders),
	)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.Wrap(apperrors.CodeUpsertConflict, "bulk root id update failed", err)
	}
	return nil
}

func joinPlaceholders(ps []string) string {
	out := ps[0]
	for _, p := range ps[1:] {
		out += ", " + p
	}
	return out
}
