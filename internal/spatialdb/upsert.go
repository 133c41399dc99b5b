package spatialdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/internal/schema"
	"github.com/segmat/segmat/pkg/model"
)

// Upsert writes resolved supervoxel/root columns into a segmentation table,
// preserving any previously-written non-zero value on conflict: a row
// resolved to zero in this chunk (point outside the segmentation volume, or
// not yet resolved) never clobbers a value written by an earlier run over
// the same id, matching insert_segmentation_data's "if the new value is not
// 0 then update, otherwise keep the old value" conflict clause.
func Upsert(ctx context.Context, tx *sql.Tx, dialect Dialect, idColumn, table string, def schema.Definition, rows []model.SegmentationRow) error {
	if len(rows) == 0 {
		return nil
	}
	if dialect.Name() != "postgres" {
		return apperrors.Wrap(apperrors.CodeUpsertConflict, "zero-preserving upsert requires ON CONFLICT DO UPDATE", fmt.Errorf("dialect %s unsupported", dialect.Name()))
	}

	byID := groupByID(rows, def)

	_, svCols, rootCols := schema.ColumnsBySuffix(def)
	allCols := append([]string{idColumn}, interleave(svCols, rootCols)...)

	var values []string
	var args []interface{}
	argN := 1
	for id, cols := range byID {
		placeholders := make([]string, 0, len(allCols))
		placeholders = append(placeholders, dialect.Placeholder(argN))
		args = append(args, id)
		argN++
		for _, c := range allCols[1:] {
			placeholders = append(placeholders, dialect.Placeholder(argN))
			args = append(args, cols[c])
			argN++
		}
		values = append(values, "("+strings.Join(placeholders, ", ")+")")
	}

	var setClauses []string
	for _, c := range allCols[1:] {
		setClauses = append(setClauses, fmt.Sprintf(
			"%s = CASE WHEN EXCLUDED.%s != 0 THEN EXCLUDED.%s ELSE %s.%s END",
			c, c, c, table, c,
		))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(allCols, ", "),
		strings.Join(values, ", "),
		idColumn,
		strings.Join(setClauses, ", "),
	)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return apperrors.Wrap(apperrors.CodeUpsertConflict, "segmentation upsert failed", err)
	}
	return nil
}

// groupByID pivots rows into one map of column name -> value per annotation
// id, the way _safe_pivot_svid_df_to_dict reshapes the long-form resolver
// output into one wide row per id before insertion. Columns absent for an id
// default to zero so every row carries the full column set the INSERT needs.
func groupByID(rows []model.SegmentationRow, def schema.Definition) map[int64]map[string]uint64 {
	byID := make(map[int64]map[string]uint64)
	for _, r := range rows {
		cols, ok := byID[r.ID]
		if !ok {
			cols = make(map[string]uint64)
			for _, c := range def.Columns {
				cols[c.SupervoxelColumn()] = 0
				cols[c.RootColumn()] = 0
			}
			byID[r.ID] = cols
		}
		pc := findColumn(def, r.PointColumn)
		if pc == nil {
			continue
		}
		cols[pc.SupervoxelColumn()] = r.SupervoxelID
		if !r.MissingRootID {
			cols[pc.RootColumn()] = r.RootID
		}
	}
	return byID
}

func findColumn(def schema.Definition, suffix string) *schema.PointColumn {
	for i := range def.Columns {
		if def.Columns[i].Suffix == suffix {
			return &def.Columns[i]
		}
	}
	return nil
}

func interleave(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	for i := range a {
		out = append(out, a[i], b[i])
	}
	return out
}
