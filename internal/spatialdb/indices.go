package spatialdb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/segmat/segmat/internal/schema"
	apperrors "github.com/segmat/segmat/pkg/errors"
)

// DropSecondaryIndices drops every index on table except its primary key,
// the Workflow Driver's step before a bulk upsert (§4.7 step 4): the
// primary key stays in place so ON CONFLICT resolution keeps working while
// the bulk write proceeds without secondary-index maintenance overhead.
func DropSecondaryIndices(ctx context.Context, db *sql.DB, table string) error {
	return dropIndices(ctx, db, table, false)
}

// DropAllIndices drops every index on table, including the primary key, the
// Completion Monitor's first step toward a full index rebuild (§4.8), the Go
// counterpart of rebuild_indices_for_spatial_lookup's drop_primary_key=True
// call.
func DropAllIndices(ctx context.Context, db *sql.DB, table string) error {
	return dropIndices(ctx, db, table, true)
}

func dropIndices(ctx context.Context, db *sql.DB, table string, includePrimaryKey bool) error {
	query := `
		SELECT indexname FROM pg_indexes
		WHERE tablename = $1`
	if !includePrimaryKey {
		query += ` AND indexname NOT IN (
			SELECT conname FROM pg_constraint WHERE contype = 'p' AND conrelid = $1::regclass
		)`
	}

	rows, err := db.QueryContext(ctx, query, table)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "listing indices", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return apperrors.Wrap(apperrors.CodeDatabaseError, "scanning index name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return apperrors.Wrap(apperrors.CodeDatabaseError, "iterating index names", err)
	}
	rows.Close()

	for _, name := range names {
		cascade := ""
		if includePrimaryKey {
			cascade = " CASCADE"
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s%s", name, cascade)); err != nil {
			return apperrors.Wrap(apperrors.CodeDatabaseError, fmt.Sprintf("dropping index %s", name), err)
		}
	}
	return nil
}

// RebuildIndices issues one CREATE INDEX statement per supervoxel/root
// column the segmentation model defines, each run only after the previous
// succeeds, mirroring add_indices_sql_commands's Celery chain: a failure
// partway through leaves the remaining columns unindexed rather than
// racing concurrent CREATE INDEX statements against each other.
func RebuildIndices(ctx context.Context, db *sql.DB, idColumn, table string, def schema.Definition) error {
	pkStmt := fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)", table, idColumn)
	if _, err := db.ExecContext(ctx, pkStmt); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "restoring primary key", err)
	}

	_, svCols, rootCols := schema.ColumnsBySuffix(def)
	for _, col := range append(svCols, rootCols...) {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName(table, col), table, col)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return apperrors.Wrap(apperrors.CodeDatabaseError, fmt.Sprintf("creating index on %s", col), err)
		}
	}
	return nil
}

func indexName(table, col string) string {
	return fmt.Sprintf("idx_%s_%s", table, col)
}
