package spatialdb

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/segmat/segmat/internal/schema"
)

func TestDropSecondaryIndices_KeepsPrimaryKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT indexname FROM pg_indexes").
		WithArgs("synapse__segmentation").
		WillReturnRows(sqlmock.NewRows([]string{"indexname"}).
			AddRow("idx_synapse__segmentation_pre_pt_supervoxel_id").
			AddRow("idx_synapse__segmentation_post_pt_root_id"))
	mock.ExpectExec("DROP INDEX IF EXISTS idx_synapse__segmentation_pre_pt_supervoxel_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DROP INDEX IF EXISTS idx_synapse__segmentation_post_pt_root_id").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = DropSecondaryIndices(context.Background(), db, "synapse__segmentation")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropAllIndices_CascadesPrimaryKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT indexname FROM pg_indexes").
		WithArgs("synapse__segmentation").
		WillReturnRows(sqlmock.NewRows([]string{"indexname"}).
			AddRow("synapse__segmentation_pkey"))
	mock.ExpectExec("DROP INDEX IF EXISTS synapse__segmentation_pkey CASCADE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = DropAllIndices(context.Background(), db, "synapse__segmentation")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropIndices_NoIndicesIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT indexname FROM pg_indexes").
		WithArgs("synapse__segmentation").
		WillReturnRows(sqlmock.NewRows([]string{"indexname"}))

	err = DropSecondaryIndices(context.Background(), db, "synapse__segmentation")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebuildIndices_RestoresPrimaryKeyThenCreatesEachColumnIndex(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := schema.Definition{Tag: "synapse", Columns: []schema.PointColumn{{Suffix: "pre_pt"}, {Suffix: "post_pt"}}}

	mock.ExpectExec("ALTER TABLE synapse__segmentation ADD PRIMARY KEY \\(id\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_synapse__segmentation_pre_pt_supervoxel_id ON synapse__segmentation \\(pre_pt_supervoxel_id\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_synapse__segmentation_post_pt_supervoxel_id ON synapse__segmentation \\(post_pt_supervoxel_id\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_synapse__segmentation_pre_pt_root_id ON synapse__segmentation \\(pre_pt_root_id\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_synapse__segmentation_post_pt_root_id ON synapse__segmentation \\(post_pt_root_id\\)").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = RebuildIndices(context.Background(), db, "id", "synapse__segmentation", def)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRebuildIndices_StopsOnFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := schema.Definition{Tag: "bound_tag", Columns: []schema.PointColumn{{Suffix: "pt"}}}

	mock.ExpectExec("ALTER TABLE bound_tag__segmentation ADD PRIMARY KEY").
		WillReturnError(errors.New("primary key already exists"))

	err = RebuildIndices(context.Background(), db, "id", "bound_tag__segmentation", def)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
