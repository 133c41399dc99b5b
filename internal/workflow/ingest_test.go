package workflow

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/schema"
)

func TestIngestNewAnnotations_SubmitsOneBatchPerIDRange(t *testing.T) {
	mr := miniredis.RunT(t)
	queueClient := queue.NewClient(mr.Addr())
	defer queueClient.Close()
	inspector := queue.NewInspector(mr.Addr())

	req := RunRequest{Database: "db1", AnnotationTable: "synapse", SchemaTag: "synapse", IDColumn: "id"}
	err := IngestNewAnnotations(context.Background(), queueClient, req, 1, 25000, 10000)
	require.NoError(t, err)

	info, err := inspector.GetQueueInfo(queue.QueueIngest)
	require.NoError(t, err)
	require.Equal(t, 3, info.Pending, "25000 ids in batches of 10000 should submit 3 tasks")
}

func TestIngestNewAnnotations_EmptyRangeSubmitsNothing(t *testing.T) {
	mr := miniredis.RunT(t)
	queueClient := queue.NewClient(mr.Addr())
	defer queueClient.Close()
	inspector := queue.NewInspector(mr.Addr())

	req := RunRequest{Database: "db1", AnnotationTable: "synapse"}
	err := IngestNewAnnotations(context.Background(), queueClient, req, 10, 1, 100)
	require.NoError(t, err)

	info, err := inspector.GetQueueInfo(queue.QueueIngest)
	require.NoError(t, err)
	require.Equal(t, 0, info.Pending)
}

func TestSelectByIDRange_UnionsRowsAcrossPointColumns(t *testing.T) {
	db, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	def := schema.Definition{Tag: "synapse", Columns: []schema.PointColumn{{Suffix: "pre_pt"}, {Suffix: "post_pt"}}}

	sqlMock.ExpectQuery("SELECT id, ST_X\\(pre_pt_position").
		WithArgs(int64(1), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "x", "y", "z"}).AddRow(int64(5), 1.0, 2.0, 3.0))
	sqlMock.ExpectQuery("SELECT id, ST_X\\(post_pt_position").
		WithArgs(int64(1), int64(100)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "x", "y", "z"}).AddRow(int64(5), 4.0, 5.0, 6.0))

	rows, err := selectByIDRange(context.Background(), db, "id", "synapse", def, 1, 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "pre_pt", rows[0].PointColumn)
	require.Equal(t, "post_pt", rows[1].PointColumn)
	require.NoError(t, sqlMock.ExpectationsWereMet())
}
