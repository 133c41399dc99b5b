package workflow

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/segmat/segmat/internal/checkpoint"
	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/schema"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/pkg/utils"
)

func TestDriver_Run_SubmitsOneChunkPerGridCellAndAMonitor(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	checkpoints := checkpoint.New(redisClient)
	queueClient := queue.NewClient(mr.Addr())
	defer queueClient.Close()
	inspector := queue.NewInspector(mr.Addr())

	driver := NewDriver(nil, checkpoints, queueClient, inspector, schema.NewFactory(), &utils.NullLogger{})

	req := RunRequest{
		Database:        "test_db",
		AnnotationTable: "synapse",
		SchemaTag:       "synapse",
		IDColumn:        "id",
		Bounds:          model.BoundingBox{Min: model.Point3D{}, Max: model.Point3D{X: 1000, Y: 1000, Z: 1000}},
		ChunkSize:       [3]int64{500, 500, 500},
	}

	err := driver.Run(context.Background(), req)
	require.NoError(t, err)

	ingestInfo, err := inspector.GetQueueInfo(queue.QueueIngest)
	require.NoError(t, err)
	require.Equal(t, 8, ingestInfo.Pending, "2x2x2 grid should submit 8 chunks")

	defaultInfo, err := inspector.GetQueueInfo(queue.QueueDefault)
	require.NoError(t, err)
	require.Equal(t, 1, defaultInfo.Scheduled, "monitor task should be scheduled rather than pending immediately")

	cp, err := checkpoints.Get(context.Background(), req.Database, req.AnnotationTable)
	require.NoError(t, err)
	require.Equal(t, 8, cp.TotalChunks)
	require.Equal(t, 0, cp.CompletedChunks)
}

func TestDriver_Run_ResumesFromCheckpoint(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	checkpoints := checkpoint.New(redisClient)
	queueClient := queue.NewClient(mr.Addr())
	defer queueClient.Close()
	inspector := queue.NewInspector(mr.Addr())

	req := RunRequest{
		Database:        "test_db",
		AnnotationTable: "synapse",
		SchemaTag:       "synapse",
		IDColumn:        "id",
		Bounds:          model.BoundingBox{Min: model.Point3D{}, Max: model.Point3D{X: 1000, Y: 1000, Z: 1000}},
		ChunkSize:       [3]int64{500, 500, 500},
	}

	_, err := checkpoints.Init(context.Background(), req.Database, req.AnnotationTable, req.Bounds, 8)
	require.NoError(t, err)
	_, err = checkpoints.IncrementCompleted(context.Background(), req.Database, req.AnnotationTable, 6)
	require.NoError(t, err)

	driver := NewDriver(nil, checkpoints, queueClient, inspector, schema.NewFactory(), &utils.NullLogger{})
	require.NoError(t, driver.Run(context.Background(), req))

	ingestInfo, err := inspector.GetQueueInfo(queue.QueueIngest)
	require.NoError(t, err)
	require.Equal(t, 2, ingestInfo.Pending, "only the 2 remaining chunks should be resubmitted")
}
