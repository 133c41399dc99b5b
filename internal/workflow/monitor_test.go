package workflow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/segmat/segmat/internal/checkpoint"
	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/storage"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/pkg/utils"
)

func TestMonitorHandler_ReenqueuesWhenNotDone(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	checkpoints := checkpoint.New(redisClient)
	queueClient := queue.NewClient(mr.Addr())
	defer queueClient.Close()
	inspector := queue.NewInspector(mr.Addr())

	ctx := context.Background()
	_, err := checkpoints.Init(ctx, "db1", "synapse", model.BoundingBox{Max: model.Point3D{X: 1, Y: 1, Z: 1}}, 4)
	require.NoError(t, err)
	_, err = checkpoints.IncrementCompleted(ctx, "db1", "synapse", 2)
	require.NoError(t, err)

	payload, err := json.Marshal(MonitorPayload{Database: "db1", AnnotationTable: "synapse"})
	require.NoError(t, err)
	task := asynq.NewTask(queue.TypeMonitorCompletion, payload)

	handler := MonitorHandler(nil, checkpoints, inspector, queueClient, nil, nil, &utils.NullLogger{})
	require.NoError(t, handler(ctx, task))

	info, err := inspector.GetQueueInfo(queue.QueueDefault)
	require.NoError(t, err)
	require.Equal(t, 1, info.Scheduled, "run is not done, monitor should reschedule itself")
}

func TestMonitorHandler_MarksCompletedWhenQueueDrainedAndChunksDone(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	checkpoints := checkpoint.New(redisClient)
	queueClient := queue.NewClient(mr.Addr())
	defer queueClient.Close()
	inspector := queue.NewInspector(mr.Addr())

	ctx := context.Background()
	_, err := checkpoints.Init(ctx, "db1", "synapse", model.BoundingBox{Max: model.Point3D{X: 1, Y: 1, Z: 1}}, 4)
	require.NoError(t, err)
	_, err = checkpoints.IncrementCompleted(ctx, "db1", "synapse", 4)
	require.NoError(t, err)

	payload, err := json.Marshal(MonitorPayload{Database: "db1", AnnotationTable: "synapse"})
	require.NoError(t, err)
	task := asynq.NewTask(queue.TypeMonitorCompletion, payload)

	handler := MonitorHandler(nil, checkpoints, inspector, queueClient, nil, nil, &utils.NullLogger{})
	require.NoError(t, handler(ctx, task))

	cp, err := checkpoints.Get(ctx, "db1", "synapse")
	require.NoError(t, err)
	require.Equal(t, model.CheckpointStatusCompleted, cp.Status)
}

func TestMonitorHandler_UploadsCompletionReportWhenStoreConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	checkpoints := checkpoint.New(redisClient)
	queueClient := queue.NewClient(mr.Addr())
	defer queueClient.Close()
	inspector := queue.NewInspector(mr.Addr())

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = checkpoints.Init(ctx, "db1", "synapse", model.BoundingBox{Max: model.Point3D{X: 1, Y: 1, Z: 1}}, 2)
	require.NoError(t, err)
	_, err = checkpoints.IncrementCompleted(ctx, "db1", "synapse", 2)
	require.NoError(t, err)

	payload, err := json.Marshal(MonitorPayload{Database: "db1", AnnotationTable: "synapse"})
	require.NoError(t, err)
	task := asynq.NewTask(queue.TypeMonitorCompletion, payload)

	handler := MonitorHandler(nil, checkpoints, inspector, queueClient, nil, store, &utils.NullLogger{})
	require.NoError(t, handler(ctx, task))

	exists, err := store.Exists(ctx, "reports/db1/synapse/completed.json")
	require.NoError(t, err)
	require.True(t, exists, "completion report should have been uploaded")

	data, err := store.Download(ctx, "reports/db1/synapse/completed.json")
	require.NoError(t, err)
	defer data.Close()

	var report CompletionReport
	require.NoError(t, json.NewDecoder(data).Decode(&report))
	require.Equal(t, "db1", report.Database)
	require.Equal(t, 2, report.CompletedChunks)
	require.Equal(t, "completed", report.Status)
}

func TestMonitorHandler_MarksErrorAfterTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	checkpoints := checkpoint.New(redisClient)
	queueClient := queue.NewClient(mr.Addr())
	defer queueClient.Close()
	inspector := queue.NewInspector(mr.Addr())

	ctx := context.Background()
	_, err := checkpoints.Init(ctx, "db1", "synapse", model.BoundingBox{Max: model.Point3D{X: 1, Y: 1, Z: 1}}, 4)
	require.NoError(t, err)
	_, err = checkpoints.IncrementCompleted(ctx, "db1", "synapse", 2)
	require.NoError(t, err)

	// Backdate started_at past the 72-hour monitoring timeout.
	stale := time.Now().Add(-73 * time.Hour).UTC().Format(time.RFC3339)
	require.NoError(t, redisClient.HSet(ctx, "segmat:checkpoint:db1:synapse", "started_at", stale).Err())

	payload, err := json.Marshal(MonitorPayload{Database: "db1", AnnotationTable: "synapse"})
	require.NoError(t, err)
	task := asynq.NewTask(queue.TypeMonitorCompletion, payload)

	handler := MonitorHandler(nil, checkpoints, inspector, queueClient, nil, nil, &utils.NullLogger{})
	require.NoError(t, handler(ctx, task))

	cp, err := checkpoints.Get(ctx, "db1", "synapse")
	require.NoError(t, err)
	require.Equal(t, model.CheckpointStatusError, cp.Status)
	require.Equal(t, "Monitoring timed out", cp.LastError)

	info, err := inspector.GetQueueInfo(queue.QueueDefault)
	require.NoError(t, err)
	require.Equal(t, 0, info.Scheduled, "a timed-out run must not reschedule itself")
}
