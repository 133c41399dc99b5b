// Package checkpoint persists materialization run progress in Redis so a
// crashed or restarted worker can resume a run without rescanning completed
// chunks, playing the role RedisCheckpointManager plays in the source
// system.
package checkpoint

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
)

const keyPrefix = "segmat:checkpoint"

// Store is a Redis-backed checkpoint for materialization runs, one hash per
// database/table pair.
type Store struct {
	client *redis.Client
}

// New returns a Store backed by client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(database, table string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, database, table)
}

// Init creates the checkpoint hash for a new run, failing if one already
// exists with a different bounding box, so a resumed run never silently
// continues against a different region than the one it started with.
func (s *Store) Init(ctx context.Context, database, table string, bounds model.BoundingBox, totalChunks int) (model.Checkpoint, error) {
	return s.InitRun(ctx, database, table, bounds, totalChunks, "", [3]int64{}, 0)
}

// InitRun is Init extended with the chunking strategy metadata a run's
// driver derives (§4.1): the strategy tag and chunk size it settled on, and
// the row-count estimate that drove the choice. Init calls it with zero
// values for callers (tests, resumed id-range ingests) that never compute a
// chunking strategy up front.
func (s *Store) InitRun(ctx context.Context, database, table string, bounds model.BoundingBox, totalChunks int, strategyTag string, usedChunkSize [3]int64, rowEstimate int64) (model.Checkpoint, error) {
	existing, err := s.Get(ctx, database, table)
	if err == nil && existing.TotalChunks > 0 {
		if !existing.Bounds.Equal(bounds) {
			return model.Checkpoint{}, apperrors.New(apperrors.CodeInvalidInput,
				"bounding box changed since last checkpoint; resume refused")
		}
		return existing, nil
	}

	k := key(database, table)
	fields := boundsFields(bounds)
	fields["total_chunks"] = strconv.Itoa(totalChunks)
	fields["completed_chunks"] = "0"
	fields["missing_roots"] = "0"
	fields["status"] = strconv.Itoa(int(model.CheckpointStatusInitializing))
	fields["chunking_strategy_tag"] = strategyTag
	fields["used_chunk_size_x"] = strconv.FormatInt(usedChunkSize[0], 10)
	fields["used_chunk_size_y"] = strconv.FormatInt(usedChunkSize[1], 10)
	fields["used_chunk_size_z"] = strconv.FormatInt(usedChunkSize[2], 10)
	fields["total_row_estimate"] = strconv.FormatInt(rowEstimate, 10)
	fields["started_at"] = time.Now().UTC().Format(time.RFC3339)

	pipe := s.client.TxPipeline()
	for k2, v := range fields {
		pipe.HSetNX(ctx, k, k2, v)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Checkpoint{}, apperrors.Wrap(apperrors.CodeCheckpointContention, "initializing checkpoint", err)
	}
	return s.Get(ctx, database, table)
}

// Get reads the current checkpoint for database/table.
func (s *Store) Get(ctx context.Context, database, table string) (model.Checkpoint, error) {
	vals, err := s.client.HGetAll(ctx, key(database, table)).Result()
	if err != nil {
		return model.Checkpoint{}, apperrors.Wrap(apperrors.CodeDatabaseError, "reading checkpoint", err)
	}
	if len(vals) == 0 {
		return model.Checkpoint{}, apperrors.ErrNotFound
	}
	return parseCheckpoint(database, table, vals), nil
}

// IncrementCompleted atomically advances completed_chunks by n after a
// chunk's upsert transaction commits, never before, so a crash between
// submission and commit does not advance the checkpoint past work that was
// never durably written.
func (s *Store) IncrementCompleted(ctx context.Context, database, table string, n int) (int64, error) {
	v, err := s.client.HIncrBy(ctx, key(database, table), "completed_chunks", int64(n)).Result()
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeCheckpointContention, "incrementing completed chunks", err)
	}
	return v, nil
}

// IncrementMissingRoots records that n supervoxels in a committed chunk
// could not be resolved to a root id yet, for the repair pass to pick up
// later.
func (s *Store) IncrementMissingRoots(ctx context.Context, database, table string, n int) error {
	_, err := s.client.HIncrBy(ctx, key(database, table), "missing_roots", int64(n)).Result()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCheckpointContention, "incrementing missing roots", err)
	}
	return nil
}

// SetStatus updates the run's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, database, table string, status model.CheckpointStatus) error {
	err := s.client.HSet(ctx, key(database, table), "status", strconv.Itoa(int(status))).Err()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCheckpointContention, "updating checkpoint status", err)
	}
	return nil
}

// SetTaskID records the asynq task id an operator can use to find this run's
// scheduled completion monitor in the queue.
func (s *Store) SetTaskID(ctx context.Context, database, table, taskID string) error {
	err := s.client.HSet(ctx, key(database, table), "task_id", taskID).Err()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCheckpointContention, "recording checkpoint task id", err)
	}
	return nil
}

// MarkError moves a run to CheckpointStatusError and records why, used when
// the completion monitor's hard timeout expires (§4.8) or a run fails
// outright.
func (s *Store) MarkError(ctx context.Context, database, table, lastError string) error {
	err := s.client.HSet(ctx, key(database, table),
		"status", strconv.Itoa(int(model.CheckpointStatusError)),
		"last_error", lastError,
	).Err()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCheckpointContention, "marking checkpoint error", err)
	}
	return nil
}

// MarkCompleted moves a run to CheckpointStatusCompleted and records the
// index rebuild outcome and total elapsed time in one write, the checkpoint
// counterpart of the completion monitor's final bookkeeping (§4.8).
func (s *Store) MarkCompleted(ctx context.Context, database, table string, totalTimeSeconds float64, indexRebuildComplete bool) error {
	err := s.client.HSet(ctx, key(database, table),
		"status", strconv.Itoa(int(model.CheckpointStatusCompleted)),
		"total_time_seconds", strconv.FormatFloat(totalTimeSeconds, 'f', -1, 64),
		"index_rebuild_complete", strconv.FormatBool(indexRebuildComplete),
	).Err()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeCheckpointContention, "marking checkpoint completed", err)
	}
	return nil
}

// Delete removes the checkpoint, used once a run's completion and repair
// passes are both done and its state no longer needs to be resumable.
func (s *Store) Delete(ctx context.Context, database, table string) error {
	return s.client.Del(ctx, key(database, table)).Err()
}

func boundsFields(b model.BoundingBox) map[string]interface{} {
	return map[string]interface{}{
		"min_x": fmt.Sprintf("%f", b.Min.X),
		"min_y": fmt.Sprintf("%f", b.Min.Y),
		"min_z": fmt.Sprintf("%f", b.Min.Z),
		"max_x": fmt.Sprintf("%f", b.Max.X),
		"max_y": fmt.Sprintf("%f", b.Max.Y),
		"max_z": fmt.Sprintf("%f", b.Max.Z),
	}
}

func parseCheckpoint(database, table string, vals map[string]string) model.Checkpoint {
	f := func(key string) float64 {
		v, _ := strconv.ParseFloat(vals[key], 64)
		return v
	}
	i := func(key string) int {
		v, _ := strconv.Atoi(vals[key])
		return v
	}
	i64 := func(key string) int64 {
		v, _ := strconv.ParseInt(vals[key], 10, 64)
		return v
	}
	statusInt, _ := strconv.Atoi(vals["status"])
	startedAt, _ := time.Parse(time.RFC3339, vals["started_at"])

	return model.Checkpoint{
		Database:        database,
		AnnotationTable: table,
		Bounds: model.BoundingBox{
			Min: model.Point3D{X: f("min_x"), Y: f("min_y"), Z: f("min_z")},
			Max: model.Point3D{X: f("max_x"), Y: f("max_y"), Z: f("max_z")},
		},
		TotalChunks:          i("total_chunks"),
		CompletedChunks:      i("completed_chunks"),
		MissingRoots:         i("missing_roots"),
		Status:               model.CheckpointStatus(statusInt),
		TaskID:               vals["task_id"],
		ChunkingStrategyTag:  vals["chunking_strategy_tag"],
		UsedChunkSize:        [3]int64{i64("used_chunk_size_x"), i64("used_chunk_size_y"), i64("used_chunk_size_z")},
		TotalRowEstimate:     i64("total_row_estimate"),
		LastError:            vals["last_error"],
		IndexRebuildComplete: vals["index_rebuild_complete"] == "true",
		StartedAt:            startedAt,
		UpdatedAt:            time.Now(),
	}
}
