package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/segmat/segmat/internal/checkpoint"
	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/repository"
	"github.com/segmat/segmat/internal/schema"
	"github.com/segmat/segmat/internal/spatialdb"
	"github.com/segmat/segmat/internal/storage"
	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/pkg/utils"
)

// MonitorPayload carries the identity of the run a workflow:monitor_completion task
// watches, plus the segmentation table identity the completion index
// rebuild (§4.8) needs once the run finishes. SegmentationTable/SchemaTag/
// IDColumn are optional: a payload that omits them (as older call sites and
// tests do) simply skips the index rebuild step rather than failing.
type MonitorPayload struct {
	Database          string `json:"database"`
	AnnotationTable   string `json:"annotation_table"`
	SegmentationTable string `json:"segmentation_table"`
	SchemaTag         string `json:"schema_tag"`
	IDColumn          string `json:"id_column"`
}

const (
	monitorPollInterval = 6 * time.Minute
	// monitorTimeout is the hard cap (§4.8) on how long a run may sit
	// waiting for completion before the monitor gives up and marks it
	// errored, mirroring max_wait_time = 3600 * 24 * 3.
	monitorTimeout = 72 * time.Hour
)

// MonitorHandler builds the asynq.HandlerFunc that watches a run toward
// completion: it checks the ingest queue's depth and the checkpoint's
// completed-chunk count, and if the run isn't finished yet, re-enqueues
// itself after a delay rather than blocking a worker slot for hours, the Go
// counterpart of monitor_spatial_lookup_completion's polling loop. dbs and
// schemas may both be nil, in which case a completing run skips the index
// rebuild step and is marked completed with IndexRebuildComplete=false.
func MonitorHandler(dbs *repository.VolumeDBCache, checkpoints *checkpoint.Store, inspector *asynq.Inspector, queueClient *queue.Client, schemas *schema.Factory, store storage.Storage, log utils.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload MonitorPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "decoding monitor payload", err)
		}

		cp, err := checkpoints.Get(ctx, payload.Database, payload.AnnotationTable)
		if err != nil {
			return err
		}

		if !cp.StartedAt.IsZero() && time.Since(cp.StartedAt) > monitorTimeout {
			log.Warn("materialization run exceeded monitoring timeout database=%s table=%s", payload.Database, payload.AnnotationTable)
			return checkpoints.MarkError(ctx, payload.Database, payload.AnnotationTable, "Monitoring timed out")
		}

		info, err := inspector.GetQueueInfo(queue.QueueIngest)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeMonitorTimeout, "checking ingest queue depth", err)
		}

		if cp.Done() && info.Pending == 0 && info.Active == 0 {
			log.Info("materialization run complete database=%s table=%s completed=%d/%d missing_roots=%d",
				payload.Database, payload.AnnotationTable, cp.CompletedChunks, cp.TotalChunks, cp.MissingRoots)

			indexRebuildComplete, err := rebuildSegmentationIndices(ctx, dbs, schemas, payload)
			if err != nil {
				log.Warn("rebuilding segmentation indices: %v", err)
				return checkpoints.MarkError(ctx, payload.Database, payload.AnnotationTable, err.Error())
			}

			cp.UpdatedAt = time.Now()
			if err := checkpoints.MarkCompleted(ctx, payload.Database, payload.AnnotationTable, cp.TotalTimeSeconds(), indexRebuildComplete); err != nil {
				return err
			}

			cp.Status = model.CheckpointStatusCompleted
			cp.IndexRebuildComplete = indexRebuildComplete
			if store != nil {
				report := ReportFromCheckpoint(cp, time.Now())
				if err := UploadReport(ctx, store, report); err != nil {
					log.Warn("uploading completion report: %v", err)
				}
			}

			if cp.MissingRoots > 0 {
				return enqueueRepairPass(queueClient, payload.Database, payload.AnnotationTable)
			}
			return nil
		}

		log.Debug("materialization run still in progress database=%s table=%s completed=%d/%d pending=%d active=%d",
			payload.Database, payload.AnnotationTable, cp.CompletedChunks, cp.TotalChunks, info.Pending, info.Active)

		body, err := json.Marshal(payload)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "re-encoding monitor payload", err)
		}
		_, err = queueClient.EnqueueMonitor(body, monitorPollInterval)
		return err
	}
}

// rebuildSegmentationIndices drops every index on the segmentation table,
// including its primary key, and recreates it plus one index per
// supervoxel/root column, chained so each CREATE INDEX runs only after the
// previous succeeds (§4.8). It reports false rather than an error when the
// payload or handler simply wasn't configured with enough to do the rebuild,
// since older call sites and most tests never set SegmentationTable.
func rebuildSegmentationIndices(ctx context.Context, dbs *repository.VolumeDBCache, schemas *schema.Factory, payload MonitorPayload) (bool, error) {
	if dbs == nil || schemas == nil || payload.SegmentationTable == "" || payload.SchemaTag == "" {
		return false, nil
	}

	db, err := dbs.SQL(payload.Database)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeDatabaseError, "opening aligned-volume database", err)
	}
	def, err := schemas.Get(payload.SchemaTag)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeSchemaMismatch, "resolving schema tag", err)
	}

	if err := spatialdb.DropAllIndices(ctx, db, payload.SegmentationTable); err != nil {
		return false, err
	}
	idColumn := payload.IDColumn
	if idColumn == "" {
		idColumn = "id"
	}
	if err := spatialdb.RebuildIndices(ctx, db, idColumn, payload.SegmentationTable, def); err != nil {
		return false, err
	}
	return true, nil
}

func enqueueRepairPass(queueClient *queue.Client, database, table string) error {
	body, err := json.Marshal(RepairPayload{Database: database, AnnotationTable: table})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "encoding repair payload", err)
	}
	_, err = queueClient.EnqueueRepair(body)
	return err
}
