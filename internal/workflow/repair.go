package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/segmat/segmat/internal/chunkedgraph"
	"github.com/segmat/segmat/internal/repository"
	"github.com/segmat/segmat/internal/schema"
	"github.com/segmat/segmat/internal/spatialdb"
	"github.com/segmat/segmat/internal/storage"
	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/pkg/utils"
)

// RepairPayload identifies the run whose missing roots a repair pass should
// re-resolve.
type RepairPayload struct {
	Database          string `json:"database"`
	AnnotationTable   string `json:"annotation_table"`
	SegmentationTable string `json:"segmentation_table"`
	SchemaTag         string `json:"schema_tag"`
	IDColumn          string `json:"id_column"`
	ChunkedGraphURL   string `json:"chunked_graph_url"`
	ChunkedGraphToken string `json:"chunked_graph_token"`
	BatchSize         int    `json:"batch_size"`
}

const defaultRepairBatchSize = 2000

// RepairHandler builds the asynq.HandlerFunc that re-resolves root ids for
// segmentation rows a materialization run left at zero because the
// chunked graph hadn't yet mapped the row's supervoxel to a root at
// resolution time. One task handles at most payload.BatchSize such rows per
// point column; rows beyond that limit are left for a later pass. It groups rows by resolved root so a batch of
// supervoxels that collapse to one root costs a single UPDATE, the Go
// counterpart of the periodic missing-root backfill pass run against
// segmentation tables after a spatial lookup workflow completes.
func RepairHandler(dbs *repository.VolumeDBCache, schemas *schema.Factory, store storage.Storage, log utils.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload RepairPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "decoding repair payload", err)
		}
		if payload.BatchSize <= 0 {
			payload.BatchSize = defaultRepairBatchSize
		}

		def, err := schemas.Get(payload.SchemaTag)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeSchemaMismatch, "resolving schema tag", err)
		}

		db, err := dbs.SQL(payload.Database)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDatabaseError, "opening aligned-volume database", err)
		}
		dialect := spatialdb.Postgres{}
		graph := chunkedgraph.Cached(payload.ChunkedGraphURL, payload.ChunkedGraphToken, 30*time.Second)

		var totalRepaired int
		for _, col := range def.Columns {
			n, err := repairColumn(ctx, db, dialect, graph, payload, col)
			if err != nil {
				return err
			}
			totalRepaired += n
		}

		log.Info("repair pass complete database=%s table=%s repaired=%d", payload.Database, payload.AnnotationTable, totalRepaired)

		if store != nil {
			report := CompletionReport{
				Database:        payload.Database,
				AnnotationTable: payload.AnnotationTable,
				MissingRoots:    totalRepaired,
				Status:          model.CheckpointStatusCompleted.String() + "-repair",
				CompletedAt:     time.Now(),
			}
			if err := UploadReport(ctx, store, report); err != nil {
				log.Warn("uploading repair report: %v", err)
			}
		}
		return nil
	}
}

// repairColumn re-resolves one point column's missing roots: it selects the
// candidate rows, asks the chunked graph for their current root ids in one
// batch call, groups the results by resolved root id, and applies each
// group with a single bulk UPDATE.
func repairColumn(ctx context.Context, db *sql.DB, dialect spatialdb.Dialect, graph chunkedgraph.Client, payload RepairPayload, col schema.PointColumn) (int, error) {
	candidates, err := spatialdb.SelectMissingRoots(ctx, db, payload.IDColumn, payload.SegmentationTable, col.SupervoxelColumn(), col.RootColumn(), payload.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	svids := make([]uint64, len(candidates))
	for i, c := range candidates {
		svids[i] = c.SupervoxelID
	}
	roots, err := graph.GetRoots(ctx, svids, time.Time{})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeChunkedGraphError, "resolving missing root ids", err)
	}
	if len(roots) != len(candidates) {
		return 0, apperrors.New(apperrors.CodeChunkedGraphError, "root id count does not match candidate count")
	}

	byRoot := make(map[uint64][]int64, len(candidates))
	repaired := 0
	for i, c := range candidates {
		if roots[i] == 0 {
			continue
		}
		byRoot[roots[i]] = append(byRoot[roots[i]], c.ID)
		repaired++
	}
	if repaired == 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "beginning repair transaction", err)
	}
	for root, ids := range byRoot {
		if err := spatialdb.BulkUpdateByID(ctx, tx, dialect, payload.IDColumn, payload.SegmentationTable, col.RootColumn(), root, ids); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "committing repair transaction", err)
	}
	return repaired, nil
}
