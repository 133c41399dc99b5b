package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/segmat/segmat/internal/chunkedgraph"
	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/repository"
	"github.com/segmat/segmat/internal/schema"
	"github.com/segmat/segmat/internal/segvolume"
	"github.com/segmat/segmat/internal/spatialdb"
	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/pkg/utils"
)

// IngestPayload carries one batch of newly-created annotation ids for the
// ingest workflow to resolve, the Go counterpart of
// ingest_new_annotations_workflow's per-chunk id list.
type IngestPayload struct {
	Database          string    `json:"database"`
	AnnotationTable   string    `json:"annotation_table"`
	SegmentationTable string    `json:"segmentation_table"`
	SchemaTag         string    `json:"schema_tag"`
	IDColumn          string    `json:"id_column"`
	SourceURL         string    `json:"source_url"`
	ChunkedGraphURL   string    `json:"chunked_graph_url"`
	ChunkedGraphToken string    `json:"chunked_graph_token"`
	Timestamp         time.Time `json:"timestamp"`
	MinID             int64         `json:"min_id"`
	MaxID             int64         `json:"max_id"`
	SupervoxelBatch   int           `json:"supervoxel_batch_size"`
	CoordResolution   model.Point3D `json:"coord_resolution"`
}

// IngestNewAnnotations submits one task per batch of ids in [minID, maxID],
// unlike the spatial backfill driver it runs against a primary-key range
// rather than a spatial grid, since new rows since a run's watermark are
// identified by id, not position, mirroring
// ingest_new_annotations_workflow's chunk-by-id-range submission loop.
func IngestNewAnnotations(ctx context.Context, queueClient *queue.Client, req RunRequest, minID, maxID int64, batchSize int64) error {
	strategy := NewIDRangeStrategy(minID, maxID, batchSize)
	for idx, chunk := range strategy.Chunks() {
		lo, hi := IDBounds(chunk)
		payload := IngestPayload{
			Database:          req.Database,
			AnnotationTable:   req.AnnotationTable,
			SegmentationTable: req.SegmentationTable,
			SchemaTag:         req.SchemaTag,
			IDColumn:          req.IDColumn,
			SourceURL:         req.SourceURL,
			ChunkedGraphURL:   req.ChunkedGraphURL,
			ChunkedGraphToken: req.ChunkedGraphToken,
			SupervoxelBatch:   req.SupervoxelBatch,
			CoordResolution:   req.CoordResolution,
			MinID:             lo,
			MaxID:             hi,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "encoding ingest payload", err)
		}
		if _, err := queueClient.EnqueueIngest(body); err != nil {
			return apperrors.Wrap(apperrors.CodeDatabaseError, fmt.Sprintf("submitting ingest batch %d", idx), err)
		}
	}
	return nil
}

// IngestHandler builds the asynq.HandlerFunc that resolves and writes one
// id-range batch of newly inserted annotation rows. Unlike ProcessChunkHandler
// it selects candidate rows by primary key rather than by bounding box,
// since the rows it's asked to resolve were never spatially scoped in the
// first place.
func IngestHandler(dbs *repository.VolumeDBCache, schemas *schema.Factory, log utils.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload IngestPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "decoding ingest payload", err)
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

		rows, err := selectByIDRange(ctx, db, payload.IDColumn, payload.AnnotationTable, def, payload.MinID, payload.MaxID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		volume, err := segvolume.Open(ctx, payload.SourceURL)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeVolumeUnavailable, "opening segmentation volume", err)
		}
		graph := chunkedgraph.Cached(payload.ChunkedGraphURL, payload.ChunkedGraphToken, 30*time.Second)
		resolver := NewResolver(volume, graph, payload.SupervoxelBatch, true, payload.CoordResolution)

		segRows, err := resolver.ResolveSupervoxels(ctx, rows, payload.Timestamp)
		if err != nil {
			return err
		}

		if err := writeChunk(ctx, db, dialect, payload.IDColumn, payload.SegmentationTable, def, segRows); err != nil {
			return err
		}

		log.Debug("ingested ids [%d, %d]: %d rows, %d missing roots", payload.MinID, payload.MaxID, len(rows), countMissingRoots(segRows))
		return nil
	}
}

// selectByIDRange reads the annotation rows with id in [minID, maxID],
// unioned across every point column, the id-range counterpart of
// spatialdb.Query's bounding-box selection.
func selectByIDRange(ctx context.Context, db *sql.DB, idColumn, table string, def schema.Definition, minID, maxID int64) ([]model.AnnotationRow, error) {
	var out []model.AnnotationRow
	for _, col := range def.Columns {
		posCol := col.PositionColumn()
		query := fmt.Sprintf(
			"SELECT %s, ST_X(%s::geometry), ST_Y(%s::geometry), ST_Z(%s::geometry) FROM %s WHERE %s BETWEEN $1 AND $2",
			idColumn, posCol, posCol, posCol, table, idColumn,
		)
		rows, err := db.QueryContext(ctx, query, minID, maxID)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "selecting annotations by id range", err)
		}
		for rows.Next() {
			var r model.AnnotationRow
			var x, y, z float64
			if err := rows.Scan(&r.ID, &x, &y, &z); err != nil {
				rows.Close()
				return nil, apperrors.Wrap(apperrors.CodeSpatialQueryFailed, "scanning id range row", err)
			}
			r.PointColumn = col.Suffix
			r.Point = model.Point3D{X: x, Y: y, Z: z}
			out = append(out, r)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}
