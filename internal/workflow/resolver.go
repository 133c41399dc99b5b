// Package workflow drives the end-to-end materialization pipeline: chunking
// a bounding box, resolving supervoxel and root IDs for the points inside
// each chunk, writing them back, and tracking progress through checkpoints.
// It plays the role the source system gives to its Celery workflow module.
package workflow

import (
	"context"
	"time"

	"github.com/segmat/segmat/internal/chunkedgraph"
	"github.com/segmat/segmat/internal/segvolume"
	"github.com/segmat/segmat/pkg/collections"
	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/pkg/parallel"
)

// defaultSupervoxelBatchSize is the supervoxel_batch_size fallback when a
// caller doesn't specify one, matching the source system's default.
const defaultSupervoxelBatchSize = 50

// Resolver turns annotation rows into segmentation rows by scattering their
// positions against a segmentation volume and, optionally, resolving
// supervoxel IDs to root IDs against a chunked graph service.
type Resolver struct {
	volume          segvolume.Volume
	graph           chunkedgraph.Client
	batchSize       int
	getRootIDs      bool
	coordResolution model.Point3D
	svidPool        *collections.SlicePool[uint64]
}

// NewResolver constructs a Resolver. batchSize caps how many points are sent
// to the segmentation volume per scattered-point round trip, matching the
// source system's supervoxel_batch_size knob; the chunked-graph lookup is a
// single call per chunk and is not split by batchSize. coordResolution is the voxel
// resolution (nm/voxel) the annotation table's points are stored in; a zero
// value means the points already share the segmentation volume's native
// resolution and no rescaling is applied.
func NewResolver(volume segvolume.Volume, graph chunkedgraph.Client, batchSize int, getRootIDs bool, coordResolution model.Point3D) *Resolver {
	if batchSize <= 0 {
		batchSize = defaultSupervoxelBatchSize
	}
	return &Resolver{
		volume:          volume,
		graph:           graph,
		batchSize:       batchSize,
		getRootIDs:      getRootIDs,
		coordResolution: coordResolution,
		svidPool:        collections.NewSlicePool[uint64](batchSize),
	}
}

// ResolveSupervoxels resolves each annotation row's point to a supervoxel ID,
// fanning batches out across a worker pool so a large chunk's points are
// scattered against the segmentation volume concurrently, then resolves
// root IDs for the whole chunk's distinct supervoxel set in one call.
func (r *Resolver) ResolveSupervoxels(ctx context.Context, rows []model.AnnotationRow, timestamp time.Time) ([]model.SegmentationRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	batches := batchRows(rows, r.batchSize)
	pool := parallel.NewWorkerPool[[]model.AnnotationRow, []model.SegmentationRow](
		parallel.DefaultPoolConfig().WithWorkers(4),
	)

	tasks := make([]parallel.Task[[]model.AnnotationRow, []model.SegmentationRow], len(batches))
	for i, batch := range batches {
		tasks[i] = parallel.NewTask(batch, r.scatterBatch)
	}

	results := pool.Execute(ctx, tasks)

	out := make([]model.SegmentationRow, 0, len(rows))
	for _, res := range results {
		if res.Error != nil {
			return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "scattering points against segmentation volume", res.Error)
		}
		out = append(out, res.Result...)
	}

	if r.getRootIDs {
		if err := r.resolveRoots(ctx, out, timestamp); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// scale computes segmentation_resolution / coord_resolution, the factor
// normalize_positions applies before looking up a point's supervoxel: a
// point stored at a finer resolution than the segmentation volume's native
// voxel grid has to be coarsened down to it first.
func (r *Resolver) scale() model.Point3D {
	coord := r.coordResolution
	if coord == (model.Point3D{}) {
		coord = model.Point3D{X: 1, Y: 1, Z: 1}
	}
	seg := r.volume.Resolution()
	return model.Point3D{X: seg.X / coord.X, Y: seg.Y / coord.Y, Z: seg.Z / coord.Z}
}

func (r *Resolver) scatterBatch(ctx context.Context, batch []model.AnnotationRow) ([]model.SegmentationRow, error) {
	scale := r.scale()
	points := make([]model.Point3D, len(batch))
	for i, row := range batch {
		points[i] = row.Point.ScaledBy(scale)
	}

	svids, err := r.volume.ScatteredPoints(ctx, points)
	if err != nil {
		return nil, err
	}
	if len(svids) != len(batch) {
		return nil, apperrors.New(apperrors.CodeVolumeUnavailable, "scattered point count does not match input batch size")
	}

	out := make([]model.SegmentationRow, len(batch))
	for i, row := range batch {
		out[i] = model.SegmentationRow{
			ID:           row.ID,
			PointColumn:  row.PointColumn,
			SupervoxelID: svids[i],
		}
	}
	return out, nil
}

// resolveRoots resolves root IDs for the distinct, non-zero supervoxel IDs
// found across the whole chunk in a single chunked-graph round trip, then
// scatters the resolved root IDs back onto the segmentation rows.
func (r *Resolver) resolveRoots(ctx context.Context, rows []model.SegmentationRow, timestamp time.Time) error {
	distinct := make(map[uint64]int, len(rows))
	svidsPtr := r.svidPool.Get()
	svids := (*svidsPtr)[:0]
	defer r.svidPool.Put(svidsPtr)

	for _, row := range rows {
		if row.SupervoxelID == 0 {
			continue
		}
		if _, ok := distinct[row.SupervoxelID]; !ok {
			distinct[row.SupervoxelID] = len(svids)
			svids = append(svids, row.SupervoxelID)
		}
	}
	if len(svids) == 0 {
		return nil
	}

	roots, err := r.graph.GetRoots(ctx, svids, timestamp)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeChunkedGraphError, "resolving root IDs", err)
	}
	if len(roots) != len(svids) {
		return apperrors.New(apperrors.CodeChunkedGraphError, "root ID count does not match supervoxel ID count")
	}

	for i := range rows {
		if rows[i].SupervoxelID == 0 {
			rows[i].MissingRootID = true
			continue
		}
		idx := distinct[rows[i].SupervoxelID]
		root := roots[idx]
		rows[i].RootID = root
		rows[i].MissingRootID = root == 0
	}
	return nil
}

func batchRows(rows []model.AnnotationRow, size int) [][]model.AnnotationRow {
	batches := make([][]model.AnnotationRow, 0, (len(rows)+size-1)/size)
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		batches = append(batches, rows[i:end])
	}
	return batches
}
