// Package segvolume reads the metadata and watershed tiles of a chunked
// segmentation volume: voxel resolution, offset, graph chunk size, and
// scattered-point supervoxel lookups, the Go counterpart of cloudvolume.
package segvolume

import (
	"context"
	"fmt"
	"strings"

	"github.com/segmat/segmat/pkg/model"
)

// Volume exposes the segmentation volume metadata a materialization run
// needs to size its chunks, plus the scattered-point supervoxel lookup
// itself.
type Volume interface {
	// Resolution returns the volume's native voxel resolution in nm.
	Resolution() model.Point3D
	// VoxelOffset returns the volume's coordinate origin.
	VoxelOffset() model.Point3D
	// GraphChunkSize returns the chunked graph's base chunk size in voxels,
	// the unit the chunking strategy tiles a run's bounding box into.
	GraphChunkSize() [3]int64
	// ScatteredPoints resolves each point to its supervoxel id, returning
	// zero for any point outside the volume's bounds.
	ScatteredPoints(ctx context.Context, points []model.Point3D) ([]uint64, error)
}

// Open dispatches to the backend implied by sourceURL's scheme, matching
// the segmat:// source URL convention used across materialization configs:
// segmat://cos/<bucket>/<path>, segmat://s3/<bucket>/<path>,
// segmat://gs/<bucket>/<path>, or segmat://local/<path>.
func Open(ctx context.Context, sourceURL string) (Volume, error) {
	scheme, rest, ok := strings.Cut(sourceURL, "://")
	if !ok || scheme != "segmat" {
		return nil, fmt.Errorf("unrecognized segmentation volume source URL: %s", sourceURL)
	}
	backend, path, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, fmt.Errorf("segmentation volume source URL missing path: %s", sourceURL)
	}

	switch backend {
	case "cos":
		return newCOSVolume(ctx, path)
	case "s3":
		return newS3Volume(ctx, path)
	case "gs", "gcs":
		return newGCSVolume(ctx, path)
	case "local":
		return newLocalVolume(path)
	default:
		return nil, fmt.Errorf("unsupported segmentation volume backend: %s", backend)
	}
}
