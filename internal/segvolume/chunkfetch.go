package segvolume

import (
	"context"
	"encoding/binary"
	"fmt"

	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
)

// fetchFunc retrieves the raw bytes stored at key from a backend.
type fetchFunc func(ctx context.Context, key string) ([]byte, error)

// scatteredPointsByChunk groups points by the watershed chunk they fall
// into, fetches each chunk exactly once, and returns one resolved
// supervoxel id per input point in the same order, matching
// get_scatter_points' per-chunk batching so a run touching a wide bounding
// box doesn't refetch the same tile once per point.
func scatteredPointsByChunk(ctx context.Context, points []model.Point3D, info volumeInfo, fetch fetchFunc) ([]uint64, error) {
	offset := info.voxelOffset()
	chunkSize := info.graphChunkSize()

	type chunkKey [3]int64
	byChunk := make(map[chunkKey][]int)
	for i, p := range points {
		ck := chunkKey(pointToChunkPosition(p, offset, chunkSize))
		byChunk[ck] = append(byChunk[ck], i)
	}

	result := make([]uint64, len(points))
	for ck, idxs := range byChunk {
		key := chunkFileKey(ck, chunkSize, offset)
		data, err := fetch(ctx, key)
		if err != nil {
			// A chunk with no watershed data (outside the segmented
			// region) resolves every point inside it to zero rather than
			// failing the whole batch.
			continue
		}
		tile := decodeUint64Tile(data)
		for _, idx := range idxs {
			p := points[idx]
			local := localOffset(p, offset, ck, chunkSize)
			if local >= 0 && local < len(tile) {
				result[idx] = tile[local]
			}
		}
	}
	return result, nil
}

func chunkFileKey(ck [3]int64, chunkSize, offset [3]int64) string {
	xMin := offset[0] + ck[0]*chunkSize[0]
	yMin := offset[1] + ck[1]*chunkSize[1]
	zMin := offset[2] + ck[2]*chunkSize[2]
	return fmt.Sprintf("%d-%d_%d-%d_%d-%d",
		xMin, xMin+chunkSize[0],
		yMin, yMin+chunkSize[1],
		zMin, zMin+chunkSize[2],
	)
}

func localOffset(p model.Point3D, offset model.Point3D, ck [3]int64, chunkSize [3]int64) int {
	lx := int64(p.X-offset.X) - ck[0]*chunkSize[0]
	ly := int64(p.Y-offset.Y) - ck[1]*chunkSize[1]
	lz := int64(p.Z-offset.Z) - ck[2]*chunkSize[2]
	if lx < 0 || ly < 0 || lz < 0 {
		return -1
	}
	return int(lz*chunkSize[1]*chunkSize[0] + ly*chunkSize[0] + lx)
}

func decodeUint64Tile(data []byte) []uint64 {
	n := len(data) / 8
	tile := make([]uint64, n)
	for i := 0; i < n; i++ {
		tile[i] = binary.LittleEndian.Uint64(data[i*8 : i*8+8])
	}
	return tile
}

var errChunkNotFound = apperrors.New(apperrors.CodeVolumeUnavailable, "watershed chunk not found")
