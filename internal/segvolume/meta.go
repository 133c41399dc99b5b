package segvolume

import (
	"encoding/json"

	"github.com/segmat/segmat/pkg/model"
)

// volumeInfo mirrors the subset of a precomputed segmentation volume's
// info.json this package needs: the top-level scale's resolution and voxel
// offset, and the chunked graph's base chunk size.
type volumeInfo struct {
	Scales []struct {
		Resolution  [3]float64 `json:"resolution"`
		VoxelOffset [3]float64 `json:"voxel_offset"`
		ChunkSizes  [][3]int64 `json:"chunk_sizes"`
	} `json:"scales"`
	GraphChunkSize [3]int64 `json:"graph_chunk_size"`
}

func parseVolumeInfo(data []byte) (volumeInfo, error) {
	var info volumeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return volumeInfo{}, err
	}
	return info, nil
}

func (v volumeInfo) resolution() model.Point3D {
	if len(v.Scales) == 0 {
		return model.Point3D{X: 1, Y: 1, Z: 1}
	}
	r := v.Scales[0].Resolution
	return model.Point3D{X: r[0], Y: r[1], Z: r[2]}
}

func (v volumeInfo) voxelOffset() model.Point3D {
	if len(v.Scales) == 0 {
		return model.Point3D{}
	}
	o := v.Scales[0].VoxelOffset
	return model.Point3D{X: o[0], Y: o[1], Z: o[2]}
}

func (v volumeInfo) graphChunkSize() [3]int64 {
	if v.GraphChunkSize != ([3]int64{}) {
		return v.GraphChunkSize
	}
	if len(v.Scales) > 0 && len(v.Scales[0].ChunkSizes) > 0 {
		return v.Scales[0].ChunkSizes[0]
	}
	return [3]int64{512, 512, 512}
}

// pointToChunkPosition converts a voxel-space point to its chunk grid
// coordinate, matching point_to_chunk_position's
// "(pt // graph_chunk_size)" integer division.
func pointToChunkPosition(p model.Point3D, offset model.Point3D, chunkSize [3]int64) [3]int64 {
	return [3]int64{
		int64((p.X - offset.X)) / chunkSize[0],
		int64((p.Y - offset.Y)) / chunkSize[1],
		int64((p.Z - offset.Z)) / chunkSize[2],
	}
}
