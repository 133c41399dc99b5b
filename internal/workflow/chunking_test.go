package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmat/segmat/pkg/model"
)

func TestGridStrategy_TotalChunksAndCoverage(t *testing.T) {
	bounds := model.BoundingBox{
		Min: model.Point3D{X: 0, Y: 0, Z: 0},
		Max: model.Point3D{X: 1024, Y: 512, Z: 512},
	}
	strategy := NewGridStrategy(bounds, [3]int64{512, 512, 512})

	assert.Equal(t, 2, strategy.TotalChunks())

	var seen []model.Chunk
	for idx, chunk := range strategy.Chunks() {
		assert.Equal(t, idx, chunk.Index)
		seen = append(seen, chunk)
	}
	require.Len(t, seen, 2)
	assert.Equal(t, 0.0, seen[0].Bounds.Min.X)
	assert.Equal(t, 512.0, seen[1].Bounds.Min.X)
}

func TestGridStrategy_SkipToIndexResumesMidway(t *testing.T) {
	bounds := model.BoundingBox{Max: model.Point3D{X: 2048, Y: 512, Z: 512}}
	strategy := NewGridStrategy(bounds, [3]int64{512, 512, 512})
	require.Equal(t, 4, strategy.TotalChunks())

	resumed := strategy.SkipToIndex(2)
	var indices []int
	for idx := range resumed.Chunks() {
		indices = append(indices, idx)
	}
	assert.Equal(t, []int{2, 3}, indices)
}

func TestIDRangeStrategy_BatchesCoverWholeRange(t *testing.T) {
	strategy := NewIDRangeStrategy(1, 25, 10)
	assert.Equal(t, 3, strategy.TotalChunks())

	var total int64
	for _, c := range strategy.Chunks() {
		lo, hi := IDBounds(c)
		total += hi - lo + 1
	}
	assert.Equal(t, int64(25), total)
}

func TestIDRangeStrategy_EmptyRange(t *testing.T) {
	strategy := NewIDRangeStrategy(10, 5, 10)
	assert.Equal(t, 0, strategy.TotalChunks())
}

func TestSelectStrategy_SmallTableIsSingleChunk(t *testing.T) {
	bounds := model.BoundingBox{Min: model.Point3D{X: 0, Y: 0, Z: 0}, Max: model.Point3D{X: 2048, Y: 1024, Z: 512}}
	strategy, tag, chunkSize := SelectStrategy(bounds, 99_999, 1)

	assert.Equal(t, "single", tag)
	assert.Equal(t, [3]int64{2048, 1024, 512}, chunkSize)
	assert.Equal(t, 1, strategy.TotalChunks())
}

func TestSelectStrategy_MidSizedTableUsesScaledGrid(t *testing.T) {
	bounds := model.BoundingBox{Max: model.Point3D{X: 4096, Y: 4096, Z: 4096}}
	strategy, tag, chunkSize := SelectStrategy(bounds, 1_000_000, 2)

	assert.Equal(t, "grid", tag)
	assert.Equal(t, [3]int64{2048, 2048, 2048}, chunkSize)
	assert.Equal(t, 8, strategy.TotalChunks())
}

func TestSelectStrategy_LargeTableStreamsSameGrid(t *testing.T) {
	bounds := model.BoundingBox{Max: model.Point3D{X: 1024, Y: 1024, Z: 1024}}
	strategy, tag, chunkSize := SelectStrategy(bounds, 20_000_000, 1)

	assert.Equal(t, "streaming", tag)
	assert.Equal(t, [3]int64{1024, 1024, 1024}, chunkSize)
	assert.Equal(t, 1, strategy.TotalChunks())
}

func TestSelectStrategy_ChunkScaleFactorBelowOneClampedToOne(t *testing.T) {
	bounds := model.BoundingBox{Max: model.Point3D{X: 1024, Y: 1024, Z: 1024}}
	_, tag, chunkSize := SelectStrategy(bounds, 500_000, 0)

	assert.Equal(t, "grid", tag)
	assert.Equal(t, [3]int64{1024, 1024, 1024}, chunkSize)
}
