package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tmock "github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/segmat/segmat/internal/mock"
	"github.com/segmat/segmat/pkg/model"
)

func TestResolver_ResolveSupervoxels_AssignsRootsAndFlagsMissing(t *testing.T) {
	volume := new(mock.MockVolume)
	graph := new(mock.MockChunkedGraphClient)

	rows := []model.AnnotationRow{
		{ID: 1, PointColumn: "pt", Point: model.Point3D{X: 1, Y: 1, Z: 1}},
		{ID: 2, PointColumn: "pt", Point: model.Point3D{X: 2, Y: 2, Z: 2}},
		{ID: 3, PointColumn: "pt", Point: model.Point3D{X: 3, Y: 3, Z: 3}},
	}

	volume.ExpectResolution(model.Point3D{X: 1, Y: 1, Z: 1})
	volume.ExpectScatteredPoints([]uint64{100, 200, 0}, nil)
	graph.ExpectGetRoots([]uint64{900, 0}, nil)

	r := NewResolver(volume, graph, 500, true, model.Point3D{})
	out, err := r.ResolveSupervoxels(context.Background(), rows, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, uint64(100), out[0].SupervoxelID)
	assert.Equal(t, uint64(900), out[0].RootID)
	assert.False(t, out[0].MissingRootID)

	assert.Equal(t, uint64(200), out[1].SupervoxelID)
	assert.True(t, out[1].MissingRootID, "root resolved to zero must be flagged missing")

	assert.Equal(t, uint64(0), out[2].SupervoxelID)
	assert.True(t, out[2].MissingRootID, "point scattered to zero supervoxel has no root to resolve")
}

func TestResolver_ResolveSupervoxels_SkipsRootLookupWhenDisabled(t *testing.T) {
	volume := new(mock.MockVolume)
	graph := new(mock.MockChunkedGraphClient)

	rows := []model.AnnotationRow{
		{ID: 1, PointColumn: "pt", Point: model.Point3D{X: 1, Y: 1, Z: 1}},
	}
	volume.ExpectResolution(model.Point3D{X: 1, Y: 1, Z: 1})
	volume.ExpectScatteredPoints([]uint64{100}, nil)

	r := NewResolver(volume, graph, 500, false, model.Point3D{})
	out, err := r.ResolveSupervoxels(context.Background(), rows, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(100), out[0].SupervoxelID)
	assert.Equal(t, uint64(0), out[0].RootID)
	graph.AssertNotCalled(t, "GetRoots")
}

func TestResolver_ResolveSupervoxels_EmptyInput(t *testing.T) {
	r := NewResolver(new(mock.MockVolume), new(mock.MockChunkedGraphClient), 500, true, model.Point3D{})
	out, err := r.ResolveSupervoxels(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, out)
}

// TestResolver_ResolveSupervoxels_ScalesPointsToSegmentationResolution covers
// S1: a point stored at coord_resolution (4,4,40) must be scaled into a
// segmentation volume natively resolved at (8,8,40) before the scattered
// point lookup, i.e. pt=(10,20,30) -> scale=(2,2,1) -> scaled=(5,10,30).
func TestResolver_ResolveSupervoxels_ScalesPointsToSegmentationResolution(t *testing.T) {
	volume := new(mock.MockVolume)
	graph := new(mock.MockChunkedGraphClient)

	rows := []model.AnnotationRow{
		{ID: 7, PointColumn: "pt", Point: model.Point3D{X: 10, Y: 20, Z: 30}},
	}

	volume.ExpectResolution(model.Point3D{X: 8, Y: 8, Z: 40})
	volume.On("ScatteredPoints", tmock.Anything, []model.Point3D{{X: 5, Y: 10, Z: 30}}).Return([]uint64{111}, nil)
	graph.ExpectGetRoots([]uint64{999}, nil)

	r := NewResolver(volume, graph, 500, true, model.Point3D{X: 4, Y: 4, Z: 40})
	out, err := r.ResolveSupervoxels(context.Background(), rows, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, uint64(111), out[0].SupervoxelID)
	assert.Equal(t, uint64(999), out[0].RootID)
	assert.False(t, out[0].MissingRootID)
	volume.AssertExpectations(t)
}
