package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/segmat/segmat/pkg/model"
)

// MockVolume is a mock implementation of the segvolume.Volume interface.
type MockVolume struct {
	mock.Mock
}

// Resolution mocks the Resolution method.
func (m *MockVolume) Resolution() model.Point3D {
	args := m.Called()
	return args.Get(0).(model.Point3D)
}

// VoxelOffset mocks the VoxelOffset method.
func (m *MockVolume) VoxelOffset() model.Point3D {
	args := m.Called()
	return args.Get(0).(model.Point3D)
}

// GraphChunkSize mocks the GraphChunkSize method.
func (m *MockVolume) GraphChunkSize() [3]int64 {
	args := m.Called()
	return args.Get(0).([3]int64)
}

// ScatteredPoints mocks the ScatteredPoints method.
func (m *MockVolume) ScatteredPoints(ctx context.Context, points []model.Point3D) ([]uint64, error) {
	args := m.Called(ctx, points)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

// ExpectScatteredPoints sets up an expectation for ScatteredPoints.
func (m *MockVolume) ExpectScatteredPoints(svids []uint64, err error) *mock.Call {
	return m.On("ScatteredPoints", mock.Anything, mock.Anything).Return(svids, err)
}

// ExpectResolution sets up an expectation for Resolution.
func (m *MockVolume) ExpectResolution(res model.Point3D) *mock.Call {
	return m.On("Resolution").Return(res)
}
