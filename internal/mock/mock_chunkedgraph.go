package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockChunkedGraphClient is a mock implementation of the chunkedgraph.Client
// interface.
type MockChunkedGraphClient struct {
	mock.Mock
}

// GetRoots mocks the GetRoots method.
func (m *MockChunkedGraphClient) GetRoots(ctx context.Context, supervoxelIDs []uint64, timestamp time.Time) ([]uint64, error) {
	args := m.Called(ctx, supervoxelIDs, timestamp)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uint64), args.Error(1)
}

// ExpectGetRoots sets up an expectation for GetRoots.
func (m *MockChunkedGraphClient) ExpectGetRoots(roots []uint64, err error) *mock.Call {
	return m.On("GetRoots", mock.Anything, mock.Anything, mock.Anything).Return(roots, err)
}
