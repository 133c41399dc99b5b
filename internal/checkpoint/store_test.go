package checkpoint

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/segmat/segmat/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client)
}

func TestStore_InitAndResume(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bounds := model.BoundingBox{
		Min: model.Point3D{X: 0, Y: 0, Z: 0},
		Max: model.Point3D{X: 1024, Y: 1024, Z: 1024},
	}

	cp, err := store.Init(ctx, "minnie65_phase3_v1", "synapse_table", bounds, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, cp.TotalChunks)
	assert.Equal(t, 0, cp.CompletedChunks)

	_, err = store.IncrementCompleted(ctx, "minnie65_phase3_v1", "synapse_table", 3)
	require.NoError(t, err)

	resumed, err := store.Init(ctx, "minnie65_phase3_v1", "synapse_table", bounds, 8)
	require.NoError(t, err)
	assert.Equal(t, 3, resumed.CompletedChunks)
	assert.Equal(t, 3, resumed.NextIndex())
}

func TestStore_InitRefusesChangedBoundingBox(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bounds := model.BoundingBox{Max: model.Point3D{X: 100, Y: 100, Z: 100}}

	_, err := store.Init(ctx, "db", "tbl", bounds, 4)
	require.NoError(t, err)

	changed := model.BoundingBox{Max: model.Point3D{X: 200, Y: 200, Z: 200}}
	_, err = store.Init(ctx, "db", "tbl", changed, 4)
	assert.Error(t, err)
}

func TestStore_Done(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bounds := model.BoundingBox{Max: model.Point3D{X: 10, Y: 10, Z: 10}}

	_, err := store.Init(ctx, "db", "tbl", bounds, 2)
	require.NoError(t, err)
	_, err = store.IncrementCompleted(ctx, "db", "tbl", 2)
	require.NoError(t, err)

	cp, err := store.Get(ctx, "db", "tbl")
	require.NoError(t, err)
	assert.True(t, cp.Done())
}
