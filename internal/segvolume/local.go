package segvolume

import (
	"context"
	"os"
	"path/filepath"

	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
)

// localVolume reads a segmentation volume's info.json and watershed chunks
// from the local filesystem, used for tests and single-node development,
// adapted from the teacher's LocalStorage filesystem backend.
type localVolume struct {
	basePath string
	info     volumeInfo
}

func newLocalVolume(path string) (*localVolume, error) {
	v := &localVolume{basePath: path}
	data, err := v.fetch(context.Background(), "info")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "reading local volume info.json", err)
	}
	info, err := parseVolumeInfo(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "parsing volume info.json", err)
	}
	v.info = info
	return v, nil
}

func (v *localVolume) fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(v.basePath, key))
}

func (v *localVolume) Resolution() model.Point3D  { return v.info.resolution() }
func (v *localVolume) VoxelOffset() model.Point3D { return v.info.voxelOffset() }
func (v *localVolume) GraphChunkSize() [3]int64   { return v.info.graphChunkSize() }

func (v *localVolume) ScatteredPoints(ctx context.Context, points []model.Point3D) ([]uint64, error) {
	return scatteredPointsByChunk(ctx, points, v.info, v.fetch)
}
