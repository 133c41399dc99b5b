package segvolume

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
)

// gcsVolume reads a segmentation volume's info.json and watershed chunks
// from a Google Cloud Storage bucket.
type gcsVolume struct {
	client *storage.Client
	bucket string
	prefix string
	info   volumeInfo
}

func newGCSVolume(ctx context.Context, path string) (*gcsVolume, error) {
	bucket, prefix, _ := strings.Cut(path, "/")

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "creating GCS client", err)
	}

	v := &gcsVolume{client: client, bucket: bucket, prefix: prefix}
	data, err := v.fetch(ctx, "info")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "fetching volume info.json from GCS", err)
	}
	info, err := parseVolumeInfo(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "parsing volume info.json", err)
	}
	v.info = info
	return v, nil
}

func (v *gcsVolume) fetch(ctx context.Context, key string) ([]byte, error) {
	fullKey := key
	if v.prefix != "" {
		fullKey = fmt.Sprintf("%s/%s", v.prefix, key)
	}
	r, err := v.client.Bucket(v.bucket).Object(fullKey).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (v *gcsVolume) Resolution() model.Point3D  { return v.info.resolution() }
func (v *gcsVolume) VoxelOffset() model.Point3D { return v.info.voxelOffset() }
func (v *gcsVolume) GraphChunkSize() [3]int64   { return v.info.graphChunkSize() }

func (v *gcsVolume) ScatteredPoints(ctx context.Context, points []model.Point3D) ([]uint64, error) {
	return scatteredPointsByChunk(ctx, points, v.info, v.fetch)
}
