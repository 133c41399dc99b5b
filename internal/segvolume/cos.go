package segvolume

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/tencentyun/cos-go-sdk-v5"

	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
)

// cosVolume reads a segmentation volume's info.json and watershed chunks
// from Tencent Cloud COS. Credentials are read from the environment the way
// the teacher's COS storage backend expects SecretID/SecretKey to be
// supplied by the caller's config rather than baked into the source URL.
type cosVolume struct {
	client *cos.Client
	info   volumeInfo
}

func newCOSVolume(ctx context.Context, path string) (*cosVolume, error) {
	secretID := os.Getenv("SEGMAT_COS_SECRET_ID")
	secretKey := os.Getenv("SEGMAT_COS_SECRET_KEY")
	bucketURL, err := url.Parse(fmt.Sprintf("https://%s.cos.ap-guangzhou.myqcloud.com", path))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "parsing COS bucket URL", err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: bucketURL}, &http.Client{
		Transport: &cos.AuthorizationTransport{SecretID: secretID, SecretKey: secretKey},
	})

	resp, err := client.Object.Get(ctx, "info", nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "fetching volume info.json from COS", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "reading volume info.json from COS", err)
	}
	info, err := parseVolumeInfo(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "parsing volume info.json", err)
	}

	return &cosVolume{client: client, info: info}, nil
}

func (v *cosVolume) Resolution() model.Point3D     { return v.info.resolution() }
func (v *cosVolume) VoxelOffset() model.Point3D    { return v.info.voxelOffset() }
func (v *cosVolume) GraphChunkSize() [3]int64      { return v.info.graphChunkSize() }

func (v *cosVolume) ScatteredPoints(ctx context.Context, points []model.Point3D) ([]uint64, error) {
	return scatteredPointsByChunk(ctx, points, v.info, func(ctx context.Context, key string) ([]byte, error) {
		resp, err := v.client.Object.Get(ctx, key, nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
}
