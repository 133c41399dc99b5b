package segvolume

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
)

// s3Volume reads a segmentation volume's info.json and watershed chunks
// from an S3 bucket.
type s3Volume struct {
	client *s3.Client
	bucket string
	prefix string
	info   volumeInfo
}

func newS3Volume(ctx context.Context, path string) (*s3Volume, error) {
	bucket, prefix, _ := strings.Cut(path, "/")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "loading AWS config", err)
	}
	client := s3.NewFromConfig(cfg)

	v := &s3Volume{client: client, bucket: bucket, prefix: prefix}
	data, err := v.fetch(ctx, "info")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "fetching volume info.json from S3", err)
	}
	info, err := parseVolumeInfo(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeVolumeUnavailable, "parsing volume info.json", err)
	}
	v.info = info
	return v, nil
}

func (v *s3Volume) fetch(ctx context.Context, key string) ([]byte, error) {
	fullKey := key
	if v.prefix != "" {
		fullKey = fmt.Sprintf("%s/%s", v.prefix, key)
	}
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (v *s3Volume) Resolution() model.Point3D  { return v.info.resolution() }
func (v *s3Volume) VoxelOffset() model.Point3D { return v.info.voxelOffset() }
func (v *s3Volume) GraphChunkSize() [3]int64   { return v.info.graphChunkSize() }

func (v *s3Volume) ScatteredPoints(ctx context.Context, points []model.Point3D) ([]uint64, error) {
	return scatteredPointsByChunk(ctx, points, v.info, v.fetch)
}
