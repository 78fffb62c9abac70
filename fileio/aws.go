package fileio

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
)

// S3File stores cassettes as S3 objects named '/bucketName/[folder/.../]file'.
type S3File struct {
	s3Client *s3.Client
}

func NewAWS(s3Client *s3.Client) *S3File {
	return &S3File{
		s3Client: s3Client,
	}
}

func (f *S3File) MkdirAll(_ context.Context, _ string, _ os.FileMode) error {
	// this is a noop in S3
	return nil
}

func (f *S3File) ReadFile(ctx context.Context, name string) ([]byte, error) {
	bucket, key, err := bucketAndKey(name)
	if err != nil {
		return nil, err
	}

	out, err := f.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, errors.Wrapf(fs.ErrNotExist, "s3 object '%s'", name)
		}
		return nil, errors.Wrapf(err, "s3 get '%s'", name)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)

	return data, errors.WithStack(err)
}

func (f *S3File) WriteFile(ctx context.Context, name string, data []byte, _ os.FileMode) error {
	bucket, key, err := bucketAndKey(name)
	if err != nil {
		return err
	}

	largeBuffer := bytes.NewReader(data)
	const partMiBs int64 = 10
	uploader := manager.NewUploader(f.s3Client, func(u *manager.Uploader) {
		u.PartSize = partMiBs * 1024 * 1024
	})
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   largeBuffer,
	})

	return errors.WithStack(err)
}

func (f *S3File) NotExist(ctx context.Context, name string) (bool, error) {
	bucket, key, err := bucketAndKey(name)
	if err != nil {
		return false, err
	}

	_, err = f.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return false, nil
	}

	if isS3NotFound(err) {
		return true, nil
	}

	return false, errors.WithStack(err)
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// HeadObject has no body so some S3 implementations only return the status code.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	return false
}
