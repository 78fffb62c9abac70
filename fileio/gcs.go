package fileio

import (
	"context"
	"io"
	"io/fs"
	"os"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
)

// GCSFile stores cassettes as Google Cloud Storage objects named '/bucketName/[folder/.../]file'.
type GCSFile struct {
	client *storage.Client
}

func NewGCS(client *storage.Client) *GCSFile {
	return &GCSFile{
		client: client,
	}
}

func (f *GCSFile) MkdirAll(_ context.Context, _ string, _ os.FileMode) error {
	return nil
}

func (f *GCSFile) ReadFile(ctx context.Context, name string) ([]byte, error) {
	obj, err := f.object(name)
	if err != nil {
		return nil, err
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, errors.Wrapf(fs.ErrNotExist, "gcs object '%s'", name)
		}
		return nil, errors.Wrapf(err, "gcs get '%s'", name)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)

	return data, errors.WithStack(err)
}

func (f *GCSFile) WriteFile(ctx context.Context, name string, data []byte, _ os.FileMode) error {
	obj, err := f.object(name)
	if err != nil {
		return err
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err = w.Write(data); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "gcs write '%s'", name)
	}

	return errors.Wrapf(w.Close(), "gcs close '%s'", name)
}

func (f *GCSFile) NotExist(ctx context.Context, name string) (bool, error) {
	obj, err := f.object(name)
	if err != nil {
		return false, err
	}

	_, err = obj.Attrs(ctx)
	if err == nil {
		return false, nil
	}

	if errors.Is(err, storage.ErrObjectNotExist) {
		return true, nil
	}

	return false, errors.Wrapf(err, "gcs attrs '%s'", name)
}

func (f *GCSFile) object(name string) (*storage.ObjectHandle, error) {
	bucket, key, err := bucketAndKey(name)
	if err != nil {
		return nil, err
	}

	return f.client.Bucket(bucket).Object(key), nil
}
