package fileio

import (
	"context"
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisFile stores each cassette as a single Redis string value.
// The cassette name, prefixed with KeyPrefix, is the key.
type RedisFile struct {
	client    redis.UniversalClient
	keyPrefix string
}

func NewRedis(client redis.UniversalClient, keyPrefix string) *RedisFile {
	return &RedisFile{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (f *RedisFile) MkdirAll(_ context.Context, _ string, _ os.FileMode) error {
	return nil
}

func (f *RedisFile) ReadFile(ctx context.Context, name string) ([]byte, error) {
	data, err := f.client.Get(ctx, f.keyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.Wrapf(fs.ErrNotExist, "redis key '%s'", f.keyPrefix+name)
	}

	return data, errors.WithStack(err)
}

func (f *RedisFile) WriteFile(ctx context.Context, name string, data []byte, _ os.FileMode) error {
	return errors.WithStack(f.client.Set(ctx, f.keyPrefix+name, data, 0).Err())
}

func (f *RedisFile) NotExist(ctx context.Context, name string) (bool, error) {
	n, err := f.client.Exists(ctx, f.keyPrefix+name).Result()
	if err != nil {
		return false, errors.WithStack(err)
	}

	return n == 0, nil
}
