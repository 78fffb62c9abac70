package fileio_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seborama/scenevcr/fileio"
)

// TestRedisFile requires a running Redis on localhost. It is skipped otherwise.
func TestRedisFile(t *testing.T) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = client.Close() }()

	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("redis not available: ", err)
	}

	prefix := "scenevcr-test-" + uuid.NewString() + ":"
	f := fileio.NewRedis(client, prefix)
	defer client.Del(ctx, prefix+"cassette.json")

	notExist, err := f.NotExist(ctx, "cassette.json")
	require.NoError(t, err)
	assert.True(t, notExist)

	_, err = f.ReadFile(ctx, "cassette.json")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, f.WriteFile(ctx, "cassette.json", []byte{0x00, 0xff}, 0))

	data, err := f.ReadFile(ctx, "cassette.json")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff}, data)
}
