// Package fileio provides the storage backends cassettes are read from and written to.
//
// Every backend reports a missing object with an error that satisfies
// errors.Is(err, fs.ErrNotExist).
package fileio

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Store is the storage used to persist cassettes.
type Store interface {
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error
	NotExist(ctx context.Context, name string) (bool, error)
}

// bucketAndKey splits an object name of the form '/bucketName/[folder/.../]file'.
func bucketAndKey(name string) (bucket, key string, err error) {
	splits := strings.SplitN(name, "/", 3)
	if len(splits) != 3 || splits[0] != "" || splits[1] == "" || splits[2] == "" {
		err = errors.Errorf("invalid object name: '%s' - expected format is '/bucketName/[folder/.../]file'", name)
		return
	}

	bucket = splits[1]
	key = splits[2]

	return
}
