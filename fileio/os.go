package fileio

import (
	"context"
	"io/fs"
	"os"

	"github.com/pkg/errors"
)

// OSFile provides a storage based on Go's standard "os" package for filesystem support.
type OSFile struct{}

func (*OSFile) MkdirAll(_ context.Context, path string, perm os.FileMode) error {
	return errors.WithStack(os.MkdirAll(path, perm))
}

func (*OSFile) ReadFile(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(name)
	return data, errors.WithStack(err)
}

func (*OSFile) WriteFile(_ context.Context, name string, data []byte, perm os.FileMode) error {
	return errors.WithStack(os.WriteFile(name, data, perm))
}

func (*OSFile) NotExist(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}

	return false, errors.WithStack(err)
}
