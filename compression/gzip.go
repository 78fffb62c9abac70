// Package compression holds the gzip helpers used for ".gz" cassettes and
// compressed body records.
package compression

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/pkg/errors"
)

var gzipMagic = []byte{0x1f, 0x8b}

// IsCompressed reports whether data starts with the gzip magic number.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// Compress data and return the result.
func Compress(data []byte) ([]byte, error) {
	var out bytes.Buffer

	w := gzip.NewWriter(&out)

	if _, err := w.Write(data); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := w.Close(); err != nil {
		return nil, errors.WithStack(err)
	}

	return out.Bytes(), nil
}

// Decompress data and return the result.
func Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	data, err = io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return data, nil
}
