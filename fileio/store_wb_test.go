package fileio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketAndKey(t *testing.T) {
	tt := []*struct {
		name       string
		objectName string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{name: "key at root", objectName: "/bucket/file.json", wantBucket: "bucket", wantKey: "file.json"},
		{name: "nested key", objectName: "/bucket/a/b/file.json", wantBucket: "bucket", wantKey: "a/b/file.json"},
		{name: "no leading slash", objectName: "bucket/file.json", wantErr: true},
		{name: "no key", objectName: "/bucket", wantErr: true},
		{name: "empty key", objectName: "/bucket/", wantErr: true},
		{name: "empty bucket", objectName: "//file.json", wantErr: true},
	}

	for _, tc := range tt {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			bucket, key, err := bucketAndKey(tc.objectName)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantBucket, bucket)
			assert.Equal(t, tc.wantKey, key)
		})
	}
}
