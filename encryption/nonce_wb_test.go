package encryption

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_sampleNonces(t *testing.T) {
	tt := []*struct {
		name    string
		ng      NonceGenerator
		size    int
		wantErr string
	}{
		{name: "random", ng: newRandomNonces(24), size: 24},
		{name: "failing", ng: nonceFunc(func() ([]byte, error) { return nil, errors.New("entropy exhausted") }), size: 12, wantErr: "generate: entropy exhausted"},
		{name: "wrong size", ng: newRandomNonces(12), size: 24, wantErr: "nonce size is 12, cipher requires 24"},
		{name: "constant", ng: nonceFunc(func() ([]byte, error) { return []byte("same nonce!!"), nil }), size: 12, wantErr: "repeated nonce after 2 samples"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			err := sampleNonces(tc.ng, tc.size)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

type nonceFunc func() ([]byte, error)

func (f nonceFunc) Generate() ([]byte, error) {
	return f()
}
