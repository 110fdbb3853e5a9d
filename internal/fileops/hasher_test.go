package fileops

import (
	"bytes"
	"crypto/md5"  //nolint:gosec // test mirrors the manifest format
	"crypto/sha1" //nolint:gosec // test mirrors the manifest format
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashingReader(t *testing.T) {
	t.Parallel()

	data := []byte("hello manifest")
	hr := NewHashingReader(bytes.NewReader(data), md5.New(), sha1.New())
	got, err := io.ReadAll(hr)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	md5sum := md5.Sum(data)
	sha1sum := sha1.Sum(data)
	sums := hr.Sums()
	require.Len(t, sums, 2)
	assert.Equal(t, md5sum[:], sums[0])
	assert.Equal(t, sha1sum[:], sums[1])
}

func TestCopyLimited(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		limit   uint64
		wantN   int64
		wantErr error
	}{
		{name: "under limit", data: "abc", limit: 10, wantN: 3},
		{name: "exact limit", data: "abcd", limit: 4, wantN: 4},
		{name: "over limit", data: "abcde", limit: 4, wantN: 4, wantErr: ErrSizeOverflow},
		{name: "no limit", data: strings.Repeat("x", 1000), limit: 0, wantN: 1000},
		{name: "empty", data: "", limit: 1, wantN: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			n, err := CopyLimited(&buf, strings.NewReader(tt.data), tt.limit)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantN, n)
		})
	}
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestEnsureNoExtra(t *testing.T) {
	t.Parallel()

	require.NoError(t, EnsureNoExtra(strings.NewReader("")))
	require.ErrorIs(t, EnsureNoExtra(strings.NewReader("x")), ErrSizeOverflow)
	require.ErrorIs(t, EnsureNoExtra(errReader{io.ErrClosedPipe}), io.ErrClosedPipe)
}
