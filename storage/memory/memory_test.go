package memory

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/appsign/storage"
)

func TestStorageLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	ok, err := s.Exists(ctx, "/a/b.zip")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Open(ctx, "a/b.zip")
	require.ErrorIs(t, err, storage.ErrNotExist)

	w, err := s.Create(ctx, "/a/b.zip")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	ok, _ = s.Exists(ctx, "a/b.zip")
	assert.False(t, ok, "content must not be visible before commit")

	require.NoError(t, w.Commit())
	require.ErrorIs(t, w.Commit(), errClosed)

	rc, err := s.Open(ctx, "a/b.zip")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, s.Delete(ctx, "a/b.zip"))
	require.NoError(t, s.Delete(ctx, "a/b.zip"))
	assert.Zero(t, s.Len())
}

func TestStorageDiscard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	w, err := s.Create(ctx, "x")
	require.NoError(t, err)
	_, _ = w.Write([]byte("junk"))
	require.NoError(t, w.Discard())

	ok, err := s.Exists(ctx, "x")
	require.NoError(t, err)
	assert.False(t, ok)
}
