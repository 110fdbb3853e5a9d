package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/appsign/storage"
)

// fakeAPI is an in-memory bucket.
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (f *fakeAPI) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeAPI) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != aws.ToInt64(in.ContentLength) {
		return nil, errors.New("content length mismatch")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeAPI) HeadObject(_ context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{}, nil
}

func (f *fakeAPI) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func TestStorageRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeAPI()
	s, err := New(api, "apps", WithPrefix("/signed/"), WithTempDir(t.TempDir()))
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "/1/app.zip")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Open(ctx, "1/app.zip")
	require.ErrorIs(t, err, storage.ErrNotExist)

	d, n, err := storage.Copy(ctx, s, "/1/app.zip", bytes.NewReader([]byte("zipdata")))
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NotEmpty(t, d)

	assert.Equal(t, []byte("zipdata"), api.objects["signed/1/app.zip"])
	assert.Equal(t, "application/zip", api.types["signed/1/app.zip"])

	ok, err = s.Exists(ctx, "1/app.zip")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := s.Open(ctx, "1/app.zip")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "zipdata", string(data))

	require.NoError(t, s.Delete(ctx, "1/app.zip"))
	ok, err = s.Exists(ctx, "1/app.zip")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorageDiscardUploadsNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeAPI()
	dir := t.TempDir()
	s, err := New(api, "apps", WithTempDir(dir))
	require.NoError(t, err)

	w, err := s.Create(ctx, "x.zip")
	require.NoError(t, err)
	_, _ = w.Write([]byte("partial"))
	require.NoError(t, w.Discard())

	assert.Empty(t, api.objects)
	assertDirEmpty(t, dir)
}

func TestStorageCommitError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	api := newFakeAPI()
	api.putErr = errors.New("access denied")
	dir := t.TempDir()
	s, err := New(api, "apps", WithTempDir(dir))
	require.NoError(t, err)

	w, err := s.Create(ctx, "x.zip")
	require.NoError(t, err)
	_, _ = w.Write([]byte("data"))
	require.ErrorContains(t, w.Commit(), "access denied")
	assertDirEmpty(t, dir)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "bucket")
	require.Error(t, err)
	_, err = New(newFakeAPI(), "")
	require.Error(t, err)
}

func TestKey(t *testing.T) {
	t.Parallel()

	s, err := New(newFakeAPI(), "b")
	require.NoError(t, err)
	assert.Equal(t, "a/b.zip", s.key("/a/b.zip"))
	assert.Equal(t, "b.zip", s.key("../b.zip"))

	s, err = New(newFakeAPI(), "b", WithPrefix("p"))
	require.NoError(t, err)
	assert.Equal(t, "p/a/b.zip", s.key("a/b.zip"))
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spool file must be removed")
}
