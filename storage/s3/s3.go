// Package s3 implements storage.Storage on an AWS S3 bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/meigma/appsign/storage"
)

// API is the subset of the S3 client used by Storage.
type API interface {
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// Storage stores artifacts as objects in a bucket.
//
// Writes are spooled to a local temp file and uploaded with a single
// PutObject on commit; S3 makes the object visible atomically.
type Storage struct {
	client      API
	bucket      string
	prefix      string
	tempDir     string
	contentType string
}

var _ storage.Storage = (*Storage)(nil)

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix places every object under prefix.
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		s.prefix = strings.Trim(prefix, "/")
	}
}

// WithTempDir sets the directory used to spool pending writes.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(s *Storage) {
		s.tempDir = dir
	}
}

// WithContentType sets the Content-Type of uploaded objects.
func WithContentType(ct string) Option {
	return func(s *Storage) {
		s.contentType = ct
	}
}

// New creates a Storage on bucket using client.
func New(client API, bucket string, opts ...Option) (*Storage, error) {
	if client == nil {
		return nil, errors.New("s3 client is nil")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket is empty")
	}
	s := &Storage{
		client:      client,
		bucket:      bucket,
		contentType: "application/zip",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromEnv creates a Storage with credentials, region and endpoint taken
// from the standard AWS environment and shared config files.
// Path-style addressing is needed for S3-compatible servers such as localstack.
func NewFromEnv(ctx context.Context, bucket string, pathStyle bool, opts ...Option) (*Storage, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.UsePathStyle = pathStyle
	})
	return New(client, bucket, opts...)
}

// Open downloads the object at p.
func (s *Storage) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err != nil {
		return nil, mapError(err)
	}
	return out.Body, nil
}

// Create spools a write to p until Commit.
func (s *Storage) Create(ctx context.Context, p string) (storage.Writer, error) {
	tmp, err := os.CreateTemp(s.tempDir, "appsign-s3-*")
	if err != nil {
		return nil, err
	}
	return &writer{
		ctx:  ctx,
		s:    s,
		key:  s.key(p),
		file: tmp,
	}, nil
}

// Exists reports whether an object is stored at p.
func (s *Storage) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	if err == nil {
		return true, nil
	}
	if err := mapError(err); errors.Is(err, storage.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Delete removes the object at p. S3 treats deleting a missing key as success.
func (s *Storage) Delete(ctx context.Context, p string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(p)),
	})
	return mapError(err)
}

func (s *Storage) key(p string) string {
	k := strings.TrimPrefix(path.Clean("/"+p), "/")
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %w", storage.ErrNotExist, err)
	}
	return err
}

type writer struct {
	ctx  context.Context //nolint:containedctx // Commit has no context parameter
	s    *Storage
	key  string
	file *os.File
	size int64
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *writer) Commit() error {
	defer w.cleanup()

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := w.s.client.PutObject(w.ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(w.s.bucket),
		Key:           aws.String(w.key),
		Body:          w.file,
		ContentLength: aws.Int64(w.size),
		ContentType:   aws.String(w.s.contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", w.key, err)
	}
	return nil
}

func (w *writer) Discard() error {
	w.cleanup()
	return nil
}

func (w *writer) cleanup() {
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}
