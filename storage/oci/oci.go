// Package oci implements storage.Storage on an OCI registry.
//
// Each path is stored as a single-layer ORAS artifact. The layer holds the
// archive bytes; the manifest is tagged with a digest of the path, so the
// mapping from path to artifact needs no external index.
package oci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"

	"github.com/meigma/appsign/storage"
)

const (
	// ArtifactType identifies manifests written by this package.
	ArtifactType = "application/vnd.meigma.appsign.package.v1"

	// MediaTypeArchive is the media type of the archive layer.
	MediaTypeArchive = "application/zip"

	// AnnotationPath records the storage path on the manifest.
	AnnotationPath = "io.meigma.appsign.path"

	// maxManifestSize bounds manifest fetches.
	maxManifestSize = 4 << 20
)

// Sentinel errors.
var (
	// ErrInvalidArtifact is returned when a tag resolves to a manifest this
	// package did not write.
	ErrInvalidArtifact = errors.New("oci storage: not an appsign artifact")

	// ErrDeleteUnsupported is returned by Delete when the target cannot delete manifests.
	ErrDeleteUnsupported = errors.New("oci storage: target does not support delete")
)

// Storage stores archives as artifacts in an OCI target.
type Storage struct {
	target  oras.Target
	tempDir string
	now     func() time.Time
}

var _ storage.Storage = (*Storage)(nil)

// New creates a Storage on target. *remote.Repository and the in-memory
// store from oras-go both satisfy oras.Target.
func New(target oras.Target, opts ...Option) (*Storage, error) {
	if target == nil {
		return nil, errors.New("oci storage: target is nil")
	}
	s := &Storage{target: target, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tag returns the tag under which path is stored.
func Tag(path string) string {
	return digest.FromString(path).Encoded()
}

// Open fetches the archive stored at path.
func (s *Storage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	manifest, err := s.manifest(ctx, path)
	if err != nil {
		return nil, err
	}
	layer := manifest.Layers[0]
	rc, err := s.target.Fetch(ctx, layer)
	if err != nil {
		return nil, mapError(err)
	}
	return &verifiedReader{rc: rc, vr: content.NewVerifyReader(rc, layer), desc: layer}, nil
}

// verifiedReader checks the layer size and digest when the content ends.
// A mismatch is returned in place of io.EOF.
type verifiedReader struct {
	rc   io.ReadCloser
	vr   *content.VerifyReader
	desc ocispec.Descriptor
}

func (r *verifiedReader) Read(p []byte) (int, error) {
	n, err := r.vr.Read(p)
	if errors.Is(err, io.EOF) {
		if verr := r.vr.Verify(); verr != nil {
			return n, fmt.Errorf("oci storage: verify layer %s: %w", r.desc.Digest, verr)
		}
	}
	return n, err
}

func (r *verifiedReader) Close() error {
	return r.rc.Close()
}

// Create starts a write to path. The archive is spooled to a temp file and
// pushed on Commit; the tag moves only after the layer and manifest are stored.
func (s *Storage) Create(ctx context.Context, path string) (storage.Writer, error) {
	f, err := os.CreateTemp(s.tempDir, "appsign-oci-*")
	if err != nil {
		return nil, err
	}
	return &writer{
		ctx:      ctx,
		s:        s,
		path:     path,
		file:     f,
		digester: digest.Canonical.Digester(),
	}, nil
}

// Exists reports whether an artifact is tagged for path.
func (s *Storage) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.target.Resolve(ctx, Tag(path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errdef.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes the manifest tagged for path. Layers are left for the
// registry's garbage collection. A missing path is not an error.
func (s *Storage) Delete(ctx context.Context, path string) error {
	deleter, ok := s.target.(content.Deleter)
	if !ok {
		return ErrDeleteUnsupported
	}
	desc, err := s.target.Resolve(ctx, Tag(path))
	if errors.Is(err, errdef.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := deleter.Delete(ctx, desc); err != nil && !errors.Is(err, errdef.ErrNotFound) {
		return err
	}
	return nil
}

func (s *Storage) manifest(ctx context.Context, path string) (ocispec.Manifest, error) {
	desc, err := s.target.Resolve(ctx, Tag(path))
	if err != nil {
		return ocispec.Manifest{}, mapError(err)
	}
	if desc.Size > maxManifestSize {
		return ocispec.Manifest{}, fmt.Errorf("%w: manifest of %d bytes", ErrInvalidArtifact, desc.Size)
	}
	data, err := content.FetchAll(ctx, s.target, desc)
	if err != nil {
		return ocispec.Manifest{}, mapError(err)
	}
	var m ocispec.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("%w: %w", ErrInvalidArtifact, err)
	}
	if m.ArtifactType != ArtifactType || len(m.Layers) != 1 {
		return ocispec.Manifest{}, fmt.Errorf("%w: %s", ErrInvalidArtifact, path)
	}
	return m, nil
}

// push stores the spooled archive and tags its manifest.
func (s *Storage) push(ctx context.Context, path string, f *os.File, dgst digest.Digest, size int64) error {
	layer := ocispec.Descriptor{
		MediaType: MediaTypeArchive,
		Digest:    dgst,
		Size:      size,
		Annotations: map[string]string{
			ocispec.AnnotationTitle: path,
		},
	}
	exists, err := s.target.Exists(ctx, layer)
	if err != nil {
		return fmt.Errorf("check layer: %w", err)
	}
	if !exists {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if err := s.target.Push(ctx, layer, f); err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
			return fmt.Errorf("push layer: %w", err)
		}
	}

	desc, err := oras.PackManifest(ctx, s.target, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
		Layers: []ocispec.Descriptor{layer},
		ManifestAnnotations: map[string]string{
			AnnotationPath:           path,
			ocispec.AnnotationCreated: s.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("push manifest: %w", err)
	}
	if err := s.target.Tag(ctx, desc, Tag(path)); err != nil {
		return fmt.Errorf("tag manifest: %w", err)
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %w", storage.ErrNotExist, err)
	}
	return err
}

type writer struct {
	ctx      context.Context //nolint:containedctx // Commit has no context parameter
	s        *Storage
	path     string
	file     *os.File
	digester digest.Digester
	size     int64
	closed   bool
}

func (w *writer) Write(p []byte) (int, error) {
	n, err := w.file.Write(p)
	_, _ = w.digester.Hash().Write(p[:n])
	w.size += int64(n)
	return n, err
}

func (w *writer) Commit() error {
	if w.closed {
		return errors.New("oci storage: writer already closed")
	}
	defer w.cleanup()
	return w.s.push(w.ctx, w.path, w.file, w.digester.Digest(), w.size)
}

func (w *writer) Discard() error {
	if w.closed {
		return nil
	}
	w.cleanup()
	return nil
}

func (w *writer) cleanup() {
	w.closed = true
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}
