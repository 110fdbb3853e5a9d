// Package storage defines the capability the signing pipeline needs from an
// artifact store: open for read, create for write, existence checks, delete.
//
// Backends live in subpackages: storage/local for a filesystem tree,
// storage/memory for tests, storage/s3 for AWS S3 buckets and storage/oci
// for OCI registries.
package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/opencontainers/go-digest"
)

// ErrNotExist is returned by Open when nothing is stored at the path.
var ErrNotExist = fs.ErrNotExist

// Storage is an artifact store addressed by slash-separated paths.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Open returns a reader for the content at path, or ErrNotExist.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Create returns a writer for path. Nothing becomes visible at path
	// until Commit succeeds; Discard abandons the write.
	Create(ctx context.Context, path string) (Writer, error)

	// Exists reports whether content is stored at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the content at path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
}

// Writer is a pending write. Exactly one of Commit or Discard must be called.
type Writer interface {
	io.Writer
	Commit() error
	Discard() error
}

// Copy streams r into path on dst and commits it.
//
// On any failure the pending write is discarded, so path keeps whatever it
// held before the call. Returns the digest and size of the written content.
func Copy(ctx context.Context, dst Storage, path string, r io.Reader) (digest.Digest, int64, error) {
	w, err := dst.Create(ctx, path)
	if err != nil {
		return "", 0, err
	}

	digester := digest.Canonical.Digester()
	n, err := io.Copy(io.MultiWriter(w, digester.Hash()), r)
	if err != nil {
		return "", 0, errors.Join(err, w.Discard())
	}
	if err := w.Commit(); err != nil {
		return "", 0, err
	}
	return digester.Digest(), n, nil
}
