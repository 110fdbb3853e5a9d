// Package fileops provides bounded, digesting reads of archive entries.
package fileops

import (
	"errors"
	"fmt"
	"hash"
	"io"
)

// DefaultMaxFileSize is the default per-entry limit (256MB).
const DefaultMaxFileSize = 256 << 20

// ErrSizeOverflow is returned when an entry is larger than the limit.
var ErrSizeOverflow = errors.New("size exceeds limit")

// HashingReader wraps an io.Reader and feeds every byte read to a set of hashes.
type HashingReader struct {
	r  io.Reader
	hs []hash.Hash
}

// NewHashingReader creates a reader that computes hs while reading.
func NewHashingReader(r io.Reader, hs ...hash.Hash) *HashingReader {
	return &HashingReader{r: r, hs: hs}
}

// Read implements io.Reader.
func (hr *HashingReader) Read(p []byte) (int, error) {
	n, err := hr.r.Read(p)
	if n > 0 {
		for _, h := range hr.hs {
			_, _ = h.Write(p[:n]) //nolint:errcheck // hash writes never fail
		}
	}
	return n, err
}

// Sums returns the sums computed so far, in the order the hashes were given.
func (hr *HashingReader) Sums() [][]byte {
	sums := make([][]byte, len(hr.hs))
	for i, h := range hr.hs {
		sums[i] = h.Sum(nil)
	}
	return sums
}

// CopyLimited copies r to w and fails with ErrSizeOverflow if r holds more
// than limit bytes. A zero limit disables the check.
func CopyLimited(w io.Writer, r io.Reader, limit uint64) (int64, error) {
	if limit == 0 {
		return io.Copy(w, r)
	}
	n, err := io.Copy(w, io.LimitReader(r, int64(min(limit, uint64(1<<63-1)))))
	if err != nil {
		return n, err
	}
	if err := EnsureNoExtra(r); err != nil {
		return n, fmt.Errorf("%w: more than %d bytes", err, limit)
	}
	return n, nil
}

// EnsureNoExtra reads from r and returns an error if any data is available.
func EnsureNoExtra(r io.Reader) error {
	var scratch [1]byte
	n, err := r.Read(scratch[:])
	if n > 0 {
		return ErrSizeOverflow
	}
	if err == io.EOF {
		return nil
	}
	return err
}
