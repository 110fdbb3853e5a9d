package appsign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/opencontainers/go-digest"

	signhttp "github.com/meigma/appsign/http"
	"github.com/meigma/appsign/internal/fileops"
	"github.com/meigma/appsign/jar"
	"github.com/meigma/appsign/storage"
)

// Result describes the artifact written by SignApp.
type Result struct {
	// Path is the destination path.
	Path string

	// Signed is false when no endpoint was active and the source was copied as is.
	Signed bool

	// Digest and Size describe the bytes written to Path.
	Digest digest.Digest
	Size   int64
}

// Signer runs the signing pipeline: extract the signature manifest, submit it
// to the signing service, merge the returned signature and write the signed
// archive to its destination.
//
// A Signer holds no per-invocation state and is safe for concurrent use.
// Concurrent invocations targeting the same destination are not serialized;
// callers must ensure one attempt per artifact at a time.
type Signer struct {
	cfg              Config
	storage          storage.Storage
	client           *signhttp.Client
	logger           *slog.Logger
	tempDir          string
	requiredManifest string
	maxFileSize      uint64
	metrics          *metrics
}

// NewSigner creates a Signer for cfg.
func NewSigner(cfg Config, opts ...Option) (*Signer, error) {
	s := &Signer{
		cfg:              cfg,
		logger:           slog.New(slog.DiscardHandler),
		requiredManifest: jar.DefaultRequiredManifest,
		maxFileSize:      fileops.DefaultMaxFileSize,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.storage == nil {
		return nil, errors.New("appsign: storage is required")
	}
	if s.client == nil {
		s.client = signhttp.NewClient()
	}
	return s, nil
}

// SignApp signs the archive at src and writes the result to dest.
//
// When the selected endpoint is inactive the source is copied to dest
// unchanged and Result.Signed is false. Otherwise the signed archive is
// assembled in a temp file that is removed on every exit path, and dest is
// written only once the signature has been merged.
func (s *Signer) SignApp(ctx context.Context, src, dest string, ids Identity, reviewer bool) (Result, error) {
	ep, err := s.cfg.Endpoint(reviewer)
	if err != nil {
		s.logger.Error("invalid signing configuration", slog.Bool("reviewer", reviewer), slog.Any("error", err))
		return Result{}, err
	}
	if !ep.Active {
		return s.copyUnsigned(ctx, src, dest)
	}

	start := time.Now()
	res, err := s.signRemote(ctx, ep, src, dest, ids)
	s.metrics.observe(ep.Kind, outcome(err), time.Since(start))
	return res, err
}

func (s *Signer) signRemote(ctx context.Context, ep ResolvedEndpoint, src, dest string, ids Identity) (Result, error) {
	tmp, err := os.CreateTemp(s.tempDir, "appsign-*.zip")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create temp file: %w", ErrSigning, err)
	}
	defer s.removeTemp(tmp)

	spool, err := os.CreateTemp(s.tempDir, "appsign-src-*.zip")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create temp file: %w", ErrSigning, err)
	}
	defer s.removeTemp(spool)

	ext, err := s.extract(ctx, src, spool, ids)
	if err != nil {
		s.logger.Error("archive extraction failed, bad archive?", slog.String("src", src), slog.Any("error", err))
		return Result{}, err
	}

	sf := ext.Signatures()
	s.logger.Debug("app signature contents", slog.String("src", src), slog.String("signatures", string(sf)))
	s.logger.Info("calling signing service", slog.String("endpoint", ep.URL), slog.String("kind", ep.Kind))

	pkcs7, err := s.client.Sign(ctx, ep.URL, ep.Timeout, sf)
	if err != nil {
		s.logger.Error("posting to app signing failed", slog.String("endpoint", ep.URL), slog.Any("error", err))
		return Result{}, fmt.Errorf("%w: posting to app signing failed: %w", ErrSigning, err)
	}

	if err := ext.MakeSigned(tmp, pkcs7); err != nil {
		s.logger.Error("app signing failed", slog.String("src", src), slog.Any("error", err))
		return Result{}, fmt.Errorf("%w: app signing failed: %w", ErrSigning, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("%w: rewind temp file: %w", ErrSigning, err)
	}

	d, n, err := storage.Copy(ctx, s.storage, dest, tmp)
	if err != nil {
		s.logger.Error("writing signed app failed", slog.String("dest", dest), slog.Any("error", err))
		return Result{}, fmt.Errorf("%w: write %s: %w", ErrSigning, dest, err)
	}
	s.logger.Info("app signed", slog.String("dest", dest), slog.String("digest", d.String()))
	return Result{Path: dest, Signed: true, Digest: d, Size: n}, nil
}

// extract spools the source archive into spool and builds its signature
// manifest. spool must stay open until the archive has been assembled.
func (s *Signer) extract(ctx context.Context, src string, spool *os.File, ids Identity) (*jar.Extractor, error) {
	idsJSON, err := ids.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: encode identity: %w", ErrSigning, err)
	}

	rc, err := s.storage.Open(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: open %s: %w", ErrSigning, ErrExtraction, src, err)
	}
	defer rc.Close()
	size, err := io.Copy(spool, rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: read %s: %w", ErrSigning, ErrExtraction, src, err)
	}

	ext, err := jar.NewExtractor(spool, size,
		jar.WithIDs(idsJSON),
		jar.WithOmitSignatureSections(s.cfg.OmitPerFileSignatures),
		jar.WithRequiredManifest(s.requiredManifest),
		jar.WithMaxFileSize(s.maxFileSize),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrSigning, ErrExtraction, err)
	}
	return ext, nil
}

// copyUnsigned keeps environments without a signing service working by
// copying the source to the destination as is.
func (s *Signer) copyUnsigned(ctx context.Context, src, dest string) (Result, error) {
	s.logger.Info("not signing the app, no signing server is active", slog.String("src", src), slog.String("dest", dest))

	rc, err := s.storage.Open(ctx, src)
	if err != nil {
		return Result{}, fmt.Errorf("%w: open %s: %w", ErrSigning, src, err)
	}
	defer rc.Close()

	d, n, err := storage.Copy(ctx, s.storage, dest, rc)
	if err != nil {
		return Result{}, fmt.Errorf("%w: copy %s to %s: %w", ErrSigning, src, dest, err)
	}
	s.metrics.unsignedCopy()
	return Result{Path: dest, Signed: false, Digest: d, Size: n}, nil
}

func (s *Signer) removeTemp(f *os.File) {
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("removing temp file failed", slog.String("path", f.Name()), slog.Any("error", err))
	}
}
