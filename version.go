package appsign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// Package is the view of an app version the signing task needs.
type Package struct {
	// GUID is the stable app identifier.
	GUID string `json:"guid"`

	// VersionID is the version's primary key.
	VersionID int64 `json:"version_id"`

	// Packaged is false for hosted apps, which cannot be signed.
	Packaged bool `json:"packaged"`

	// FilePath is the uploaded archive. Empty when the version has no file.
	FilePath string `json:"file_path"`

	// SignedFilePath and SignedReviewerFilePath are the public and reviewer
	// destinations.
	SignedFilePath         string `json:"signed_file_path"`
	SignedReviewerFilePath string `json:"signed_reviewer_file_path"`
}

// Destination returns the signed path for the reviewer or public build.
func (p Package) Destination(reviewer bool) string {
	if reviewer {
		return p.SignedReviewerFilePath
	}
	return p.SignedFilePath
}

// Identity returns the identity embedded when signing p.
// Reviewer identities are namespaced by GUID and version so reviewer installs
// collide neither with the public app nor with other versions.
func (p Package) Identity(reviewer bool) Identity {
	version := strconv.FormatInt(p.VersionID, 10)
	if reviewer {
		return ReviewerIdentity(p.GUID, version)
	}
	return PublicIdentity(p.GUID, version)
}

// SignVersion signs a version's archive and returns the signed path.
//
// An existing signed file is returned as is unless SignWithResign is set.
// If signing fails, anything at the destination is deleted before the error
// is returned.
func (s *Signer) SignVersion(ctx context.Context, pkg Package, opts ...SignOption) (string, error) {
	cfg := signConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := s.logger.With(slog.String("app", pkg.GUID), slog.Int64("version", pkg.VersionID), slog.Bool("reviewer", cfg.reviewer))
	logger.Info("signing version")

	if !pkg.Packaged {
		logger.Error("attempt to sign a non-packaged app")
		return "", fmt.Errorf("%w: %w", ErrSigning, ErrNotPackaged)
	}
	if pkg.FilePath == "" {
		logger.Error("attempt to sign an app with no files in version")
		return "", fmt.Errorf("%w: %w", ErrSigning, ErrNoFile)
	}
	if pkg.VersionID == 0 {
		logger.Error("attempt to sign an app without a version")
		return "", fmt.Errorf("%w: %w", ErrSigning, ErrNoVersion)
	}

	path := pkg.Destination(cfg.reviewer)
	if path == "" {
		return "", fmt.Errorf("%w: no destination path", ErrConfiguration)
	}

	if !cfg.resign {
		exists, err := s.storage.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("%w: check %s: %w", ErrSigning, path, err)
		}
		if exists {
			logger.Info("already signed app exists", slog.String("path", path))
			return path, nil
		}
	}

	if _, err := s.SignApp(ctx, pkg.FilePath, path, pkg.Identity(cfg.reviewer), cfg.reviewer); err != nil {
		logger.Info("signing failed", slog.Any("error", err))
		if errors.Is(err, ErrSigning) {
			s.deleteDestination(ctx, logger, path)
		}
		return "", err
	}
	logger.Info("signing complete", slog.String("path", path))
	return path, nil
}

func (s *Signer) deleteDestination(ctx context.Context, logger *slog.Logger, path string) {
	exists, err := s.storage.Exists(ctx, path)
	if err != nil || !exists {
		return
	}
	if err := s.storage.Delete(ctx, path); err != nil {
		logger.Warn("removing failed signed file", slog.String("path", path), slog.Any("error", err))
	}
}
