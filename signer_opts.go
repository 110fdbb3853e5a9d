package appsign

import (
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	signhttp "github.com/meigma/appsign/http"
	"github.com/meigma/appsign/storage"
)

// Option configures a Signer.
type Option func(*Signer) error

// WithStorage sets the store that holds source and destination archives.
// Required.
func WithStorage(st storage.Storage) Option {
	return func(s *Signer) error {
		if st == nil {
			return errors.New("appsign: storage is nil")
		}
		s.storage = st
		return nil
	}
}

// WithClient sets the signing service client.
func WithClient(c *signhttp.Client) Option {
	return func(s *Signer) error {
		s.client = c
		return nil
	}
}

// WithLogger sets the logger. Defaults to discarding all output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Signer) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithTempDir sets the directory for temporary working files.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(s *Signer) error {
		s.tempDir = dir
		return nil
	}
}

// WithRequiredManifest sets the top-level file every archive must contain.
// Defaults to "manifest.webapp"; an empty name disables the check.
func WithRequiredManifest(name string) Option {
	return func(s *Signer) error {
		s.requiredManifest = name
		return nil
	}
}

// WithMaxFileSize limits the decompressed size of each archive entry.
// Set to 0 to disable the limit. Defaults to 256MB.
func WithMaxFileSize(limit uint64) Option {
	return func(s *Signer) error {
		s.maxFileSize = limit
		return nil
	}
}

// WithMetrics registers signing metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Signer) error {
		m, err := newMetrics(reg)
		if err != nil {
			return err
		}
		s.metrics = m
		return nil
	}
}
