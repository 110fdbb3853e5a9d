package oci

// Option configures a Storage.
type Option func(*Storage)

// WithTempDir sets where archives are spooled before upload.
// Defaults to os.TempDir().
func WithTempDir(dir string) Option {
	return func(s *Storage) {
		s.tempDir = dir
	}
}
