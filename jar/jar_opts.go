package jar

// Option configures an Extractor.
type Option func(*Extractor)

// WithIDs embeds the serialized package identity as META-INF/ids.json.
// The identity is listed in the manifest and therefore covered by the signature.
func WithIDs(ids []byte) Option {
	return func(e *Extractor) {
		if ids == nil {
			return
		}
		e.ids = append([]byte(nil), ids...)
	}
}

// WithOmitSignatureSections drops the per-file sections from the signature
// file, leaving only the whole-manifest digests. Useful for very large archives.
func WithOmitSignatureSections(omit bool) Option {
	return func(e *Extractor) {
		e.omitSections = omit
	}
}

// WithRequiredManifest sets the top-level entry every archive must contain.
// An empty name disables the check. Defaults to DefaultRequiredManifest.
func WithRequiredManifest(name string) Option {
	return func(e *Extractor) {
		e.required = name
	}
}

// WithMaxFileSize limits the decompressed size of each entry.
// Set to 0 to disable the limit. Defaults to 256MB.
func WithMaxFileSize(limit uint64) Option {
	return func(e *Extractor) {
		e.maxFileSize = limit
	}
}
