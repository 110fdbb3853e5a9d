// Package jar builds JAR-style signature manifests for packaged app archives
// and reassembles archives once the signing service has returned a PKCS#7
// signature.
//
// An [Extractor] walks the archive once, digesting every entry. The digests are
// rendered as META-INF/manifest.mf; the signature file (zigbert.sf) carries
// digests of the manifest and is the payload sent for signing. [Extractor.MakeSigned]
// writes a new archive with the returned signature and both manifests injected.
package jar

import (
	"crypto/md5"  //nolint:gosec // part of the manifest format
	"crypto/sha1" //nolint:gosec // part of the manifest format
	"errors"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/meigma/appsign/internal/fileops"
)

// Well-known archive paths.
const (
	// ManifestPath is the archive path of the per-file digest manifest.
	ManifestPath = "META-INF/manifest.mf"

	// IDsPath is the archive path of the embedded package identity.
	IDsPath = "META-INF/ids.json"

	// SignatureName is the base name of the signature file and PKCS#7 blob.
	SignatureName = "zigbert"

	// DefaultRequiredManifest is the top-level app manifest every package must carry.
	DefaultRequiredManifest = "manifest.webapp"
)

// Sentinel errors returned by the extractor and assembler.
var (
	// ErrBadArchive is returned when the input is not a readable ZIP container.
	ErrBadArchive = errors.New("jar: bad archive")

	// ErrMissingManifest is returned when the required top-level manifest is absent.
	ErrMissingManifest = errors.New("jar: missing required manifest")

	// ErrEmptySignature is returned by MakeSigned when no signature bytes are given.
	ErrEmptySignature = errors.New("jar: empty signature")

	// ErrEntryTooLarge is returned, wrapped in ErrBadArchive, when an entry
	// decompresses to more than the configured limit.
	ErrEntryTooLarge = fileops.ErrSizeOverflow
)

// signatureFileRe matches signature material from earlier signing passes.
var signatureFileRe = regexp.MustCompile(`(?i)^META-INF/[^/]+\.(sf|rsa|dsa|mf)$`)

// Digest holds the manifest digests of a single archive entry.
type Digest struct {
	Name string
	MD5  []byte
	SHA1 []byte
}

// Extractor holds the manifest structure of a source archive.
//
// The reader passed to NewExtractor must stay readable until MakeSigned
// returns; the extractor re-reads entries from it when assembling.
type Extractor struct {
	zr           *zip.Reader
	ids          []byte
	omitSections bool
	required     string
	maxFileSize  uint64

	files      []Digest
	manifest   []byte
	signatures []byte
}

// NewExtractor opens the archive and computes its manifest and signature file.
//
// Returns ErrBadArchive if r is not a ZIP container or an entry cannot be
// read, and ErrMissingManifest if the required top-level manifest is absent.
func NewExtractor(r io.ReaderAt, size int64, opts ...Option) (*Extractor, error) {
	e := &Extractor{required: DefaultRequiredManifest, maxFileSize: fileops.DefaultMaxFileSize}
	for _, opt := range opts {
		opt(e)
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadArchive, err)
	}
	e.zr = zr

	if e.required != "" && !e.hasEntry(e.required) {
		return nil, fmt.Errorf("%w: %s", ErrMissingManifest, e.required)
	}

	if err := e.digestEntries(); err != nil {
		return nil, err
	}

	names := make([]string, len(e.files))
	sections := make([]string, len(e.files))
	for i, d := range e.files {
		names[i] = d.Name
		sections[i] = renderSection(d.Name, d.MD5, d.SHA1)
	}
	e.manifest = renderManifest(sections)
	e.signatures = renderSignature(e.manifest, names, sections, e.omitSections)
	return e, nil
}

// Files returns the digests of every entry listed in the manifest, sorted by name.
func (e *Extractor) Files() []Digest {
	return slices.Clone(e.files)
}

// Manifest returns the META-INF/manifest.mf contents.
func (e *Extractor) Manifest() []byte {
	return slices.Clone(e.manifest)
}

// Signatures returns the signature file contents; this is the payload sent to
// the signing service.
func (e *Extractor) Signatures() []byte {
	return slices.Clone(e.signatures)
}

func (e *Extractor) hasEntry(name string) bool {
	for _, f := range e.zr.File {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (e *Extractor) digestEntries() error {
	entries := slices.Clone(e.zr.File)
	slices.SortFunc(entries, func(a, b *zip.File) int {
		return strings.Compare(a.Name, b.Name)
	})

	files := make([]Digest, 0, len(entries)+1)
	for _, f := range entries {
		if excluded(f.Name) || strings.HasSuffix(f.Name, "/") {
			continue
		}
		d, err := e.digestEntry(f)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBadArchive, f.Name, err)
		}
		files = append(files, d)
	}
	if e.ids != nil {
		md5sum, sha1sum := sum(e.ids)
		files = append(files, Digest{Name: IDsPath, MD5: md5sum, SHA1: sha1sum})
	}
	e.files = files
	return nil
}

func (e *Extractor) digestEntry(f *zip.File) (Digest, error) {
	if e.maxFileSize > 0 && f.UncompressedSize64 > e.maxFileSize {
		return Digest{}, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return Digest{}, err
	}
	defer rc.Close()

	hr := fileops.NewHashingReader(rc, md5.New(), sha1.New())
	if _, err := fileops.CopyLimited(io.Discard, hr, e.maxFileSize); err != nil {
		return Digest{}, err
	}
	sums := hr.Sums()
	return Digest{Name: f.Name, MD5: sums[0], SHA1: sums[1]}, nil
}

func sum(data []byte) (md5sum, sha1sum []byte) {
	m := md5.Sum(data)
	s := sha1.Sum(data)
	return m[:], s[:]
}

// excluded reports whether name is signature material that must not be
// listed in the manifest or carried into the signed archive.
func excluded(name string) bool {
	return name == IDsPath || signatureFileRe.MatchString(name)
}
