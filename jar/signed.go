package jar

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/meigma/appsign/internal/fileops"
)

// MakeSigned writes a signed copy of the archive to w.
//
// The PKCS#7 blob is written first so clients can start verifying before the
// rest of the archive arrives. The original entries follow, minus any prior
// signature material, and the manifest, signature file and identity close the
// archive.
func (e *Extractor) MakeSigned(w io.Writer, pkcs7 []byte) error {
	if len(pkcs7) == 0 {
		return ErrEmptySignature
	}

	zw := zip.NewWriter(w)
	if err := writeEntry(zw, "META-INF/"+SignatureName+".rsa", pkcs7); err != nil {
		return err
	}

	for _, f := range e.zr.File {
		if excluded(f.Name) {
			continue
		}
		if err := copyEntry(zw, f, e.maxFileSize); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}

	if err := writeEntry(zw, ManifestPath, e.manifest); err != nil {
		return err
	}
	if err := writeEntry(zw, "META-INF/"+SignatureName+".sf", e.signatures); err != nil {
		return err
	}
	if e.ids != nil {
		if err := writeEntry(zw, IDsPath, e.ids); err != nil {
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func copyEntry(zw *zip.Writer, f *zip.File, limit uint64) error {
	hdr := &zip.FileHeader{
		Name:     f.Name,
		Comment:  f.Comment,
		Method:   zip.Deflate,
		Modified: f.Modified,
	}
	hdr.SetMode(f.Mode())
	if strings.HasSuffix(f.Name, "/") {
		hdr.Method = zip.Store
		_, err := zw.CreateHeader(hdr)
		return err
	}

	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = fileops.CopyLimited(fw, rc, limit)
	return err
}
