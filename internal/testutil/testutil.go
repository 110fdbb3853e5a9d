// Package testutil provides archive and signing-service fixtures for tests.
package testutil

import (
	"bytes"
	"io"
	"slices"
	"testing"

	"github.com/klauspost/compress/zip"
)

// ZipEntry is a file placed in a test archive.
type ZipEntry struct {
	Name string
	Data []byte
}

// AppManifest is the manifest.webapp body used by AppZip.
const AppManifest = `{"name": "Test App", "launch_path": "/index.html"}`

// BuildZip writes entries, in order, into an in-memory ZIP archive.
func BuildZip(tb testing.TB, entries ...ZipEntry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.Name)
		if err != nil {
			tb.Fatalf("create %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			tb.Fatalf("write %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tb.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// AppZip returns a minimal valid packaged app.
func AppZip(tb testing.TB) []byte {
	tb.Helper()
	return BuildZip(tb,
		ZipEntry{Name: "manifest.webapp", Data: []byte(AppManifest)},
		ZipEntry{Name: "index.html", Data: []byte("<html><body>hello</body></html>")},
		ZipEntry{Name: "js/main.js", Data: []byte("console.log('hi');")},
	)
}

// ReadZip returns the entry names, in archive order, and their contents.
func ReadZip(tb testing.TB, data []byte) ([]string, map[string][]byte) {
	tb.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		tb.Fatalf("open zip: %v", err)
	}
	names := make([]string, 0, len(zr.File))
	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			tb.Fatalf("open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			tb.Fatalf("read %s: %v", f.Name, err)
		}
		names = append(names, f.Name)
		files[f.Name] = content
	}
	return names, files
}

// SortedKeys returns the keys of m in sorted order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
