package jar

import (
	"bytes"
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// maxLineLen is the JAR manifest line limit; longer lines continue on the
// next line after a single space.
const maxLineLen = 72

// renderSection renders one manifest section without a trailing blank line.
func renderSection(name string, md5sum, sha1sum []byte) string {
	var b strings.Builder
	b.WriteString(wrapLine("Name: " + name))
	b.WriteString("Digest-Algorithms: MD5 SHA1\n")
	b.WriteString("MD5-Digest: " + base64.StdEncoding.EncodeToString(md5sum) + "\n")
	b.WriteString("SHA1-Digest: " + base64.StdEncoding.EncodeToString(sha1sum) + "\n")
	return b.String()
}

// wrapLine splits line into maxLineLen-byte lines, continuation lines
// starting with a single space. Cuts never split a UTF-8 sequence.
func wrapLine(line string) string {
	var b strings.Builder
	limit := maxLineLen
	for len(line) > limit {
		cut := limit
		for cut > 1 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		b.WriteString(line[:cut])
		b.WriteString("\n ")
		line = line[cut:]
		limit = maxLineLen - 1
	}
	b.WriteString(line)
	b.WriteString("\n")
	return b.String()
}

func renderManifest(sections []string) []byte {
	var b bytes.Buffer
	b.WriteString("Manifest-Version: 1.0\n\n")
	b.WriteString(strings.Join(sections, "\n"))
	return b.Bytes()
}

// renderSignature renders the signature file. Each signature section carries
// the digests of the corresponding manifest section text.
func renderSignature(manifest []byte, names, sections []string, omitSections bool) []byte {
	md5sum, sha1sum := sum(manifest)

	var b bytes.Buffer
	b.WriteString("Signature-Version: 1.0\n")
	b.WriteString("MD5-Digest-Manifest: " + base64.StdEncoding.EncodeToString(md5sum) + "\n")
	b.WriteString("SHA1-Digest-Manifest: " + base64.StdEncoding.EncodeToString(sha1sum) + "\n")
	b.WriteString("\n")
	if omitSections {
		return b.Bytes()
	}

	sigSections := make([]string, len(sections))
	for i, section := range sections {
		m, s := sum([]byte(section))
		sigSections[i] = renderSection(names[i], m, s)
	}
	b.WriteString(strings.Join(sigSections, "\n"))
	return b.Bytes()
}
