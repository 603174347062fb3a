package testutil

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

// ManifestPath is where plugin artifacts carry their manifest.
const ManifestPath = "META-INF/MANIFEST.MF"

// ArtifactSpec describes a plugin artifact to write with WriteArtifact.
type ArtifactSpec struct {
	ID          string
	Name        string
	Version     string
	PackageID   string
	Description string
	Certificate []byte // DER

	// Files are extra entries keyed by path inside the archive.
	Files map[string][]byte

	// OmitManifest writes an archive without META-INF/MANIFEST.MF.
	OmitManifest bool
}

// WriteArtifact writes a JAR-style plugin archive to dir/filename and
// returns its path. Manifest lines are wrapped at 72 bytes with
// continuation lines, as jar tooling does.
func WriteArtifact(t testing.TB, dir, filename string, spec ArtifactSpec) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create artifact: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	if !spec.OmitManifest {
		w, err := zw.Create(ManifestPath)
		if err != nil {
			t.Fatalf("create manifest entry: %v", err)
		}
		if _, err := w.Write([]byte(Manifest(spec))); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
	}
	for name, content := range spec.Files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close artifact: %v", err)
	}
	return path
}

// Manifest renders the manifest text for spec.
func Manifest(spec ArtifactSpec) string {
	var b strings.Builder
	writeManifestLine(&b, "Manifest-Version", "1.0")
	pairs := []struct{ key, value string }{
		{"Plugin-Id", spec.ID},
		{"Plugin-Name", spec.Name},
		{"Plugin-Version", spec.Version},
		{"Plugin-Package", spec.PackageID},
		{"Plugin-Description", spec.Description},
	}
	for _, p := range pairs {
		if p.value != "" {
			writeManifestLine(&b, p.key, p.value)
		}
	}
	if len(spec.Certificate) > 0 {
		writeManifestLine(&b, "Plugin-Certificate", base64.StdEncoding.EncodeToString(spec.Certificate))
	}
	b.WriteString("\r\n")
	return b.String()
}

func writeManifestLine(b *strings.Builder, key, value string) {
	line := key + ": " + value
	const width = 72
	first := true
	for len(line) > 0 {
		limit := width
		if !first {
			b.WriteByte(' ')
			limit = width - 1
		}
		n := min(limit, len(line))
		b.WriteString(line[:n])
		b.WriteString("\r\n")
		line = line[n:]
		first = false
	}
}
