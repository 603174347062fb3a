package plugin

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
)

// ManifestPath is the archive entry holding the manifest.
const ManifestPath = "META-INF/MANIFEST.MF"

// Manifest keys read from plugin artifacts.
const (
	KeyID          = "Plugin-Id"
	KeyName        = "Plugin-Name"
	KeyVersion     = "Plugin-Version"
	KeyPackage     = "Plugin-Package"
	KeyDescription = "Plugin-Description"
	KeyCertificate = "Plugin-Certificate"
)

var (
	// ErrNoManifest is returned for artifacts without a manifest entry.
	ErrNoManifest = errors.New("plugin: artifact has no manifest")

	// ErrManifestKey is returned when a required manifest key is missing
	// or malformed.
	ErrManifestKey = errors.New("plugin: bad manifest key")
)

// Manifest is the parsed main section of an artifact manifest.
type Manifest struct {
	ID          string
	Name        string
	Version     string
	PackageID   string
	Description string
	Certificate []byte // DER, nil when unsigned

	// Attributes holds every main-section key, including the above.
	Attributes map[string]string
}

// ReadManifest opens the artifact at path and parses its manifest.
func ReadManifest(path string) (*Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != ManifestPath {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open manifest of %s: %w", path, err)
		}
		defer rc.Close()

		m, err := ParseManifest(rc)
		if err != nil {
			return nil, fmt.Errorf("manifest of %s: %w", path, err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoManifest, path)
}

// ReadID returns only the Plugin-Id of the artifact at path.
func ReadID(path string) (string, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return "", err
	}
	return m.ID, nil
}

// ParseManifest parses the main section of a JAR manifest. A line that
// starts with a single space continues the previous value.
func ParseManifest(r io.Reader) (*Manifest, error) {
	attrs, err := parseMainSection(r)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		ID:          attrs[KeyID],
		Name:        attrs[KeyName],
		Version:     attrs[KeyVersion],
		PackageID:   attrs[KeyPackage],
		Description: attrs[KeyDescription],
		Attributes:  attrs,
	}
	if m.ID == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrManifestKey, KeyID)
	}
	if encoded := attrs[KeyCertificate]; encoded != "" {
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrManifestKey, KeyCertificate, err)
		}
		m.Certificate = der
	}
	return m, nil
}

func parseMainSection(r io.Reader) (map[string]string, error) {
	attrs := make(map[string]string)
	scanner := bufio.NewScanner(r)

	var key string
	var value strings.Builder
	// Wrapping may split a multibyte rune, so values are checked whole.
	flush := func() error {
		if key != "" {
			v := value.String()
			if !utf8.ValidString(key) || !utf8.ValidString(v) {
				return fmt.Errorf("%w: %q is not valid UTF-8", ErrManifestKey, key)
			}
			attrs[key] = v
		}
		key = ""
		value.Reset()
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSuffix(scanner.Text(), "\r")
		if text == "" {
			// The main section ends at the first blank line.
			break
		}
		if strings.HasPrefix(text, " ") {
			if key == "" {
				return nil, fmt.Errorf("%w: continuation without header on line %d", ErrManifestKey, line)
			}
			value.WriteString(text[1:])
			continue
		}

		name, v, ok := strings.Cut(text, ": ")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: malformed header on line %d", ErrManifestKey, line)
		}
		if err := flush(); err != nil {
			return nil, err
		}
		key = name
		value.WriteString(v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return attrs, nil
}
