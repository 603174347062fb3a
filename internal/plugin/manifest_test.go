package plugin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandpolis/sandpolis/internal/testutil"
)

func TestParseManifest_ContinuationLines(t *testing.T) {
	text := "Manifest-Version: 1.0\r\n" +
		"Plugin-Id: com.example.snapshot\r\n" +
		"Plugin-Description: Takes periodic snapshots of the remote des\r\n" +
		" ktop and stores them\r\n" +
		"  in the profile\r\n" +
		"\r\n" +
		"Name: ignored/Section.class\r\n" +
		"Plugin-Id: not.this.one\r\n"

	m, err := ParseManifest(strings.NewReader(text))
	require.NoError(t, err)

	assert.Equal(t, "com.example.snapshot", m.ID)
	assert.Equal(t, "Takes periodic snapshots of the remote desktop and stores them in the profile", m.Description)
	assert.Equal(t, "1.0", m.Attributes["Manifest-Version"])
	assert.NotContains(t, m.Attributes, "Name")
	assert.Nil(t, m.Certificate)
}

func TestParseManifest_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"missing id", "Plugin-Name: thing\n", "Plugin-Id is required"},
		{"continuation first", " dangling\n", "continuation without header on line 1"},
		{"malformed header", "Plugin-Id: a\nno separator\n", "malformed header on line 2"},
		{"bad certificate", "Plugin-Id: a\nPlugin-Certificate: !!!\n", "Plugin-Certificate"},
		{"invalid utf-8 name", "Plugin-Id: a\nPlugin-Name: a\xffb\n", `"Plugin-Name" is not valid UTF-8`},
		{"invalid utf-8 at end", "Plugin-Id: a\nPlugin-Description: x\xc3\n", `"Plugin-Description" is not valid UTF-8`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest(strings.NewReader(tt.text))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrManifestKey)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseManifest_RuneSplitAcrossLines(t *testing.T) {
	// "ü" is 0xc3 0xbc; the wrap falls between the two bytes.
	text := "Plugin-Id: a\nPlugin-Name: gr\xc3\n \xbcße\n"

	m, err := ParseManifest(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, "grüße", m.Name)
}

func TestReadManifest_WrappedArtifact(t *testing.T) {
	cert := testutil.SelfSignedCertificate(t, "plugins.example.com")
	spec := testutil.ArtifactSpec{
		ID:          "com.example.wrapped",
		Name:        "Wrapped",
		Version:     "2.0.1",
		PackageID:   "com.example",
		Description: strings.Repeat("long description ", 12),
		Certificate: cert.DER,
	}
	path := testutil.WriteArtifact(t, t.TempDir(), "sandpolis-plugin-wrapped.jar", spec)

	m, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, spec.ID, m.ID)
	assert.Equal(t, spec.Name, m.Name)
	assert.Equal(t, spec.Version, m.Version)
	assert.Equal(t, spec.PackageID, m.PackageID)
	assert.Equal(t, spec.Description, m.Description)
	assert.Equal(t, cert.DER, m.Certificate)

	id, err := ReadID(path)
	require.NoError(t, err)
	assert.Equal(t, spec.ID, id)
}

func TestReadManifest_NoManifest(t *testing.T) {
	path := testutil.WriteArtifact(t, t.TempDir(), "sandpolis-plugin-empty.jar", testutil.ArtifactSpec{
		OmitManifest: true,
		Files:        map[string][]byte{"README": []byte("nothing here")},
	})

	_, err := ReadManifest(path)
	assert.ErrorIs(t, err, ErrNoManifest)
}
