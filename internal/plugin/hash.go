package plugin

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// HashSize is the length of an artifact hash in bytes.
const HashSize = 32

// artifactDomainKey separates artifact hashes from every other BLAKE3
// use in the tree. It is the BLAKE3 hash of "sandpolis.plugin.artifact".
var artifactDomainKey = blake3.Sum256([]byte("sandpolis.plugin.artifact"))

// HashArtifact returns the keyed BLAKE3 hash of the file at path.
func HashArtifact(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hash artifact: %w", err)
	}
	defer f.Close()

	hasher, err := blake3.NewKeyed(artifactDomainKey[:])
	if err != nil {
		return nil, fmt.Errorf("hash artifact: %w", err)
	}
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, fmt.Errorf("hash artifact %s: %w", path, err)
	}
	return hasher.Sum(nil), nil
}

// VerifyHash reports whether the artifact at path still matches want.
func VerifyHash(path string, want []byte) (bool, error) {
	got, err := HashArtifact(path)
	if err != nil {
		return false, err
	}
	return bytes.Equal(got, want), nil
}
