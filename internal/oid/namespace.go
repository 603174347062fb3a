package oid

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
	"golang.org/x/text/unicode/norm"
)

// namespaceDomainKey separates namespace hashes from every other BLAKE3
// use in the tree. Changing it renumbers every module namespace.
var namespaceDomainKey = [32]byte{
	's', 'a', 'n', 'd', 'p', 'o', 'l', 'i', 's', '.', 'o', 'i', 'd', '.',
	'n', 'a', 'm', 'e', 's', 'p', 'a', 'c', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Namespace derives the top-level tag owned by a module from its name.
// The result is stable across builds and platforms and is never 0.
//
// Collisions are possible in principle; the module set is small and
// fixed at build time.
func Namespace(module string) uint32 {
	hasher, err := blake3.NewKeyed(namespaceDomainKey[:])
	if err != nil {
		panic("oid: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(norm.NFC.String(module)))
	sum := hasher.Sum(nil)

	tag := binary.BigEndian.Uint32(sum[:4]) & MaxTag
	if tag == 0 {
		tag = 1
	}
	return tag
}

// ModuleRoot returns the Oid of the namespace document owned by module.
func ModuleRoot(module string) Oid {
	return Root().MustAppend(Namespace(module), KindDocument)
}
