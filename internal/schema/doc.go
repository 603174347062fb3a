// Package schema describes the shape of a module's state tree: which
// attributes, sub-documents, collections and relations each document
// has, and at which tags.
//
// Schemas are written in CUE and compiled with Compile, LoadDir or
// ParseCUE. Build validates the structural invariants (no tag 0, no
// duplicate tags or names, known attribute types, resolvable document
// references) once, so the tree never checks them on the hot path.
//
// A compiled Document implements oid.Node and is used to resolve human
// paths to Oids and to describe Oids as human paths.
package schema
