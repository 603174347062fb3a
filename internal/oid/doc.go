// Package oid implements the hierarchical object identifiers that address
// every node of the state tree.
//
// An Oid is a sequence of components. Each component packs a tag and a
// 2-bit node kind as (tag << 2) | kind. Tag 0 is reserved at every level.
//
// The dotted decimal form ("4.8.13") is the compact wire and storage
// form. Human paths ("/profile/plugin/3/name") are mapped onto Oids by
// Resolve with the help of a schema Node.
package oid
