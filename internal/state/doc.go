// Package state implements the state tree: a hierarchy of documents,
// collections and attributes addressed by oid.Oid.
//
// Children are created on first access. An Attribute holds a current
// value, an optional retention policy and the history that policy keeps.
// Any subtree can be converted to a snapshot and merged into another
// tree; the per-attribute CBOR form of a snapshot is stable across
// round trips.
//
// A Tree is the context object shared by every node: it supplies the
// clock used to stamp values, the bus that receives AttributeChanged
// events and the retention policy applied to new attributes.
package state
