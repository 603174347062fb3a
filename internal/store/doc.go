// Package store binds a state.Collection to a typed view.
//
// A Store caches the views it created or was asked to remove, keyed by
// document tag. Views of documents that reached the collection some other
// way, for example through a merge, are constructed on demand and not
// cached; equality of views is equality of their documents, so transient
// wrappers are safe.
package store
