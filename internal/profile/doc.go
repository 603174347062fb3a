// Package profile holds the per-instance profiles of the state tree.
//
// A profile lives at /profile/<tag> under the core namespace document.
// It carries the instance metadata and owns the instance's plugin and
// user collections.
package profile
