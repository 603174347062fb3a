// Package instance assembles the runtime of one Sandpolis instance.
//
// An Instance owns the state tree, the event bus, the checkpoint journal
// and the stores bound to the local profile. Construct it once at startup
// with New and release it with Close.
package instance
