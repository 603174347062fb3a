// Package event carries change notifications out of the state tree.
//
// A Bus delivers each published Event to its handlers synchronously on the
// publishing goroutine, in subscription order. Consumers that must not run
// on the publisher's goroutine take a Subscription instead, which buffers
// events in an unbounded FIFO and never blocks the publisher.
//
// Delivery order matches the order in which a single goroutine published.
// Nothing is promised about the interleaving of events published from
// different goroutines.
package event
