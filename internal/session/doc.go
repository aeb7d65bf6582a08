// Package session routes result events to connected clients.
//
// Every admitted connection becomes a Session with its own subscription to
// the shared result channel and its own listener goroutine. The listener
// forwards an event only when the event's user_id equals the session's
// identity. Sessions register in a Hub, a concurrency-safe registry keyed by
// group name and connection id.
//
// Teardown runs in a fixed order: cancel the listener and wait for it,
// release the subscription, leave the group, close the transport.
package session
