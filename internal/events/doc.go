// Package events defines the Result Event, the terminal outcome of one task
// submission, together with its wire encoding.
//
// Result events travel on a single shared result channel. Every event carries
// the identity of the submitter so that consumers can route it; the channel
// itself is never partitioned by identity.
package events
