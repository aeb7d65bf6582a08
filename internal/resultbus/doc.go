// Package resultbus wraps a publish/subscribe broker connection.
//
// Two implementations satisfy Bus: RedisBus, backed by go-redis, and
// MemoryBus, an in-process broker used for standalone deployments and tests.
// Both deliver messages per subscriber in publish order and both expose a
// bounded, cancellable receive so that listeners never busy-spin.
package resultbus
