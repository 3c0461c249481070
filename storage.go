package ocrsched

import "context"

// KeyValueStore is the durable string↔string store behind quota counters and
// cache entries. Implementations live in store/ (in-memory, Redis, Postgres).
//
// The contract is deliberately get/set/remove only: quota records are written
// whole, and concurrent writers resolve as last-writer-wins. Store failures
// must never block a user request; callers log and degrade to memory-only.
type KeyValueStore interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}
