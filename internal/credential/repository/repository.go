// Package repository persists named credential slots. A slot holds one opaque string.
package repository

import "context"

// Repository is the persistent key/value slot store behind the credential Store.
type Repository interface {
	// Get returns the value for slot. ok is false when the slot is empty; err is set only for storage failures.
	Get(ctx context.Context, slot string) (value string, ok bool, err error)
	// Put stores value under slot, replacing any previous value.
	Put(ctx context.Context, slot, value string) error
	// Delete removes slot. Deleting a missing slot is not an error.
	Delete(ctx context.Context, slot string) error
}
