// Package vault provides expiring key-value storage for session credentials.
// Slots written with a TTL vanish once it elapses; a zero TTL makes the slot
// durable. The session store never observes an expired value.
package vault

import (
	"context"
	"errors"
	"time"
)

var ErrSealed = errors.New("vault: storage is not accessible")

// Vault is the persistence port shared by the session store implementations.
type Vault interface {
	// Set stores value under key. A ttl <= 0 means the slot never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value and true if the slot exists and has not expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Delete removes the slot. Deleting an absent slot is not an error.
	Delete(ctx context.Context, key string) error
}
