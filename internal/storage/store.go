package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: key not found")

// Store is the persisted key-value boundary the vault writes through. Values
// are strings (base64 or armored text); the only guarantee is single-key
// atomicity, there are no transactions across keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
