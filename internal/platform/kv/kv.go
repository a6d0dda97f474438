// Package kv provides the durable key-value backends that hold the local
// working copy. Every key is persisted independently so a crash between two
// writes loses at most the write that was in flight. Backends that can commit
// several keys at once also implement Batcher.
package kv

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound indicates the key has never been written.
var ErrNotFound = errors.New("kv: key not found")

// ErrInvalidKey indicates a key outside the allowed alphabet.
var ErrInvalidKey = errors.New("kv: invalid key")

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,128}$`)

// Store is a synchronous, durable key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Batcher is implemented by stores that can write several keys atomically.
type Batcher interface {
	PutMany(ctx context.Context, entries map[string][]byte) error
}

// PutAll writes entries through Batcher when store supports it and falls back
// to one Put per key otherwise.
func PutAll(ctx context.Context, store Store, entries map[string][]byte) error {
	if b, ok := store.(Batcher); ok {
		return b.PutMany(ctx, entries)
	}
	for key, value := range entries {
		if err := store.Put(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func checkKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
