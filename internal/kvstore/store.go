// Package kvstore persists string values under string keys.
//
// Values are opaque to the store. GetJSON and SetJSON add the typed layer
// used by callers that keep structured data under a single key.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrClosed = errors.New("store is closed")

type Store interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	// Remove succeeds when the key is absent.
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
}

func GetJSON[T any](ctx context.Context, s Store, key string) (T, bool, error) {
	var out T

	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}

	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, false, fmt.Errorf("decode value for key %q: %w", key, err)
	}
	return out, true, nil
}

func SetJSON[T any](ctx context.Context, s Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for key %q: %w", key, err)
	}
	return s.Set(ctx, key, string(raw))
}
