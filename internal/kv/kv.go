// Package kv is the persistence boundary for client state. Every backend
// commits SetMany as one batch: readers observe either the previous values or
// all of the new ones.
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnavailable marks a backend that could not be read or written.
var ErrUnavailable = errors.New("kv: store unavailable")

type Store interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// GetMany returns only the keys that are present.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	SetMany(ctx context.Context, values map[string]string) error
	// Delete is idempotent; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// DeleteIf removes keys only while guardKey still holds guardValue, checked
	// in the same step as the delete. An absent guardKey matches "". It
	// reports whether the guard matched.
	DeleteIf(ctx context.Context, guardKey, guardValue string, keys ...string) (bool, error)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
