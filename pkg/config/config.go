// Package config provides dynamic configuration values that are read on every
// use, so that a source such as the environment or an in memory override can
// change them at runtime.
package config

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNoValue indicates no value was set for the config
	ErrNoValue = errors.New("config: no value set")

	// ErrShutdown indicates the use of a Config after calling Shutdown
	ErrShutdown = errors.New("config: shutdown")
)

// Config is an untyped configuration source.
type Config interface {
	// Get returns the latest raw value, or ErrNoValue.
	Get(ctx context.Context) (interface{}, error)

	// Shutdown releases the resources of the source.
	Shutdown()
}

// Value is a typed view over a Config.
type Value[T any] interface {
	// Get returns the current value, falling back as GetSafe does and
	// dropping the error.
	Get(ctx context.Context) T

	// GetSafe returns the current value. When the source fails, the last
	// value read is returned along with the error.
	GetSafe(ctx context.Context) (T, error)

	Shutdown()
}

type (
	Uint64 = Value[uint64]
	Bool   = Value[bool]
)
