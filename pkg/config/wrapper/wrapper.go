// Package wrapper converts untyped config.Config sources into typed values
// with a default.
package wrapper

import (
	"context"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/lendsdk/lendsdk/pkg/config"
)

// ErrUnsupportedConversion indicates the source yielded a type the wrapper
// cannot convert.
var ErrUnsupportedConversion = errors.New("config: wrapper conversion from source type not implemented")

// Converter turns a raw source value into T.
type Converter[T any] func(raw interface{}) (T, error)

type value[T any] struct {
	source       config.Config
	defaultValue T
	convert      Converter[T]

	mu   sync.RWMutex
	last T
}

// New returns a typed value over source. The default is used while the
// source has no value.
func New[T any](source config.Config, defaultValue T, convert Converter[T]) config.Value[T] {
	return &value[T]{
		source:       source,
		defaultValue: defaultValue,
		convert:      convert,
		last:         defaultValue,
	}
}

func (v *value[T]) GetSafe(ctx context.Context) (T, error) {
	raw, err := v.source.Get(ctx)
	switch {
	case errors.Is(err, config.ErrNoValue):
		v.remember(v.defaultValue)
		return v.defaultValue, nil
	case err != nil:
		return v.lastValue(), err
	}

	converted, err := v.convert(raw)
	if err != nil {
		return v.lastValue(), err
	}
	v.remember(converted)
	return converted, nil
}

func (v *value[T]) Get(ctx context.Context) T {
	val, _ := v.GetSafe(ctx)
	return val
}

func (v *value[T]) Shutdown() {
	v.source.Shutdown()
}

func (v *value[T]) remember(val T) {
	v.mu.Lock()
	v.last = val
	v.mu.Unlock()
}

func (v *value[T]) lastValue() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.last
}

// NewUint64Config reads decimal strings, uint64 and uint values.
func NewUint64Config(source config.Config, defaultValue uint64) config.Uint64 {
	return New(source, defaultValue, ToUint64)
}

// NewBoolConfig reads strconv.ParseBool strings and bool values.
func NewBoolConfig(source config.Config, defaultValue bool) config.Bool {
	return New(source, defaultValue, ToBool)
}

func ToUint64(raw interface{}) (uint64, error) {
	switch raw := raw.(type) {
	case []byte:
		return strconv.ParseUint(string(raw), 10, 64)
	case string:
		return strconv.ParseUint(raw, 10, 64)
	case uint64:
		return raw, nil
	case uint:
		return uint64(raw), nil
	default:
		return 0, ErrUnsupportedConversion
	}
}

func ToBool(raw interface{}) (bool, error) {
	switch raw := raw.(type) {
	case []byte:
		return strconv.ParseBool(string(raw))
	case string:
		return strconv.ParseBool(raw)
	case bool:
		return raw, nil
	default:
		return false, ErrUnsupportedConversion
	}
}
