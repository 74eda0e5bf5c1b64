// Package env reads configuration values from environment variables.
package env

import (
	"context"
	"os"
	"strings"

	"github.com/lendsdk/lendsdk/pkg/config"
	"github.com/lendsdk/lendsdk/pkg/config/wrapper"
)

type conf struct {
	key string
}

// NewConfig returns a source reading the upper cased key from the
// environment on every Get. Empty variables have no value.
func NewConfig(key string) config.Config {
	return &conf{key: strings.ToUpper(key)}
}

func (c *conf) Get(_ context.Context) (interface{}, error) {
	val := os.Getenv(c.key)
	if len(val) == 0 {
		return nil, config.ErrNoValue
	}
	return []byte(val), nil
}

func (c *conf) Shutdown() {
}

func NewUint64Config(key string, defaultValue uint64) config.Uint64 {
	return wrapper.NewUint64Config(NewConfig(key), defaultValue)
}

func NewBoolConfig(key string, defaultValue bool) config.Bool {
	return wrapper.NewBoolConfig(NewConfig(key), defaultValue)
}
