// Package memory provides an in memory config.Config for tests and static
// overrides.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/lendsdk/lendsdk/pkg/config"
)

var errInduced = errors.New("in memory config: induced error")

type Config struct {
	mu       sync.RWMutex
	value    interface{}
	failing  bool
	shutdown bool
}

// NewConfig returns a config holding value. A nil value means no value is
// set.
func NewConfig(value interface{}) *Config {
	return &Config{value: value}
}

func (c *Config) Get(_ context.Context) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.shutdown:
		return nil, config.ErrShutdown
	case c.failing:
		return nil, errInduced
	case c.value == nil:
		return nil, config.ErrNoValue
	default:
		return c.value, nil
	}
}

func (c *Config) Shutdown() {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
}

func (c *Config) SetValue(value interface{}) {
	c.mu.Lock()
	c.value = value
	c.mu.Unlock()
}

// ClearValue makes subsequent Get calls return config.ErrNoValue.
func (c *Config) ClearValue() {
	c.SetValue(nil)
}

// InduceErrors makes subsequent Get calls fail until StopInducingErrors.
func (c *Config) InduceErrors() {
	c.mu.Lock()
	c.failing = true
	c.mu.Unlock()
}

func (c *Config) StopInducingErrors() {
	c.mu.Lock()
	c.failing = false
	c.mu.Unlock()
}
