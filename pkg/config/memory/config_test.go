package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendsdk/lendsdk/pkg/config"
)

func TestConfig(t *testing.T) {
	ctx := context.Background()

	c := NewConfig(nil)
	_, err := c.Get(ctx)
	assert.Equal(t, config.ErrNoValue, err)

	c.SetValue(uint64(5))
	val, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), val)

	c.InduceErrors()
	_, err = c.Get(ctx)
	assert.Equal(t, errInduced, err)

	c.StopInducingErrors()
	c.ClearValue()
	_, err = c.Get(ctx)
	assert.Equal(t, config.ErrNoValue, err)

	c.Shutdown()
	_, err = c.Get(ctx)
	assert.Equal(t, config.ErrShutdown, err)
}
