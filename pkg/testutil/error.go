package testutil

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorIs verifies that err matches target through errors.Is.
func AssertErrorIs(t *testing.T, err error, target error) {
	require.Error(t, err)
	assert.True(t, errors.Is(err, target), "expected %v, got %v", target, err)
}
