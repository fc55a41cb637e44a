package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("")
	for _, want := range []string{"evt:0001", "evt:0002", "evt:0003"} {
		got, err := g.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	custom := NewSequentialIDs("test-")
	got, err := custom.Next()
	require.NoError(t, err)
	assert.Equal(t, "test-0001", got)
}
