package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_Generate(t *testing.T) {
	id := UUIDv7Generator{}.Generate()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestFixedGenerator_InOrderThenPanics(t *testing.T) {
	g := NewFixedGenerator("boot-1", "boot-2")
	assert.Equal(t, "boot-1", g.Generate())
	assert.Equal(t, "boot-2", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
