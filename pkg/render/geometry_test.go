package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeometryLayout(t *testing.T) {
	g := NewGeometryBuffer()
	f := g.Floats()

	assert.Len(t, f, VertexCount*(PositionSize+TexCoordSize))
	assert.Equal(t, 20, VertexStride)
	assert.Equal(t, 12, TexCoordOffset)
	assert.Len(t, g.Bytes(), VertexCount*VertexStride)

	// Second vertex: position (1, -1, 0), texcoord (1, 0).
	assert.Equal(t, []float32{1, -1, 0, 1, 0}, f[5:10])
}

func TestGeometryIsImmutable(t *testing.T) {
	g := NewGeometryBuffer()
	before := g.Bytes()

	f := g.Floats()
	f[0] = 42
	assert.Equal(t, before, g.Bytes())
	assert.Equal(t, before, NewGeometryBuffer().Bytes())
}
