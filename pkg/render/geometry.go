package render

import (
	"encoding/binary"
	"math"
)

const (
	floatSize = 4

	// VertexCount is the number of vertices in the triangle-strip quad.
	VertexCount = 4
	// PositionSize and TexCoordSize are the component counts per vertex.
	PositionSize = 3
	TexCoordSize = 2
	// VertexStride is the byte distance between consecutive vertices.
	VertexStride = (PositionSize + TexCoordSize) * floatSize
	// PositionOffset and TexCoordOffset are byte offsets inside a vertex.
	PositionOffset = 0
	TexCoordOffset = PositionSize * floatSize
)

var quadVertices = [VertexCount * (PositionSize + TexCoordSize)]float32{
	// X, Y, Z, U, V
	-0.8, -0.8, 0, 0, 0,
	1.0, -1.0, 0, 1, 0,
	-1.0, 1.0, 0, 0, 1,
	0.8, 0.8, 0, 1, 1,
}

// GeometryBuffer is the interleaved vertex data of the quad. It never changes
// after construction.
type GeometryBuffer struct {
	data [VertexCount * (PositionSize + TexCoordSize)]float32
}

// NewGeometryBuffer returns the quad geometry.
func NewGeometryBuffer() GeometryBuffer {
	return GeometryBuffer{data: quadVertices}
}

// Floats returns a copy of the vertex data.
func (g GeometryBuffer) Floats() []float32 {
	out := make([]float32, len(g.data))
	copy(out, g.data[:])
	return out
}

// Bytes returns the vertex data as laid out in GPU memory.
func (g GeometryBuffer) Bytes() []byte {
	out := make([]byte, 0, len(g.data)*floatSize)
	for _, f := range g.data {
		out = binary.NativeEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}
