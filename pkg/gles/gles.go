// Package gles describes the subset of OpenGL the player issues, as a Go
// interface. The render pipeline only talks to Context, so the same code runs
// against the native driver (package glcore) or a recording fake in tests.
package gles

import (
	"fmt"
	"time"
)

// Enumerants, with the values OpenGL assigns them.
const (
	NO_ERROR                      uint32 = 0
	INVALID_ENUM                  uint32 = 0x0500
	INVALID_VALUE                 uint32 = 0x0501
	INVALID_OPERATION             uint32 = 0x0502
	OUT_OF_MEMORY                 uint32 = 0x0505
	INVALID_FRAMEBUFFER_OPERATION uint32 = 0x0506

	VERTEX_SHADER   uint32 = 0x8B31
	FRAGMENT_SHADER uint32 = 0x8B30

	TEXTURE_2D         uint32 = 0x0DE1
	TEXTURE0           uint32 = 0x84C0
	TEXTURE_MIN_FILTER uint32 = 0x2801
	TEXTURE_MAG_FILTER uint32 = 0x2800
	TEXTURE_WRAP_S     uint32 = 0x2802
	TEXTURE_WRAP_T     uint32 = 0x2803
	NEAREST            uint32 = 0x2600
	LINEAR             uint32 = 0x2601
	CLAMP_TO_EDGE      uint32 = 0x812F
	UNPACK_ALIGNMENT   uint32 = 0x0CF5

	ARRAY_BUFFER uint32 = 0x8892
	STATIC_DRAW  uint32 = 0x88E4

	COLOR_BUFFER_BIT uint32 = 0x4000
	DEPTH_BUFFER_BIT uint32 = 0x0100

	TRIANGLE_STRIP uint32 = 0x0005
)

// Sync is an opaque fence object.
type Sync uintptr

// Context is the GPU call surface. All methods must be called on the thread
// that owns the GL context. Pixel data is always tightly packed RGBA8.
type Context interface {
	CreateShader(kind uint32) uint32
	ShaderSource(shader uint32, source string)
	CompileShader(shader uint32)
	ShaderCompiled(shader uint32) bool
	ShaderInfoLog(shader uint32) string
	DeleteShader(shader uint32)

	CreateProgram() uint32
	AttachShader(program, shader uint32)
	LinkProgram(program uint32)
	ProgramLinked(program uint32) bool
	ProgramInfoLog(program uint32) string
	DeleteProgram(program uint32)
	UseProgram(program uint32)
	AttribLocation(program uint32, name string) int32
	UniformLocation(program uint32, name string) int32
	UniformMatrix4fv(location int32, m [16]float32)

	GenTexture() uint32
	DeleteTexture(texture uint32)
	ActiveTexture(unit uint32)
	BindTexture(target, texture uint32)
	TexParameteri(target, pname uint32, param int32)
	PixelStorei(pname uint32, param int32)
	TexImage2D(target uint32, width, height int32, pixels []byte)
	TexSubImage2D(target uint32, width, height int32, pixels []byte)

	GenBuffer() uint32
	DeleteBuffer(buffer uint32)
	BindBuffer(target, buffer uint32)
	BufferData(target uint32, data []float32, usage uint32)
	GenVertexArray() uint32
	DeleteVertexArray(vao uint32)
	BindVertexArray(vao uint32)
	// VertexAttribPointer describes a float attribute read from the bound
	// ARRAY_BUFFER; stride and offset are in bytes.
	VertexAttribPointer(index uint32, size, stride int32, offset int)
	EnableVertexAttribArray(index uint32)

	ClearColor(r, g, b, a float32)
	ClearDepth(depth float32)
	Clear(mask uint32)
	Viewport(x, y, width, height int32)
	DrawArrays(mode uint32, first, count int32)
	ReadPixels(x, y, width, height int32) []byte

	Finish()
	FenceSync() Sync
	// ClientWaitSync blocks until the fence signals or timeout elapses and
	// reports whether it signaled.
	ClientWaitSync(s Sync, timeout time.Duration) bool
	DeleteSync(s Sync)

	GetError() uint32
}

// ErrorName returns the symbolic name of a GL error code.
func ErrorName(code uint32) string {
	switch code {
	case NO_ERROR:
		return "GL_NO_ERROR"
	case INVALID_ENUM:
		return "GL_INVALID_ENUM"
	case INVALID_VALUE:
		return "GL_INVALID_VALUE"
	case INVALID_OPERATION:
		return "GL_INVALID_OPERATION"
	case OUT_OF_MEMORY:
		return "GL_OUT_OF_MEMORY"
	case INVALID_FRAMEBUFFER_OPERATION:
		return "GL_INVALID_FRAMEBUFFER_OPERATION"
	default:
		return fmt.Sprintf("0x%04X", code)
	}
}

// Error is a GL error code observed after the call named by Op.
type Error struct {
	Op   string
	Code uint32
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: glError %s", e.Op, ErrorName(e.Code))
}

// maxQueuedErrors bounds the drain loop; a lost context can report errors forever.
const maxQueuedErrors = 16

// Check drains the GL error queue and returns the first queued error as an
// *Error tagged with op, or nil if the queue was empty.
func Check(gl Context, op string) error {
	var first *Error
	for i := 0; i < maxQueuedErrors; i++ {
		code := gl.GetError()
		if code == NO_ERROR {
			break
		}
		if first == nil {
			first = &Error{Op: op, Code: code}
		}
	}
	if first == nil {
		return nil
	}
	return first
}
