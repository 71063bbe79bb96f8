// Package glcore implements gles.Context on top of an OpenGL 4.1 core
// profile context through go-gl. Init must run on the thread that owns the
// current context, after the context has been made current.
package glcore

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"

	"flow-texture/pkg/gles"
)

// Context is the native gles.Context.
type Context struct{}

var _ gles.Context = Context{}

// Init loads the GL entry points and returns the driver version string.
func Init() (Context, string, error) {
	if err := gl.Init(); err != nil {
		return Context{}, "", fmt.Errorf("gl init: %w", err)
	}
	return Context{}, gl.GoStr(gl.GetString(gl.VERSION)), nil
}

func (Context) CreateShader(kind uint32) uint32 { return gl.CreateShader(kind) }

func (Context) ShaderSource(shader uint32, source string) {
	csources, free := gl.Strs(source + "\x00")
	gl.ShaderSource(shader, 1, csources, nil)
	free()
}

func (Context) CompileShader(shader uint32) { gl.CompileShader(shader) }

func (Context) ShaderCompiled(shader uint32) bool {
	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	return status == gl.TRUE
}

func (Context) ShaderInfoLog(shader uint32) string {
	var n int32
	gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &n)
	if n == 0 {
		return ""
	}
	log := strings.Repeat("\x00", int(n+1))
	gl.GetShaderInfoLog(shader, n, nil, gl.Str(log))
	return strings.TrimRight(log, "\x00")
}

func (Context) DeleteShader(shader uint32) { gl.DeleteShader(shader) }
func (Context) CreateProgram() uint32 { return gl.CreateProgram() }
func (Context) AttachShader(program, shader uint32) { gl.AttachShader(program, shader) }
func (Context) LinkProgram(program uint32) { gl.LinkProgram(program) }

func (Context) ProgramLinked(program uint32) bool {
	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	return status == gl.TRUE
}

func (Context) ProgramInfoLog(program uint32) string {
	var n int32
	gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &n)
	if n == 0 {
		return ""
	}
	log := strings.Repeat("\x00", int(n+1))
	gl.GetProgramInfoLog(program, n, nil, gl.Str(log))
	return strings.TrimRight(log, "\x00")
}

func (Context) DeleteProgram(program uint32) { gl.DeleteProgram(program) }
func (Context) UseProgram(program uint32) { gl.UseProgram(program) }

func (Context) AttribLocation(program uint32, name string) int32 {
	return gl.GetAttribLocation(program, gl.Str(name+"\x00"))
}

func (Context) UniformLocation(program uint32, name string) int32 {
	return gl.GetUniformLocation(program, gl.Str(name+"\x00"))
}

func (Context) UniformMatrix4fv(location int32, m [16]float32) {
	gl.UniformMatrix4fv(location, 1, false, &m[0])
}

func (Context) GenTexture() uint32 {
	var id uint32
	gl.GenTextures(1, &id)
	return id
}

func (Context) DeleteTexture(texture uint32) { gl.DeleteTextures(1, &texture) }
func (Context) ActiveTexture(unit uint32) { gl.ActiveTexture(unit) }
func (Context) BindTexture(target, texture uint32) { gl.BindTexture(target, texture) }
func (Context) TexParameteri(target, pname uint32, v int32) { gl.TexParameteri(target, pname, v) }
func (Context) PixelStorei(pname uint32, param int32) { gl.PixelStorei(pname, param) }

func (Context) TexImage2D(target uint32, width, height int32, pixels []byte) {
	gl.TexImage2D(target, 0, gl.RGBA8, width, height, 0, gl.RGBA, gl.UNSIGNED_BYTE, pixelPtr(pixels))
}

func (Context) TexSubImage2D(target uint32, width, height int32, pixels []byte) {
	gl.TexSubImage2D(target, 0, 0, 0, width, height, gl.RGBA, gl.UNSIGNED_BYTE, pixelPtr(pixels))
}

func (Context) GenBuffer() uint32 {
	var id uint32
	gl.GenBuffers(1, &id)
	return id
}

func (Context) DeleteBuffer(buffer uint32) { gl.DeleteBuffers(1, &buffer) }
func (Context) BindBuffer(target, buffer uint32) { gl.BindBuffer(target, buffer) }

func (Context) BufferData(target uint32, data []float32, usage uint32) {
	if len(data) == 0 {
		gl.BufferData(target, 0, nil, usage)
		return
	}
	gl.BufferData(target, len(data)*4, gl.Ptr(data), usage)
}

func (Context) GenVertexArray() uint32 {
	var id uint32
	gl.GenVertexArrays(1, &id)
	return id
}

func (Context) DeleteVertexArray(vao uint32) { gl.DeleteVertexArrays(1, &vao) }
func (Context) BindVertexArray(vao uint32) { gl.BindVertexArray(vao) }

func (Context) VertexAttribPointer(index uint32, size, stride int32, offset int) {
	gl.VertexAttribPointerWithOffset(index, size, gl.FLOAT, false, stride, uintptr(offset))
}

func (Context) EnableVertexAttribArray(index uint32) { gl.EnableVertexAttribArray(index) }
func (Context) ClearColor(r, g, b, a float32) { gl.ClearColor(r, g, b, a) }
func (Context) ClearDepth(depth float32) { gl.ClearDepthf(depth) }
func (Context) Clear(mask uint32) { gl.Clear(mask) }
func (Context) Viewport(x, y, width, height int32) { gl.Viewport(x, y, width, height) }
func (Context) DrawArrays(mode uint32, first, count int32) {
	gl.DrawArrays(mode, first, count)
}

func (Context) ReadPixels(x, y, width, height int32) []byte {
	buf := make([]byte, int(width)*int(height)*4)
	if len(buf) == 0 {
		return buf
	}
	gl.ReadPixels(x, y, width, height, gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(buf))
	return buf
}

func (Context) Finish() { gl.Finish() }

func (Context) FenceSync() gles.Sync {
	return gles.Sync(gl.FenceSync(gl.SYNC_GPU_COMMANDS_COMPLETE, 0))
}

func (Context) ClientWaitSync(s gles.Sync, timeout time.Duration) bool {
	switch gl.ClientWaitSync(uintptr(s), gl.SYNC_FLUSH_COMMANDS_BIT, uint64(timeout.Nanoseconds())) {
	case gl.ALREADY_SIGNALED, gl.CONDITION_SATISFIED:
		return true
	default:
		return false
	}
}

func (Context) DeleteSync(s gles.Sync) { gl.DeleteSync(uintptr(s)) }
func (Context) GetError() uint32 { return gl.GetError() }

// pixelPtr returns nil for empty data so storage can be allocated without an upload.
func pixelPtr(pixels []byte) unsafe.Pointer {
	if len(pixels) == 0 {
		return nil
	}
	return gl.Ptr(pixels)
}
