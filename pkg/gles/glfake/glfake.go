// Package glfake is an in-memory gles.Context for tests. It tracks object
// lifetimes, bound state and uniform values, can inject errors, and
// rasterizes exactly one pixel: the center of the drawn triangle strip, which
// it samples from the bound texture through the program's sample transform.
package glfake

import (
	"fmt"
	"math"
	"strings"
	"time"

	"flow-texture/pkg/gles"
)

// CompileFailMarker makes any shader whose source contains it fail to compile.
const CompileFailMarker = "#error"

// Texture is the simulated storage of one texture object.
type Texture struct {
	Width, Height int32
	Pix           []byte
	Params        map[uint32]int32
	Uploads       int
}

type shader struct {
	kind     uint32
	source   string
	compiled bool
}

type program struct {
	shaders []uint32
	linked  bool
	attribs map[string]int32
	uniform map[string]int32
	values  map[int32][16]float32
}

type attribPointer struct {
	size, stride int32
	offset       int
	enabled      bool
}

// Context implements gles.Context.
type Context struct {
	next uint32

	shaders  map[uint32]*shader
	programs map[uint32]*program
	Textures map[uint32]*Texture
	buffers  map[uint32][]float32
	vaos     map[uint32]bool
	syncs    map[gles.Sync]bool

	current      uint32
	activeUnit   uint32
	bound        map[uint32]uint32 // texture unit -> texture
	arrayBuffer  uint32
	vertexArray  uint32
	attribs      map[uint32]*attribPointer
	clearColor   [4]float32
	clearDepth   float32
	ViewportRect [4]int32

	// Center is the color of the framebuffer pixel at the center of the quad.
	Center [4]byte

	// FailLink makes the next LinkProgram fail.
	FailLink bool

	pendingErrors map[string]uint32
	queue         []uint32

	Calls        []string
	Draws        int
	Finishes     int
	FencesWaited int
}

var _ gles.Context = (*Context)(nil)

// New returns an empty context.
func New() *Context {
	return &Context{
		shaders:       map[uint32]*shader{},
		programs:      map[uint32]*program{},
		Textures:      map[uint32]*Texture{},
		buffers:       map[uint32][]float32{},
		vaos:          map[uint32]bool{},
		syncs:         map[gles.Sync]bool{},
		bound:         map[uint32]uint32{},
		attribs:       map[uint32]*attribPointer{},
		pendingErrors: map[string]uint32{},
	}
}

// InjectError queues code the next time the call named op is issued.
func (c *Context) InjectError(op string, code uint32) { c.pendingErrors[op] = code }

func (c *Context) call(op string) {
	c.Calls = append(c.Calls, op)
	if code, ok := c.pendingErrors[op]; ok {
		delete(c.pendingErrors, op)
		c.queue = append(c.queue, code)
	}
}

func (c *Context) id() uint32 {
	c.next++
	return c.next
}

// Live reports how many GL objects of every kind are still allocated.
func (c *Context) Live() int {
	return len(c.shaders) + len(c.programs) + len(c.Textures) + len(c.buffers) + len(c.vaos) + len(c.syncs)
}

// Uniform returns the value last uploaded to the named uniform of program p.
func (c *Context) Uniform(p uint32, name string) ([16]float32, bool) {
	prog, ok := c.programs[p]
	if !ok {
		return [16]float32{}, false
	}
	loc, ok := prog.uniform[name]
	if !ok {
		return [16]float32{}, false
	}
	v, ok := prog.values[loc]
	return v, ok
}

// Buffer returns the contents of buffer object b.
func (c *Context) Buffer(b uint32) []float32 { return c.buffers[b] }

// CurrentProgram returns the program bound with UseProgram.
func (c *Context) CurrentProgram() uint32 { return c.current }

func (c *Context) CreateShader(kind uint32) uint32 {
	c.call("glCreateShader")
	id := c.id()
	c.shaders[id] = &shader{kind: kind}
	return id
}

func (c *Context) ShaderSource(s uint32, source string) {
	c.call("glShaderSource")
	if sh, ok := c.shaders[s]; ok {
		sh.source = source
	}
}

func (c *Context) CompileShader(s uint32) {
	c.call("glCompileShader")
	if sh, ok := c.shaders[s]; ok {
		sh.compiled = !strings.Contains(sh.source, CompileFailMarker)
	}
}

func (c *Context) ShaderCompiled(s uint32) bool {
	sh, ok := c.shaders[s]
	return ok && sh.compiled
}

func (c *Context) ShaderInfoLog(s uint32) string {
	if sh, ok := c.shaders[s]; ok && !sh.compiled {
		return "0:1(1): error: " + CompileFailMarker + " directive"
	}
	return ""
}

func (c *Context) DeleteShader(s uint32) {
	c.call("glDeleteShader")
	delete(c.shaders, s)
}

func (c *Context) CreateProgram() uint32 {
	c.call("glCreateProgram")
	id := c.id()
	c.programs[id] = &program{
		attribs: map[string]int32{},
		uniform: map[string]int32{},
		values:  map[int32][16]float32{},
	}
	return id
}

func (c *Context) AttachShader(p, s uint32) {
	c.call("glAttachShader")
	if prog, ok := c.programs[p]; ok {
		prog.shaders = append(prog.shaders, s)
	}
}

// LinkProgram resolves every "in"/"attribute" and "uniform" declaration of
// the attached sources into locations, in declaration order.
func (c *Context) LinkProgram(p uint32) {
	c.call("glLinkProgram")
	prog, ok := c.programs[p]
	if !ok {
		return
	}
	if c.FailLink {
		c.FailLink = false
		return
	}
	var attr, unif int32
	for _, s := range prog.shaders {
		sh := c.shaders[s]
		if sh == nil || !sh.compiled {
			return
		}
		for _, line := range strings.Split(sh.source, "\n") {
			fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(line), ";"))
			if len(fields) != 3 {
				continue
			}
			switch {
			case fields[0] == "uniform":
				prog.uniform[fields[2]] = unif
				unif++
			case sh.kind == gles.VERTEX_SHADER && (fields[0] == "in" || fields[0] == "attribute"):
				prog.attribs[fields[2]] = attr
				attr++
			}
		}
	}
	prog.linked = true
}

func (c *Context) ProgramLinked(p uint32) bool {
	prog, ok := c.programs[p]
	return ok && prog.linked
}

func (c *Context) ProgramInfoLog(p uint32) string {
	if prog, ok := c.programs[p]; ok && !prog.linked {
		return "error: linking failed"
	}
	return ""
}

func (c *Context) DeleteProgram(p uint32) {
	c.call("glDeleteProgram")
	delete(c.programs, p)
}

func (c *Context) UseProgram(p uint32) {
	c.call("glUseProgram")
	if _, ok := c.programs[p]; !ok && p != 0 {
		c.queue = append(c.queue, gles.INVALID_VALUE)
		return
	}
	c.current = p
}

func (c *Context) AttribLocation(p uint32, name string) int32 {
	c.call("glGetAttribLocation")
	if prog, ok := c.programs[p]; ok && prog.linked {
		if loc, ok := prog.attribs[name]; ok {
			return loc
		}
	}
	return -1
}

func (c *Context) UniformLocation(p uint32, name string) int32 {
	c.call("glGetUniformLocation")
	if prog, ok := c.programs[p]; ok && prog.linked {
		if loc, ok := prog.uniform[name]; ok {
			return loc
		}
	}
	return -1
}

func (c *Context) UniformMatrix4fv(location int32, m [16]float32) {
	c.call("glUniformMatrix4fv")
	prog, ok := c.programs[c.current]
	if !ok {
		c.queue = append(c.queue, gles.INVALID_OPERATION)
		return
	}
	prog.values[location] = m
}

func (c *Context) GenTexture() uint32 {
	c.call("glGenTextures")
	id := c.id()
	c.Textures[id] = &Texture{Params: map[uint32]int32{}}
	return id
}

func (c *Context) DeleteTexture(t uint32) {
	c.call("glDeleteTextures")
	delete(c.Textures, t)
}

func (c *Context) ActiveTexture(unit uint32) {
	c.call("glActiveTexture")
	c.activeUnit = unit - gles.TEXTURE0
}

func (c *Context) BindTexture(target, t uint32) {
	c.call("glBindTexture")
	c.bound[c.activeUnit] = t
}

func (c *Context) boundTexture() *Texture { return c.Textures[c.bound[c.activeUnit]] }

func (c *Context) TexParameteri(target, pname uint32, v int32) {
	c.call("glTexParameteri")
	if t := c.boundTexture(); t != nil {
		t.Params[pname] = v
	}
}

func (c *Context) PixelStorei(pname uint32, param int32) { c.call("glPixelStorei") }

func (c *Context) TexImage2D(target uint32, width, height int32, pixels []byte) {
	c.call("glTexImage2D")
	t := c.boundTexture()
	if t == nil {
		c.queue = append(c.queue, gles.INVALID_OPERATION)
		return
	}
	t.Width, t.Height = width, height
	t.Pix = make([]byte, int(width)*int(height)*4)
	copy(t.Pix, pixels)
	t.Uploads++
}

func (c *Context) TexSubImage2D(target uint32, width, height int32, pixels []byte) {
	c.call("glTexSubImage2D")
	t := c.boundTexture()
	if t == nil || width > t.Width || height > t.Height {
		c.queue = append(c.queue, gles.INVALID_VALUE)
		return
	}
	copy(t.Pix, pixels)
	t.Uploads++
}

func (c *Context) GenBuffer() uint32 {
	c.call("glGenBuffers")
	id := c.id()
	c.buffers[id] = nil
	return id
}

func (c *Context) DeleteBuffer(b uint32) {
	c.call("glDeleteBuffers")
	delete(c.buffers, b)
}

func (c *Context) BindBuffer(target, b uint32) {
	c.call("glBindBuffer")
	c.arrayBuffer = b
}

func (c *Context) BufferData(target uint32, data []float32, usage uint32) {
	c.call("glBufferData")
	c.buffers[c.arrayBuffer] = append([]float32(nil), data...)
}

func (c *Context) GenVertexArray() uint32 {
	c.call("glGenVertexArrays")
	id := c.id()
	c.vaos[id] = true
	return id
}

func (c *Context) DeleteVertexArray(v uint32) {
	c.call("glDeleteVertexArrays")
	delete(c.vaos, v)
}

func (c *Context) BindVertexArray(v uint32) {
	c.call("glBindVertexArray")
	c.vertexArray = v
}

func (c *Context) VertexAttribPointer(index uint32, size, stride int32, offset int) {
	c.call("glVertexAttribPointer")
	p := c.attribs[index]
	if p == nil {
		p = &attribPointer{}
		c.attribs[index] = p
	}
	p.size, p.stride, p.offset = size, stride, offset
}

func (c *Context) EnableVertexAttribArray(index uint32) {
	c.call("glEnableVertexAttribArray")
	if p := c.attribs[index]; p != nil {
		p.enabled = true
	}
}

func (c *Context) ClearColor(r, g, b, a float32) {
	c.call("glClearColor")
	c.clearColor = [4]float32{r, g, b, a}
}

func (c *Context) ClearDepth(depth float32) {
	c.call("glClearDepth")
	c.clearDepth = depth
}

func (c *Context) Clear(mask uint32) {
	c.call("glClear")
	if mask&gles.COLOR_BUFFER_BIT != 0 {
		for i, v := range c.clearColor {
			c.Center[i] = byte(math.Round(float64(v) * 255))
		}
	}
}

func (c *Context) Viewport(x, y, width, height int32) {
	c.call("glViewport")
	c.ViewportRect = [4]int32{x, y, width, height}
}

// DrawArrays shades the center of a 4-vertex strip: the midpoint of the
// shared edge between vertices 1 and 2.
func (c *Context) DrawArrays(mode uint32, first, count int32) {
	c.call("glDrawArrays")
	c.Draws++
	prog, ok := c.programs[c.current]
	if !ok || !prog.linked || mode != gles.TRIANGLE_STRIP || count != 4 {
		c.queue = append(c.queue, gles.INVALID_OPERATION)
		return
	}
	uvLoc, ok := prog.attribs["aTextureCoord"]
	if !ok {
		return
	}
	ptr := c.attribs[uint32(uvLoc)]
	data := c.buffers[c.arrayBuffer]
	if ptr == nil || !ptr.enabled || ptr.size < 2 {
		c.queue = append(c.queue, gles.INVALID_OPERATION)
		return
	}
	uv := func(vertex int32) (float32, float32, bool) {
		base := (int(first+vertex)*int(ptr.stride) + ptr.offset) / 4
		if base+1 >= len(data) {
			return 0, 0, false
		}
		return data[base], data[base+1], true
	}
	s1, t1, ok1 := uv(1)
	s2, t2, ok2 := uv(2)
	if !ok1 || !ok2 {
		c.queue = append(c.queue, gles.INVALID_OPERATION)
		return
	}
	s, t := (s1+s2)/2, (t1+t2)/2

	st := [16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	if loc, ok := prog.uniform["uSTMatrix"]; ok {
		if v, ok := prog.values[loc]; ok {
			st = v
		}
	}
	// Column-major: u = m0*s + m4*t + m12, v = m1*s + m5*t + m13.
	u := st[0]*s + st[4]*t + st[12]
	v := st[1]*s + st[5]*t + st[13]

	tex := c.Textures[c.bound[0]]
	if tex == nil || tex.Width == 0 || tex.Height == 0 {
		c.Center = [4]byte{0, 0, 0, 255}
		return
	}
	x := clamp(int32(u*float32(tex.Width)), tex.Width-1)
	y := clamp(int32(v*float32(tex.Height)), tex.Height-1)
	o := (int(y)*int(tex.Width) + int(x)) * 4
	copy(c.Center[:], tex.Pix[o:o+4])
}

func clamp(v, max int32) int32 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// ReadPixels fills every requested pixel with the center color.
func (c *Context) ReadPixels(x, y, width, height int32) []byte {
	c.call("glReadPixels")
	buf := make([]byte, int(width)*int(height)*4)
	for o := 0; o < len(buf); o += 4 {
		copy(buf[o:], c.Center[:])
	}
	return buf
}

func (c *Context) Finish() {
	c.call("glFinish")
	c.Finishes++
}

func (c *Context) FenceSync() gles.Sync {
	c.call("glFenceSync")
	s := gles.Sync(c.id())
	c.syncs[s] = true
	return s
}

func (c *Context) ClientWaitSync(s gles.Sync, timeout time.Duration) bool {
	c.call("glClientWaitSync")
	if !c.syncs[s] {
		c.queue = append(c.queue, gles.INVALID_VALUE)
		return false
	}
	c.FencesWaited++
	return true
}

func (c *Context) DeleteSync(s gles.Sync) {
	c.call("glDeleteSync")
	delete(c.syncs, s)
}

func (c *Context) GetError() uint32 {
	if len(c.queue) == 0 {
		return gles.NO_ERROR
	}
	code := c.queue[0]
	c.queue = c.queue[1:]
	return code
}

// String summarizes the call log, for test failure messages.
func (c *Context) String() string {
	return fmt.Sprintf("glfake: %d calls, %d draws, %d live objects", len(c.Calls), c.Draws, c.Live())
}
