// Package render draws the newest decoded video frame as a textured quad.
//
// A Pipeline has two sides. OnFrameAvailable is called by the decoder side,
// from any goroutine, whenever a new frame lands in the shared image; it only
// records that an update is pending. Initialize, Resize, DrawFrame and
// Shutdown belong to the render thread that owns the GL context. Each draw
// tick latches the newest frame if one is pending, however many frames
// arrived since the previous tick, and redraws the quad with it.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"

	"flow-texture/pkg/config"
	"flow-texture/pkg/gles"
	"flow-texture/pkg/logging"
	"flow-texture/pkg/media"
	"flow-texture/pkg/performance"
	"flow-texture/pkg/surface"
)

// fenceTimeout bounds how long a draw waits for the previous frame's fence.
const fenceTimeout = time.Second

// ExternalImageSink is the render-thread side of the shared image.
type ExternalImageSink interface {
	// LatchNewest makes the newest published frame the texture's content and
	// returns its sample transform. latched is false when nothing new arrived.
	LatchNewest() (transform mgl32.Mat4, latched bool, err error)
	TextureHandle() uint32
	SetOnFrameAvailable(fn func())
	Release()
}

// SharedImage is both ends of the shared image: the source publishes into it
// and the pipeline latches from it.
type SharedImage interface {
	media.Sink
	ExternalImageSink
}

// SinkFactory builds the shared image around the texture the pipeline
// allocated on gl.
type SinkFactory func(gl gles.Context, texture uint32, log zerolog.Logger) SharedImage

func uploadSink(gl gles.Context, texture uint32, log zerolog.Logger) SharedImage {
	return surface.NewUploadTexture(gl, texture, log)
}

type state int

const (
	stateIdle state = iota
	stateReady
	stateShutdown
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = logging.Component(l, "render") }
}

// WithFramePolicy selects what DrawFrame does with a GPU error.
func WithFramePolicy(policy config.FramePolicy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithFinishMode selects how DrawFrame waits for the GPU.
func WithFinishMode(mode config.FinishMode) Option {
	return func(p *Pipeline) { p.finish = mode }
}

// WithClearColor sets the background color.
func WithClearColor(rgba [4]float32) Option {
	return func(p *Pipeline) { p.clear = rgba }
}

// WithSinkFactory replaces the shared image implementation.
func WithSinkFactory(f SinkFactory) Option {
	return func(p *Pipeline) { p.newSink = f }
}

// WithShaderSources replaces the vertex and fragment shader sources.
func WithShaderSources(vertex, fragment string) Option {
	return func(p *Pipeline) { p.vertexSrc, p.fragmentSrc = vertex, fragment }
}

// WithMonitor records timings and counters into m.
func WithMonitor(m *performance.PerformanceMonitor) Option {
	return func(p *Pipeline) { p.monitor = m }
}

// Pipeline renders frames from a media.Source.
type Pipeline struct {
	source   media.Source
	geometry GeometryBuffer
	log      zerolog.Logger
	monitor  *performance.PerformanceMonitor

	policy      config.FramePolicy
	finish      config.FinishMode
	clear       [4]float32
	newSink     SinkFactory
	vertexSrc   string
	fragmentSrc string

	pending pendingUpdate

	// Render-thread state.
	state    state
	gl       gles.Context
	program  ShaderProgram
	texture  uint32
	vbo      uint32
	vao      uint32
	sink     SharedImage
	st       mgl32.Mat4
	mvp      mgl32.Mat4
	fence    gles.Sync
	hasFence bool
	width    int
	height   int

	shutdownOnce sync.Once
	shutdownErr  error
}

// New returns a pipeline that will play src once initialized.
func New(src media.Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:      src,
		geometry:    NewGeometryBuffer(),
		log:         zerolog.Nop(),
		policy:      config.FramePolicyDrop,
		finish:      config.FinishModeFinish,
		clear:       [4]float32{0, 1, 1, 1},
		newSink:     uploadSink,
		vertexSrc:   vertexShaderSrc,
		fragmentSrc: fragmentShaderSrc,
		st:          mgl32.Ident4(),
		mvp:         mgl32.Ident4(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.monitor == nil {
		p.monitor = performance.NewMonitor(120)
	}
	return p
}

// Geometry returns the quad the pipeline draws.
func (p *Pipeline) Geometry() GeometryBuffer { return p.geometry }

// Initialize builds the GPU state on gl, creates the shared image, and starts
// the source decoding into it. gl must be current on the calling thread. If
// any step fails, everything acquired so far is released and the pipeline
// may be initialized again.
func (p *Pipeline) Initialize(ctx context.Context, gl gles.Context) (err error) {
	switch p.state {
	case stateReady:
		return ErrAlreadyInitialized
	case stateShutdown:
		return fmt.Errorf("initialize: %w", ErrNotInitialized)
	}

	var undo []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		p.gl, p.sink = nil, nil
		p.log.Error().Err(err).Msg("pipeline initialization failed")
	}()

	p.gl = gl
	p.program, err = buildProgram(gl, p.vertexSrc, p.fragmentSrc, p.log)
	if err != nil {
		return err
	}
	program := p.program.ID
	undo = append(undo, func() { gl.DeleteProgram(program) })

	p.vao = gl.GenVertexArray()
	vao := p.vao
	undo = append(undo, func() { gl.DeleteVertexArray(vao) })
	gl.BindVertexArray(vao)
	p.vbo = gl.GenBuffer()
	vbo := p.vbo
	undo = append(undo, func() { gl.DeleteBuffer(vbo) })
	gl.BindBuffer(gles.ARRAY_BUFFER, vbo)
	gl.BufferData(gles.ARRAY_BUFFER, p.geometry.Floats(), gles.STATIC_DRAW)
	if err = gles.Check(gl, "glBufferData"); err != nil {
		return err
	}

	p.texture = gl.GenTexture()
	texture := p.texture
	undo = append(undo, func() { gl.DeleteTexture(texture) })
	gl.ActiveTexture(gles.TEXTURE0)
	gl.BindTexture(gles.TEXTURE_2D, texture)
	if err = gles.Check(gl, "glBindTexture"); err != nil {
		return err
	}
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MIN_FILTER, int32(gles.NEAREST))
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_MAG_FILTER, int32(gles.LINEAR))
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_WRAP_S, int32(gles.CLAMP_TO_EDGE))
	gl.TexParameteri(gles.TEXTURE_2D, gles.TEXTURE_WRAP_T, int32(gles.CLAMP_TO_EDGE))
	if err = gles.Check(gl, "glTexParameteri"); err != nil {
		return err
	}

	gl.ClearColor(p.clear[0], p.clear[1], p.clear[2], p.clear[3])
	gl.ClearDepth(1)
	if p.width > 0 && p.height > 0 {
		gl.Viewport(0, 0, int32(p.width), int32(p.height))
	}

	p.sink = p.newSink(gl, texture, p.log)
	sink := p.sink
	undo = append(undo, sink.Release)
	sink.SetOnFrameAvailable(p.OnFrameAvailable)
	p.st = mgl32.Ident4()
	p.pending.reset()

	if err = p.source.Start(ctx, sink); err != nil {
		return fmt.Errorf("%w: %w", ErrSourceStart, err)
	}

	p.state = stateReady
	p.log.Info().Uint32("program", program).Uint32("texture", texture).Msg("pipeline initialized")
	return nil
}

// Resize records the new surface size and points the viewport at it. It never
// reallocates GPU resources.
func (p *Pipeline) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		p.log.Warn().Int("width", width).Int("height", height).Msg("ignoring empty surface size")
		return
	}
	p.width, p.height = width, height
	if p.state == stateReady {
		p.gl.Viewport(0, 0, int32(width), int32(height))
	}
	p.log.Debug().Int("width", width).Int("height", height).Msg("surface resized")
}

// DrawFrame latches the newest frame if one is pending and draws the quad.
// Under the drop policy a GPU error abandons only this frame and DrawFrame
// returns nil; under the fatal policy the error is returned.
func (p *Pipeline) DrawFrame() error {
	if p.state != stateReady {
		return ErrNotInitialized
	}
	start := time.Now()
	gl := p.gl

	if p.hasFence {
		if !gl.ClientWaitSync(p.fence, fenceTimeout) {
			p.log.Warn().Dur("timeout", fenceTimeout).Msg("previous frame fence not signaled")
		}
		gl.DeleteSync(p.fence)
		p.hasFence = false
	}

	if signals := p.pending.take(); signals > 0 {
		latchStart := time.Now()
		st, latched, err := p.sink.LatchNewest()
		if err != nil {
			return p.frameError(fmt.Errorf("latch frame: %w", err))
		}
		p.st = st
		if latched {
			p.monitor.RecordLatch(time.Since(latchStart), signals)
		}
	}

	gl.Clear(gles.COLOR_BUFFER_BIT | gles.DEPTH_BUFFER_BIT)

	gl.UseProgram(p.program.ID)
	if err := gles.Check(gl, "glUseProgram"); err != nil {
		return p.frameError(err)
	}
	gl.ActiveTexture(gles.TEXTURE0)
	gl.BindTexture(gles.TEXTURE_2D, p.sink.TextureHandle())

	gl.BindVertexArray(p.vao)
	gl.BindBuffer(gles.ARRAY_BUFFER, p.vbo)
	gl.VertexAttribPointer(p.program.Position, PositionSize, VertexStride, PositionOffset)
	if err := gles.Check(gl, "glVertexAttribPointer aPosition"); err != nil {
		return p.frameError(err)
	}
	gl.EnableVertexAttribArray(p.program.Position)
	if err := gles.Check(gl, "glEnableVertexAttribArray aPosition"); err != nil {
		return p.frameError(err)
	}
	gl.VertexAttribPointer(p.program.TexCoord, TexCoordSize, VertexStride, TexCoordOffset)
	if err := gles.Check(gl, "glVertexAttribPointer aTextureCoord"); err != nil {
		return p.frameError(err)
	}
	gl.EnableVertexAttribArray(p.program.TexCoord)
	if err := gles.Check(gl, "glEnableVertexAttribArray aTextureCoord"); err != nil {
		return p.frameError(err)
	}

	gl.UniformMatrix4fv(p.program.MVP, p.mvp)
	gl.UniformMatrix4fv(p.program.Sample, p.st)
	if err := gles.Check(gl, "glUniformMatrix4fv"); err != nil {
		return p.frameError(err)
	}

	gl.DrawArrays(gles.TRIANGLE_STRIP, 0, VertexCount)
	if err := gles.Check(gl, "glDrawArrays"); err != nil {
		return p.frameError(err)
	}

	if p.finish == config.FinishModeFence {
		p.fence = gl.FenceSync()
		p.hasFence = true
	} else {
		gl.Finish()
	}

	p.monitor.RecordDraw(time.Since(start))
	return nil
}

func (p *Pipeline) frameError(err error) error {
	if p.policy == config.FramePolicyFatal {
		p.log.Error().Err(err).Msg("draw failed")
		return err
	}
	p.monitor.RecordFrameDropped()
	p.log.Warn().Err(err).Msg("dropping frame")
	return nil
}

// OnFrameAvailable marks an update as pending. It is safe to call from any
// goroutine and never waits on the render thread's GPU work.
func (p *Pipeline) OnFrameAvailable() {
	p.pending.signal()
	p.monitor.RecordSignal()
}

// Shutdown stops the source and releases every GPU resource the pipeline
// holds. It must run on the render thread. Calls after the first return the
// first call's result.
func (p *Pipeline) Shutdown() error {
	p.shutdownOnce.Do(func() {
		wasReady := p.state == stateReady
		p.state = stateShutdown
		if !wasReady {
			return
		}

		if err := p.source.Stop(); err != nil && !errors.Is(err, context.Canceled) {
			p.shutdownErr = fmt.Errorf("stop source: %w", err)
		}
		p.sink.Release()

		gl := p.gl
		if p.hasFence {
			gl.DeleteSync(p.fence)
			p.hasFence = false
		}
		gl.DeleteTexture(p.texture)
		gl.DeleteBuffer(p.vbo)
		gl.DeleteVertexArray(p.vao)
		gl.UseProgram(0)
		gl.DeleteProgram(p.program.ID)
		if err := gles.Check(gl, "shutdown"); err != nil && p.shutdownErr == nil {
			p.shutdownErr = err
		}
		p.gl, p.sink = nil, nil

		report := p.monitor.GetReport()
		p.log.Info().Int("draws", report.Draws).Int("latches", report.Latches).
			Int("coalesced", report.Coalesced).Int("dropped", report.DroppedFrames).
			Msg("pipeline shut down")
	})
	return p.shutdownErr
}

// Stats returns the pipeline's counters and timings.
func (p *Pipeline) Stats() performance.PerformanceReport {
	return p.monitor.GetReport()
}
