package render

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"flow-texture/pkg/config"
	"flow-texture/pkg/gles"
	"flow-texture/pkg/gles/glfake"
	"flow-texture/pkg/media"
	"flow-texture/pkg/surface"
)

// mockSource hands the test the sink it was started with, so the test can
// play the decoder itself.
type mockSource struct {
	mock.Mock
	sink media.Sink
}

func (m *mockSource) Start(ctx context.Context, sink media.Sink) error {
	m.sink = sink
	return m.Called(ctx, sink).Error(0)
}

func (m *mockSource) Stop() error { return m.Called().Error(0) }

func newMockSource() *mockSource {
	src := &mockSource{}
	src.On("Start", mock.Anything, mock.Anything).Return(nil).Maybe()
	src.On("Stop").Return(nil).Maybe()
	return src
}

func solid(w, h int, rgba [4]byte) media.Frame {
	pix := make([]byte, w*h*4)
	for o := 0; o < len(pix); o += 4 {
		copy(pix[o:], rgba[:])
	}
	return media.Frame{Pix: pix, Width: w, Height: h}
}

func startPipeline(t *testing.T, opts ...Option) (*Pipeline, *glfake.Context, *mockSource) {
	t.Helper()
	src := newMockSource()
	gl := glfake.New()
	p := New(src, opts...)
	require.NoError(t, p.Initialize(context.Background(), gl))
	t.Cleanup(func() { _ = p.Shutdown() })
	return p, gl, src
}

func uploads(gl *glfake.Context) int {
	n := 0
	for _, tex := range gl.Textures {
		n += tex.Uploads
	}
	return n
}

func sampleUniform(t *testing.T, p *Pipeline, gl *glfake.Context) mgl32.Mat4 {
	t.Helper()
	v, ok := gl.Uniform(p.program.ID, UniformSample)
	require.True(t, ok, "uSTMatrix never uploaded")
	return mgl32.Mat4(v)
}

var (
	red  = [4]byte{255, 0, 0, 255}
	blue = [4]byte{0, 0, 255, 255}
	cyan = [4]byte{0, 255, 255, 255}
)

func TestDrawBeforeInitialize(t *testing.T) {
	p := New(newMockSource())
	assert.ErrorIs(t, p.DrawFrame(), ErrNotInitialized)
}

func TestInitializeBuildsState(t *testing.T) {
	p, gl, src := startPipeline(t)
	src.AssertCalled(t, "Start", mock.Anything, mock.Anything)

	assert.Equal(t, p.geometry.Floats(), gl.Buffer(p.vbo))
	tex := gl.Textures[p.texture]
	require.NotNil(t, tex)
	assert.EqualValues(t, gles.NEAREST, tex.Params[gles.TEXTURE_MIN_FILTER])
	assert.EqualValues(t, gles.LINEAR, tex.Params[gles.TEXTURE_MAG_FILTER])
	assert.EqualValues(t, gles.CLAMP_TO_EDGE, tex.Params[gles.TEXTURE_WRAP_S])
	assert.EqualValues(t, gles.CLAMP_TO_EDGE, tex.Params[gles.TEXTURE_WRAP_T])

	assert.ErrorIs(t, p.Initialize(context.Background(), gl), ErrAlreadyInitialized)
}

func TestFirstDrawWithoutFrame(t *testing.T) {
	p, gl, _ := startPipeline(t)

	require.NoError(t, p.DrawFrame())
	assert.Equal(t, 1, gl.Draws)
	assert.Equal(t, 1, gl.Finishes)
	assert.Equal(t, p.program.ID, gl.CurrentProgram())
	assert.Equal(t, mgl32.Ident4(), sampleUniform(t, p, gl))
	// Nothing latched yet: the texture is empty.
	assert.Zero(t, uploads(gl))
}

func TestSignalsCoalesceIntoOneLatch(t *testing.T) {
	p, gl, src := startPipeline(t)

	var last media.Frame
	for i := 0; i < 5; i++ {
		f := solid(4, 4, [4]byte{byte(10 * i), 0, 0, 255})
		f.Crop = image.Rect(0, 0, 4-i%2, 4)
		src.sink.Publish(f)
		last = f
	}

	require.NoError(t, p.DrawFrame())
	assert.Equal(t, 1, uploads(gl))
	assert.Equal(t, surface.SampleTransform(last), sampleUniform(t, p, gl))
	assert.Equal(t, [4]byte{40, 0, 0, 255}, gl.Center)

	stats := p.Stats()
	assert.Equal(t, 5, stats.Signals)
	assert.Equal(t, 1, stats.Latches)
	assert.Equal(t, 4, stats.Coalesced)
}

func TestDrawWithoutUpdateReusesFrame(t *testing.T) {
	p, gl, src := startPipeline(t)

	src.sink.Publish(solid(2, 2, red))
	require.NoError(t, p.DrawFrame())
	st := sampleUniform(t, p, gl)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.DrawFrame())
		assert.Equal(t, 1, uploads(gl))
		assert.Equal(t, st, sampleUniform(t, p, gl))
		assert.Equal(t, red, gl.Center)
	}
	assert.Equal(t, 4, gl.Draws)
}

func TestRedThenBlueClip(t *testing.T) {
	clip, err := media.ParsePattern("pattern://red,blue?fps=30&seconds=2", false, zerolog.Nop())
	require.NoError(t, err)
	p, gl, src := startPipeline(t)

	src.sink.Publish(clip.FrameAt(0))
	require.NoError(t, p.DrawFrame())
	assert.Equal(t, red, [4]byte(gl.ReadPixels(0, 0, 1, 1)))

	src.sink.Publish(clip.FrameAt(30))
	require.NoError(t, p.DrawFrame())
	assert.Equal(t, blue, [4]byte(gl.ReadPixels(0, 0, 1, 1)))
}

func TestPatternSourcePlaysIntoPipeline(t *testing.T) {
	clip, err := media.ParsePattern("pattern://red?fps=60&seconds=1&width=8&height=8", true, zerolog.Nop())
	require.NoError(t, err)
	gl := glfake.New()
	p := New(clip)
	require.NoError(t, p.Initialize(context.Background(), gl))

	deadline := time.Now().Add(5 * time.Second)
	for gl.Center != red && time.Now().Before(deadline) {
		require.NoError(t, p.DrawFrame())
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, red, gl.Center)

	require.NoError(t, p.Shutdown())
	assert.Zero(t, gl.Live())
}

func TestConcurrentPublishNeverTears(t *testing.T) {
	p, gl, src := startPipeline(t)

	// Every frame has a unique color and its own crop, so the drawn color
	// identifies which transform must have been used with it.
	var expected sync.Map
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 300; i++ {
			c := [4]byte{byte(i), byte(i >> 8), 0, 255}
			f := solid(4, 4, c)
			f.Crop = image.Rect(i%2, 0, 4, 4-i%3)
			f.Rotation = 90 * (i % 4)
			expected.Store(c, surface.SampleTransform(f))
			src.sink.Publish(f)
		}
	}()

	checked := 0
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		require.NoError(t, p.DrawFrame())
		if uploads(gl) == 0 {
			continue
		}
		want, ok := expected.Load(gl.Center)
		require.True(t, ok, "drawn color %v was never published", gl.Center)
		assert.Equal(t, want, sampleUniform(t, p, gl))
		checked++
	}
	assert.Positive(t, checked)

	// The last frame is always drawn eventually.
	require.NoError(t, p.DrawFrame())
	assert.Equal(t, [4]byte{44, 1, 0, 255}, gl.Center)
}

func TestInitializeCompileFailureReleasesEverything(t *testing.T) {
	src := newMockSource()
	gl := glfake.New()
	p := New(src, WithShaderSources(vertexShaderSrc+glfake.CompileFailMarker+"\n", fragmentShaderSrc))

	err := p.Initialize(context.Background(), gl)
	require.ErrorIs(t, err, ErrShaderCompile)
	assert.Zero(t, gl.Live())
	src.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	assert.ErrorIs(t, p.DrawFrame(), ErrNotInitialized)
}

func TestInitializeSourceFailureReleasesEverything(t *testing.T) {
	src := &mockSource{}
	src.On("Start", mock.Anything, mock.Anything).Return(errors.New("no such file"))
	gl := glfake.New()
	p := New(src)

	err := p.Initialize(context.Background(), gl)
	require.ErrorIs(t, err, ErrSourceStart)
	assert.Contains(t, err.Error(), "no such file")
	assert.Zero(t, gl.Live())

	// The released shared image no longer forwards frames.
	src.sink.Publish(solid(1, 1, red))
	assert.Zero(t, p.Stats().Signals)
}

func TestInitializeRetryKeepsGeometry(t *testing.T) {
	src := newMockSource()
	gl := glfake.New()
	gl.FailLink = true
	p := New(src)
	before := p.Geometry().Bytes()

	require.ErrorIs(t, p.Initialize(context.Background(), gl), ErrProgramLink)
	assert.Zero(t, gl.Live())

	require.NoError(t, p.Initialize(context.Background(), gl))
	t.Cleanup(func() { _ = p.Shutdown() })
	assert.Equal(t, before, p.Geometry().Bytes())
	assert.Equal(t, p.Geometry().Floats(), gl.Buffer(p.vbo))
}

func TestDropPolicySkipsFailedFrame(t *testing.T) {
	p, gl, src := startPipeline(t)
	src.sink.Publish(solid(2, 2, red))

	gl.InjectError("glDrawArrays", gles.INVALID_OPERATION)
	require.NoError(t, p.DrawFrame())
	assert.Equal(t, 1, p.Stats().DroppedFrames)
	assert.Zero(t, gl.Finishes)

	require.NoError(t, p.DrawFrame())
	assert.Equal(t, red, gl.Center)
	assert.Equal(t, 1, gl.Finishes)
}

func TestFatalPolicyReturnsGLError(t *testing.T) {
	p, gl, src := startPipeline(t, WithFramePolicy(config.FramePolicyFatal))
	src.sink.Publish(solid(2, 2, red))

	gl.InjectError("glTexImage2D", gles.OUT_OF_MEMORY)
	err := p.DrawFrame()

	var glErr *gles.Error
	require.ErrorAs(t, err, &glErr)
	assert.Equal(t, gles.OUT_OF_MEMORY, glErr.Code)
	assert.Equal(t, "glTexImage2D", glErr.Op)
	assert.Zero(t, p.Stats().DroppedFrames)
}

func TestUniformErrorIsReportedAtUpload(t *testing.T) {
	p, gl, src := startPipeline(t, WithFramePolicy(config.FramePolicyFatal))
	src.sink.Publish(solid(2, 2, red))

	gl.InjectError("glUniformMatrix4fv", gles.INVALID_OPERATION)
	err := p.DrawFrame()

	var glErr *gles.Error
	require.ErrorAs(t, err, &glErr)
	assert.Equal(t, "glUniformMatrix4fv", glErr.Op)
	assert.Zero(t, gl.Draws)
}

// countingSink wraps the upload texture and counts what the pipeline asks of it.
type countingSink struct {
	SharedImage
	texture  uint32
	latches  int
	releases int
}

func (s *countingSink) LatchNewest() (mgl32.Mat4, bool, error) {
	s.latches++
	return s.SharedImage.LatchNewest()
}

func (s *countingSink) Release() {
	s.releases++
	s.SharedImage.Release()
}

func TestSinkFactoryOption(t *testing.T) {
	var sink *countingSink
	factory := func(gl gles.Context, texture uint32, log zerolog.Logger) SharedImage {
		sink = &countingSink{SharedImage: surface.NewUploadTexture(gl, texture, log), texture: texture}
		return sink
	}
	src := newMockSource()
	gl := glfake.New()
	p := New(src, WithSinkFactory(factory))
	require.NoError(t, p.Initialize(context.Background(), gl))

	require.NotNil(t, sink)
	assert.Equal(t, p.texture, sink.texture)
	assert.Same(t, sink, src.sink)

	for _, c := range []byte{10, 20, 30} {
		src.sink.Publish(solid(2, 2, [4]byte{c, 0, 0, 255}))
	}
	require.NoError(t, p.DrawFrame())
	require.NoError(t, p.DrawFrame())
	assert.Equal(t, 1, sink.latches)
	assert.Equal(t, [4]byte{30, 0, 0, 255}, gl.Center)

	require.NoError(t, p.Shutdown())
	assert.Equal(t, 1, sink.releases)
	assert.Zero(t, gl.Live())
}

func TestFenceModeWaitsOnPreviousDraw(t *testing.T) {
	p, gl, _ := startPipeline(t, WithFinishMode(config.FinishModeFence))

	require.NoError(t, p.DrawFrame())
	require.NoError(t, p.DrawFrame())
	require.NoError(t, p.DrawFrame())
	assert.Zero(t, gl.Finishes)
	assert.Equal(t, 2, gl.FencesWaited)

	require.NoError(t, p.Shutdown())
	assert.Zero(t, gl.Live())
}

func TestClearColorOption(t *testing.T) {
	p, gl, _ := startPipeline(t, WithClearColor([4]float32{1, 0, 0, 1}))
	gl.InjectError("glUseProgram", gles.INVALID_OPERATION)

	// The draw fails right after the clear, leaving only the background.
	require.NoError(t, p.DrawFrame())
	assert.Equal(t, red, gl.Center)
}

func TestDefaultClearColorIsCyan(t *testing.T) {
	p, gl, _ := startPipeline(t)
	gl.InjectError("glUseProgram", gles.INVALID_OPERATION)

	require.NoError(t, p.DrawFrame())
	assert.Equal(t, cyan, gl.Center)
}

func TestResizeOnlyMovesViewport(t *testing.T) {
	p, gl, _ := startPipeline(t)
	calls := len(gl.Calls)
	live := gl.Live()

	p.Resize(640, 480)
	assert.Equal(t, [4]int32{0, 0, 640, 480}, gl.ViewportRect)
	assert.Equal(t, []string{"glViewport"}, gl.Calls[calls:])
	assert.Equal(t, live, gl.Live())

	p.Resize(0, 480)
	assert.Equal(t, [4]int32{0, 0, 640, 480}, gl.ViewportRect)
}

func TestResizeBeforeInitializeAppliesLater(t *testing.T) {
	src := newMockSource()
	gl := glfake.New()
	p := New(src)
	p.Resize(320, 200)
	assert.NotContains(t, gl.Calls, "glViewport")

	require.NoError(t, p.Initialize(context.Background(), gl))
	t.Cleanup(func() { _ = p.Shutdown() })
	assert.Equal(t, [4]int32{0, 0, 320, 200}, gl.ViewportRect)
}

func TestShutdownIsIdempotent(t *testing.T) {
	src := &mockSource{}
	src.On("Start", mock.Anything, mock.Anything).Return(nil)
	src.On("Stop").Return(nil).Once()
	gl := glfake.New()
	p := New(src)
	require.NoError(t, p.Initialize(context.Background(), gl))

	require.NoError(t, p.Shutdown())
	require.NoError(t, p.Shutdown())
	src.AssertNumberOfCalls(t, "Stop", 1)
	assert.Zero(t, gl.Live())

	assert.ErrorIs(t, p.DrawFrame(), ErrNotInitialized)
	assert.Error(t, p.Initialize(context.Background(), gl))

	src.sink.Publish(solid(1, 1, red))
	assert.Zero(t, p.Stats().Signals)
}

func TestShutdownReportsSourceError(t *testing.T) {
	src := &mockSource{}
	src.On("Start", mock.Anything, mock.Anything).Return(nil)
	src.On("Stop").Return(errors.New("decoder crashed"))
	gl := glfake.New()
	p := New(src)
	require.NoError(t, p.Initialize(context.Background(), gl))

	err := p.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoder crashed")
	assert.Equal(t, err, p.Shutdown())
	assert.Zero(t, gl.Live())
}
