// Package surface implements the shared image the decoder renders into and
// the pipeline samples from. Where no zero-copy path between decoder and GPU
// exists, UploadTexture keeps the newest decoded frame in memory and copies it
// into the texture when the render thread latches it.
package surface

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/rs/zerolog"

	"flow-texture/pkg/gles"
	"flow-texture/pkg/logging"
	"flow-texture/pkg/media"
)

// UploadTexture is a single-slot image buffer bound to one GL texture.
// Publish is safe from any goroutine; LatchNewest, TextureHandle and Release
// belong to the render thread.
type UploadTexture struct {
	gl      gles.Context
	texture uint32
	log     zerolog.Logger

	mu          sync.Mutex
	pending     *media.Frame
	onAvailable func()
	released    bool
	published   uint64
	overwritten uint64
	latched     uint64

	// Render-thread state.
	width, height int
	transform     mgl32.Mat4
}

// NewUploadTexture wraps an existing texture object. The texture must already
// be created on gl; UploadTexture never deletes it.
func NewUploadTexture(gl gles.Context, texture uint32, log zerolog.Logger) *UploadTexture {
	return &UploadTexture{
		gl:        gl,
		texture:   texture,
		log:       logging.Component(log, "surface"),
		transform: mgl32.Ident4(),
	}
}

// SetOnFrameAvailable registers fn to run after every Publish, on the
// publishing goroutine. fn must not block.
func (t *UploadTexture) SetOnFrameAvailable(fn func()) {
	t.mu.Lock()
	t.onAvailable = fn
	t.mu.Unlock()
}

// Publish replaces the pending frame with f. A frame that was never latched
// is discarded.
func (t *UploadTexture) Publish(f media.Frame) {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	if t.pending != nil {
		t.overwritten++
	}
	t.pending = &f
	t.published++
	fn := t.onAvailable
	t.mu.Unlock()

	// Called outside t.mu: the listener takes its own lock.
	if fn != nil {
		fn()
	}
}

// LatchNewest uploads the newest published frame into the texture and
// returns its sample transform. When nothing new was published since the last
// latch, the texture is left alone and the previous transform is returned
// with latched=false.
func (t *UploadTexture) LatchNewest() (transform mgl32.Mat4, latched bool, err error) {
	t.mu.Lock()
	f := t.pending
	t.pending = nil
	t.mu.Unlock()

	if f == nil {
		return t.transform, false, nil
	}
	if len(f.Pix) < f.Width*f.Height*4 || f.Width <= 0 || f.Height <= 0 {
		t.log.Warn().Int("width", f.Width).Int("height", f.Height).Int("bytes", len(f.Pix)).Msg("discarding malformed frame")
		return t.transform, false, nil
	}

	t.gl.BindTexture(gles.TEXTURE_2D, t.texture)
	t.gl.PixelStorei(gles.UNPACK_ALIGNMENT, 1)
	if f.Width != t.width || f.Height != t.height {
		t.gl.TexImage2D(gles.TEXTURE_2D, int32(f.Width), int32(f.Height), f.Pix)
		if err := gles.Check(t.gl, "glTexImage2D"); err != nil {
			return t.transform, false, err
		}
		t.log.Debug().Int("width", f.Width).Int("height", f.Height).Msg("texture storage allocated")
		t.width, t.height = f.Width, f.Height
	} else {
		t.gl.TexSubImage2D(gles.TEXTURE_2D, int32(f.Width), int32(f.Height), f.Pix)
		if err := gles.Check(t.gl, "glTexSubImage2D"); err != nil {
			return t.transform, false, err
		}
	}

	t.transform = SampleTransform(*f)
	t.mu.Lock()
	t.latched++
	t.mu.Unlock()
	return t.transform, true, nil
}

// TextureHandle returns the GL texture the frames are uploaded into.
func (t *UploadTexture) TextureHandle() uint32 { return t.texture }

// Release detaches the listener and drops any pending frame. Later
// publishes are ignored.
func (t *UploadTexture) Release() {
	t.mu.Lock()
	t.released = true
	t.pending = nil
	t.onAvailable = nil
	t.mu.Unlock()
}

// Stats reports how many frames were published, overwritten before being
// latched, and latched.
func (t *UploadTexture) Stats() (published, overwritten, latched uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published, t.overwritten, t.latched
}
