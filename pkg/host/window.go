package host

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/veandco/go-sdl2/sdl"

	"flow-texture/pkg/config"
	"flow-texture/pkg/logging"
)

// Window is an SDL window with a current OpenGL 4.1 core context.
type Window struct {
	window      *sdl.Window
	glContext   sdl.GLContext
	fullscreen  bool
	frameBudget time.Duration
	log         zerolog.Logger
}

// OpenWindow creates the window and its GL context and makes the context
// current on the calling thread.
func OpenWindow(cfg config.Config, log zerolog.Logger) (*Window, error) {
	log = logging.Component(log, "host")
	logDisplays(log)

	attrs := []struct {
		attr  sdl.GLattr
		value int
	}{
		{sdl.GL_CONTEXT_MAJOR_VERSION, 4},
		{sdl.GL_CONTEXT_MINOR_VERSION, 1},
		{sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE},
		{sdl.GL_CONTEXT_FLAGS, sdl.GL_CONTEXT_FORWARD_COMPATIBLE_FLAG},
		{sdl.GL_DOUBLEBUFFER, 1},
		{sdl.GL_DEPTH_SIZE, 24},
	}
	for _, a := range attrs {
		if err := sdl.GLSetAttribute(a.attr, a.value); err != nil {
			return nil, sdlError("set GL attribute", err)
		}
	}

	window, err := sdl.CreateWindow(cfg.WindowTitle,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(cfg.WindowWidth), int32(cfg.WindowHeight),
		sdl.WINDOW_OPENGL|sdl.WINDOW_RESIZABLE|sdl.WINDOW_SHOWN|sdl.WINDOW_ALLOW_HIGHDPI)
	if err != nil {
		return nil, sdlError("create window", err)
	}
	glContext, err := window.GLCreateContext()
	if err != nil {
		window.Destroy()
		return nil, sdlError("create GL context", err)
	}
	if err := window.GLMakeCurrent(glContext); err != nil {
		sdl.GLDeleteContext(glContext)
		window.Destroy()
		return nil, sdlError("make GL context current", err)
	}

	interval := 0
	if cfg.VSync {
		interval = 1
	}
	vsync := cfg.VSync
	if err := sdl.GLSetSwapInterval(interval); err != nil {
		log.Warn().Err(err).Int("interval", interval).Msg("could not set swap interval")
		vsync = false
	}

	w := &Window{window: window, glContext: glContext, log: log}
	if !vsync {
		w.frameBudget = time.Second / time.Duration(cfg.MaxFPS)
	}
	dw, dh := w.DrawableSize()
	log.Info().Int("width", dw).Int("height", dh).Bool("vsync", vsync).Dur("frame_budget", w.frameBudget).Msg("window opened")
	return w, nil
}

// FrameBudget is the minimum frame time the loop should keep, or 0 when
// buffer swaps already wait for vertical sync.
func (w *Window) FrameBudget() time.Duration { return w.frameBudget }

// DrawableSize returns the size of the GL drawable in pixels.
func (w *Window) DrawableSize() (int, int) {
	dw, dh := w.window.GLGetDrawableSize()
	return int(dw), int(dh)
}

// Swap presents the back buffer.
func (w *Window) Swap() { w.window.GLSwap() }

// ToggleFullscreen switches between windowed and desktop fullscreen.
func (w *Window) ToggleFullscreen() {
	var flags uint32
	if !w.fullscreen {
		flags = sdl.WINDOW_FULLSCREEN_DESKTOP
	}
	if err := w.window.SetFullscreen(flags); err != nil {
		w.log.Warn().Err(err).Msg("could not toggle fullscreen")
		return
	}
	w.fullscreen = !w.fullscreen
}

// Close destroys the GL context and the window.
func (w *Window) Close() {
	sdl.GLDeleteContext(w.glContext)
	w.window.Destroy()
}
