package host

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/veandco/go-sdl2/sdl"

	"flow-texture/pkg/gles"
	"flow-texture/pkg/gles/glcore"
	"flow-texture/pkg/input"
	"flow-texture/pkg/logging"
	"flow-texture/pkg/performance"
)

// Renderer is what the loop drives: the surface lifecycle callbacks of the
// render pipeline.
type Renderer interface {
	Initialize(ctx context.Context, gl gles.Context) error
	Resize(width, height int)
	DrawFrame() error
	Shutdown() error
	Stats() performance.PerformanceReport
}

// Surface is the window the loop presents to.
type Surface interface {
	DrawableSize() (int, int)
	Swap()
	ToggleFullscreen()
}

// DefaultReportInterval is how often the loop logs pipeline and memory stats.
const DefaultReportInterval = 10 * time.Second

// Loop dispatches window events to a Renderer and draws once per iteration.
type Loop struct {
	renderer       Renderer
	surface        Surface
	keys           *input.KeyPressTracker
	log            zerolog.Logger
	reportInterval time.Duration
	frameBudget    time.Duration
	lastReport     time.Time
	width, height  int
}

// NewLoop returns a loop for r presenting to s.
func NewLoop(r Renderer, s Surface, log zerolog.Logger) *Loop {
	return &Loop{
		renderer:       r,
		surface:        s,
		keys:           input.NewKeyPressTracker(input.DefaultBindings),
		log:            logging.Component(log, "host"),
		reportInterval: DefaultReportInterval,
	}
}

// Run initializes the renderer on the window's GL context, then draws until
// the window closes, ctx is canceled, or a draw fails. The renderer is shut
// down before Run returns.
func Run(ctx context.Context, w *Window, r Renderer, log zerolog.Logger) error {
	gl, version, err := glcore.Init()
	if err != nil {
		return err
	}
	log.Info().Str("gl_version", version).Msg("OpenGL ready")

	l := NewLoop(r, w, log)
	l.SetFrameBudget(w.FrameBudget())
	return l.run(ctx, gl, func() sdl.Event { return sdl.PollEvent() })
}

// SetFrameBudget makes each iteration last at least d. Zero leaves the loop
// paced by buffer swaps alone.
func (l *Loop) SetFrameBudget(d time.Duration) { l.frameBudget = d }

func (l *Loop) run(ctx context.Context, gl gles.Context, poll func() sdl.Event) (err error) {
	if err := l.renderer.Initialize(ctx, gl); err != nil {
		return fmt.Errorf("host: initialize renderer: %w", err)
	}
	defer func() {
		if serr := l.renderer.Shutdown(); serr != nil {
			l.log.Error().Err(serr).Msg("renderer shutdown failed")
			if err == nil {
				err = serr
			}
		}
	}()
	l.resize()
	l.lastReport = time.Now()

	for {
		frameStart := time.Now()
		for ev := poll(); ev != nil; ev = poll() {
			if l.HandleEvent(ev) {
				l.log.Info().Msg("quit requested")
				return nil
			}
		}
		select {
		case <-ctx.Done():
			l.log.Info().Msg("context canceled")
			return nil
		default:
		}

		if err := l.renderer.DrawFrame(); err != nil {
			return fmt.Errorf("host: draw: %w", err)
		}
		l.surface.Swap()

		if time.Since(l.lastReport) >= l.reportInterval {
			l.report()
		}
		if elapsed := time.Since(frameStart); elapsed < l.frameBudget {
			time.Sleep(l.frameBudget - elapsed)
		}
	}
}

// HandleEvent applies one window event and reports whether the loop should
// stop.
func (l *Loop) HandleEvent(ev sdl.Event) bool {
	switch e := ev.(type) {
	case *sdl.QuitEvent:
		return true
	case *sdl.WindowEvent:
		if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED || e.Event == sdl.WINDOWEVENT_RESIZED {
			l.resize()
		}
	case *sdl.KeyboardEvent:
		switch l.keys.Handle(e) {
		case input.ActionQuit:
			return true
		case input.ActionReportStats:
			l.report()
		case input.ActionToggleFullscreen:
			l.surface.ToggleFullscreen()
		}
	}
	return false
}

func (l *Loop) resize() {
	w, h := l.surface.DrawableSize()
	if w == l.width && h == l.height {
		return
	}
	l.width, l.height = w, h
	l.renderer.Resize(w, h)
}

func (l *Loop) report() {
	l.lastReport = time.Now()
	r := l.renderer.Stats()
	l.log.Info().
		Float64("avg_draw_ms", r.AvgDrawMs).
		Float64("avg_latch_ms", r.AvgLatchMs).
		Int("draws", r.Draws).
		Int("latches", r.Latches).
		Int("coalesced", r.Coalesced).
		Int("dropped", r.DroppedFrames).
		Bool("healthy", r.IsHealthy).
		Int64("uptime_s", r.UptimeSeconds).
		Msg("pipeline stats")
	performance.LogMemorySnapshot(l.log)
}
