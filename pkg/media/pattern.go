package media

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image/color"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flow-texture/pkg/logging"
)

// PatternScheme is the URI scheme of the synthetic clip source.
const PatternScheme = "pattern"

var namedColors = map[string]color.RGBA{
	"red":     {R: 255, A: 255},
	"green":   {G: 255, A: 255},
	"blue":    {B: 255, A: 255},
	"white":   {R: 255, G: 255, B: 255, A: 255},
	"black":   {A: 255},
	"cyan":    {G: 255, B: 255, A: 255},
	"magenta": {R: 255, B: 255, A: 255},
	"yellow":  {R: 255, G: 255, A: 255},
}

// PatternSource plays a clip of solid-color frames. The clip lasts Duration
// and every color is shown for an equal share of it, so a red,blue clip of
// two seconds is red for the first second and blue for the second.
type PatternSource struct {
	Colors   []color.RGBA
	FPS      int
	Duration time.Duration
	Width    int
	Height   int
	Loop     bool

	log zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	stopped bool
}

// ParsePattern builds a PatternSource from a URI such as
// pattern://red,blue?fps=30&seconds=2&width=64&height=64.
// Colors are names or six-digit hex values.
func ParsePattern(uri string, loop bool, log zerolog.Logger) (*PatternSource, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	if u.Scheme != PatternScheme {
		return nil, fmt.Errorf("pattern: unexpected scheme %q", u.Scheme)
	}

	spec := u.Host + u.Path
	if spec == "" {
		return nil, fmt.Errorf("pattern: no colors in %q", uri)
	}
	var colors []color.RGBA
	for _, name := range strings.Split(strings.Trim(spec, "/"), ",") {
		c, err := parseColor(name)
		if err != nil {
			return nil, err
		}
		colors = append(colors, c)
	}

	q := u.Query()
	src := &PatternSource{
		Colors: colors,
		Loop:   loop,
		log:    logging.Component(log, "pattern"),
	}
	if src.FPS, err = intParam(q, "fps", 30); err != nil {
		return nil, err
	}
	if src.Width, err = intParam(q, "width", 64); err != nil {
		return nil, err
	}
	if src.Height, err = intParam(q, "height", 64); err != nil {
		return nil, err
	}
	seconds := 2.0
	if raw := q.Get("seconds"); raw != "" {
		seconds, err = strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("pattern: invalid seconds %q", raw)
		}
	}
	src.Duration = time.Duration(seconds * float64(time.Second))
	return src, nil
}

func parseColor(s string) (color.RGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "#"))
	if err != nil || len(b) != 3 {
		return color.RGBA{}, fmt.Errorf("pattern: unknown color %q", s)
	}
	return color.RGBA{R: b[0], G: b[1], B: b[2], A: 255}, nil
}

func intParam(q url.Values, key string, def int) (int, error) {
	raw := q.Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("pattern: invalid %s %q", key, raw)
	}
	return v, nil
}

// ErrInvalidPattern is returned by Start for a PatternSource that cannot play.
var ErrInvalidPattern = errors.New("pattern: invalid source")

// Validate reports whether the source describes a playable clip.
func (p *PatternSource) Validate() error {
	switch {
	case len(p.Colors) == 0:
		return fmt.Errorf("%w: no colors", ErrInvalidPattern)
	case p.FPS <= 0:
		return fmt.Errorf("%w: fps %d", ErrInvalidPattern, p.FPS)
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrInvalidPattern, p.Width, p.Height)
	case p.Duration < 0:
		return fmt.Errorf("%w: duration %s", ErrInvalidPattern, p.Duration)
	}
	return nil
}

// FrameCount returns the number of frames in one pass of the clip.
func (p *PatternSource) FrameCount() int {
	n := int(p.Duration.Seconds() * float64(p.FPS))
	if n < len(p.Colors) {
		n = len(p.Colors)
	}
	return n
}

// FrameAt renders frame i of the clip. Indices wrap around the clip length.
// The source must be valid.
func (p *PatternSource) FrameAt(i int) Frame {
	total := p.FrameCount()
	i %= total
	if i < 0 {
		i += total
	}
	c := p.Colors[i*len(p.Colors)/total]

	pix := make([]byte, p.Width*p.Height*4)
	for o := 0; o < len(pix); o += 4 {
		pix[o], pix[o+1], pix[o+2], pix[o+3] = c.R, c.G, c.B, c.A
	}
	return Frame{
		Pix:    pix,
		Width:  p.Width,
		Height: p.Height,
		PTS:    time.Duration(i) * time.Second / time.Duration(p.FPS),
		Seq:    uint64(i),
	}
}

// Start publishes frames into sink at FPS on a new goroutine.
func (p *PatternSource) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.started {
		return ErrAlreadyStarted
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	p.group.Go(func() error { return p.run(ctx, sink) })

	p.log.Info().Int("colors", len(p.Colors)).Int("fps", p.FPS).Dur("duration", p.Duration).Msg("pattern playback started")
	return nil
}

func (p *PatternSource) run(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(time.Second / time.Duration(p.FPS))
	defer ticker.Stop()

	total := p.FrameCount()
	var seq uint64
	for i := 0; ; i++ {
		if i == total {
			if !p.Loop {
				p.log.Info().Msg("pattern reached end of clip")
				return nil
			}
			i = 0
		}

		f := p.FrameAt(i)
		f.Seq = seq
		seq++
		sink.Publish(f)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels playback and waits for the publishing goroutine.
func (p *PatternSource) Stop() error {
	p.mu.Lock()
	cancel, group := p.cancel, p.group
	p.cancel, p.group = nil, nil
	p.stopped = true
	p.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return group.Wait()
}
