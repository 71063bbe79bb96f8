// Package media defines the producer side of the player: a Source decodes
// video on its own goroutine and hands finished frames to a Sink.
package media

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("media: source already started")
	ErrStopped        = errors.New("media: source stopped")
)

// Frame is one decoded picture. Pix holds tightly packed RGBA8 rows, top row
// first. Crop selects the visible region (zero means the whole frame) and
// Rotation is the clockwise display rotation in degrees.
type Frame struct {
	Pix      []byte
	Width    int
	Height   int
	Crop     image.Rectangle
	Rotation int
	PTS      time.Duration
	Seq      uint64
}

// Bounds returns the visible region of the frame.
func (f Frame) Bounds() image.Rectangle {
	full := image.Rect(0, 0, f.Width, f.Height)
	if f.Crop.Empty() {
		return full
	}
	return f.Crop.Intersect(full)
}

// Sink receives frames from a Source. Publish is called from the source's
// decoding goroutine and must not block on GPU work. The sink owns f.Pix
// after the call.
type Sink interface {
	Publish(f Frame)
}

// Source produces frames until stopped.
type Source interface {
	// Start opens the media and begins decoding into sink. Open failures are
	// returned; later decode failures end playback and are reported by Stop.
	Start(ctx context.Context, sink Sink) error
	// Stop halts decoding and waits for the decoding goroutine to exit.
	Stop() error
}
