// Package mpeg decodes media files with FFmpeg and publishes the frames to a
// media.Sink at the stream's frame rate.
package mpeg

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"flow-texture/pkg/logging"
	"flow-texture/pkg/media"
)

// Options tunes decoder selection and playback.
type Options struct {
	// Decoder is an FFmpeg decoder name tried before the built-in list.
	Decoder string
	// ForceSoftware skips every hardware decoder.
	ForceSoftware bool
	// Loop restarts playback at the end of the stream.
	Loop bool
}

// Source plays one local media file.
type Source struct {
	path string
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
	stopped bool
}

var _ media.Source = (*Source)(nil)

// NewSource returns a source for the file at path. Nothing is opened until
// Start.
func NewSource(path string, opts Options, log zerolog.Logger) *Source {
	return &Source{
		path: path,
		opts: opts,
		log:  logging.Component(log, "mpeg").With().Str("path", path).Logger(),
	}
}

// Start opens the file and begins decoding into sink.
func (s *Source) Start(ctx context.Context, sink media.Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return media.ErrStopped
	}
	if s.started {
		return media.ErrAlreadyStarted
	}

	dec, err := newVideoDecoder(s.path, s.opts, s.log)
	if err != nil {
		return err
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	s.group.Go(func() error { return s.run(ctx, dec, sink) })
	return nil
}

func (s *Source) run(ctx context.Context, dec *videoDecoder, sink media.Sink) error {
	defer func() {
		if dec != nil {
			dec.close()
		}
	}()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / dec.fps))
	defer ticker.Stop()

	var seq uint64
	for {
		pix, pts, err := dec.nextFrame()
		if errors.Is(err, io.EOF) {
			if !s.opts.Loop {
				s.log.Info().Uint64("frames", seq).Msg("end of stream")
				return nil
			}
			dec.close()
			if dec, err = newVideoDecoder(s.path, s.opts, s.log); err != nil {
				return err
			}
			s.log.Debug().Msg("looping")
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Msg("decoding stopped")
			return err
		}

		sink.Publish(media.Frame{
			Pix:      pix,
			Width:    dec.width,
			Height:   dec.height,
			Rotation: dec.rotation,
			PTS:      pts,
			Seq:      seq,
		})
		seq++

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop cancels decoding and waits for the decoding goroutine to exit. It
// returns the error that ended playback, if any.
func (s *Source) Stop() error {
	s.mu.Lock()
	cancel, group := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.stopped = true
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return group.Wait()
}
