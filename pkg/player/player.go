// Package player picks the media.Source for a configured video URI.
package player

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"flow-texture/pkg/config"
	"flow-texture/pkg/media"
	"flow-texture/pkg/mpeg"
	"flow-texture/pkg/videoFs"
)

// Open returns a source for cfg.VideoURI. pattern:// URIs play a synthetic
// clip; everything else is resolved to a local file and decoded with FFmpeg.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (media.Source, error) {
	if strings.HasPrefix(cfg.VideoURI, media.PatternScheme+"://") {
		src, err := media.ParsePattern(cfg.VideoURI, cfg.Loop, log)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	path, err := videoFs.Resolve(ctx, cfg.VideoURI, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info().Str("uri", cfg.VideoURI).Str("path", path).Msg("media resolved")
	return mpeg.NewSource(path, mpeg.Options{
		Decoder:       cfg.VideoDecoder,
		ForceSoftware: cfg.ForceSoftwareDecoder,
		Loop:          cfg.Loop,
	}, log), nil
}
