package player

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-texture/pkg/config"
	"flow-texture/pkg/media"
	"flow-texture/pkg/videoFs"
)

func TestOpenPattern(t *testing.T) {
	src, err := Open(context.Background(), config.Config{VideoURI: "pattern://red,blue", Loop: true}, zerolog.Nop())
	require.NoError(t, err)

	pattern, ok := src.(*media.PatternSource)
	require.True(t, ok, "got %T", src)
	assert.True(t, pattern.Loop)
	assert.Len(t, pattern.Colors, 2)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(context.Background(), config.Config{VideoURI: "res://nope.mp4", AssetsDir: t.TempDir()}, zerolog.Nop())
	assert.ErrorIs(t, err, videoFs.ErrNotFound)
}
