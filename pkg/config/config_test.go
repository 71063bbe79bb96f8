package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "pattern://red,blue?fps=30&seconds=2", cfg.VideoURI)
	assert.Equal(t, FramePolicyDrop, cfg.FramePolicy)
	assert.Equal(t, FinishModeFinish, cfg.FinishMode)
	assert.True(t, cfg.Loop)
	assert.Equal(t, 1280, cfg.WindowWidth)
	assert.True(t, cfg.VSync)
	assert.Equal(t, 60, cfg.MaxFPS)

	rgba, err := cfg.ClearRGBA()
	require.NoError(t, err)
	assert.Equal(t, [4]float32{0, 1, 1, 1}, rgba)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("VIDEO_URI", "res://clip.mp4")
	t.Setenv("WINDOW_WIDTH", "640")
	t.Setenv("LOOP", "false")
	t.Setenv("FRAME_POLICY", "fatal")
	t.Setenv("FINISH_MODE", "fence")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "res://clip.mp4", cfg.VideoURI)
	assert.Equal(t, 640, cfg.WindowWidth)
	assert.False(t, cfg.Loop)
	assert.Equal(t, FramePolicyFatal, cfg.FramePolicy)
	assert.Equal(t, FinishModeFence, cfg.FinishMode)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WINDOW_TITLE=From Dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("WINDOW_TITLE") })

	cfg, err := Load(envFile)
	require.NoError(t, err)
	assert.Equal(t, "From Dotenv", cfg.WindowTitle)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"window_height": 480, "clear_color": "0,0,0,1"}`), 0o644))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 480, cfg.WindowHeight)
	assert.Equal(t, "0,0,0,1", cfg.ClearColor)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"empty uri":      func(c *Config) { c.VideoURI = " " },
		"zero width":     func(c *Config) { c.WindowWidth = 0 },
		"zero max fps":   func(c *Config) { c.MaxFPS = 0 },
		"unknown policy": func(c *Config) { c.FramePolicy = "retry" },
		"unknown finish": func(c *Config) { c.FinishMode = "async" },
		"short color":    func(c *Config) { c.ClearColor = "1,1,1" },
		"color range":    func(c *Config) { c.ClearColor = "2,0,0,1" },
		"color syntax":   func(c *Config) { c.ClearColor = "a,0,0,1" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
