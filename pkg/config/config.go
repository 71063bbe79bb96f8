package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FramePolicy decides what happens when a GPU error surfaces while drawing a frame.
type FramePolicy string

const (
	FramePolicyDrop  FramePolicy = "drop"  // log, count the frame as dropped and keep playing
	FramePolicyFatal FramePolicy = "fatal" // return the error to the host loop
)

// FinishMode decides how a draw call waits for the GPU.
type FinishMode string

const (
	FinishModeFinish FinishMode = "finish" // glFinish at the end of every draw
	FinishModeFence  FinishMode = "fence"  // fence after the draw, waited on by the next draw
)

// Config holds every runtime setting of the player. Values come from the
// environment (optionally seeded by a .env file) and an optional settings file.
type Config struct {
	VideoURI     string      `mapstructure:"video_uri"`
	WindowTitle  string      `mapstructure:"window_title"`
	WindowWidth  int         `mapstructure:"window_width"`
	WindowHeight int         `mapstructure:"window_height"`
	VSync        bool        `mapstructure:"vsync"`
	MaxFPS       int         `mapstructure:"max_fps"`
	Loop         bool        `mapstructure:"loop"`
	FramePolicy  FramePolicy `mapstructure:"frame_policy"`
	FinishMode   FinishMode  `mapstructure:"finish_mode"`
	ClearColor   string      `mapstructure:"clear_color"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	AssetsDir string `mapstructure:"assets_dir"`
	CacheDir  string `mapstructure:"cache_dir"`

	VideoDecoder         string `mapstructure:"video_decoder"`
	ForceSoftwareDecoder bool   `mapstructure:"force_software_decoder"`

	AWSRegion    string `mapstructure:"aws_default_region"`
	AWSAccessKey string `mapstructure:"aws_access_key_id"`
	AWSSecretKey string `mapstructure:"aws_secret_access_key"`
	AWSEndpoint  string `mapstructure:"aws_endpoint"`

	VideoDriver string `mapstructure:"sdl_videodriver"`
}

var defaults = map[string]any{
	"video_uri":              "pattern://red,blue?fps=30&seconds=2",
	"window_title":           "Flow Texture",
	"window_width":           1280,
	"window_height":          720,
	"vsync":                  true,
	"max_fps":                60,
	"loop":                   true,
	"frame_policy":           string(FramePolicyDrop),
	"finish_mode":            string(FinishModeFinish),
	"clear_color":            "0,1,1,1",
	"log_level":              "info",
	"log_format":             "console",
	"assets_dir":             "assets",
	"cache_dir":              "assets/tmp",
	"video_decoder":          "",
	"force_software_decoder": false,
	"aws_default_region":     "",
	"aws_access_key_id":      "",
	"aws_secret_access_key":  "",
	"aws_endpoint":           "",
	"sdl_videodriver":        "",
}

// Load reads the .env file at envFile (a missing file is not an error), then
// resolves every key from the environment, the optional CONFIG_FILE and the
// built-in defaults, in that order of precedence.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		// AutomaticEnv only consults the environment for keys viper already knows about.
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, err
		}
	}
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if strings.TrimSpace(c.VideoURI) == "" {
		return errors.New("config: VIDEO_URI is empty")
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		return fmt.Errorf("config: window size %dx%d must be positive", c.WindowWidth, c.WindowHeight)
	}
	if c.MaxFPS <= 0 {
		return fmt.Errorf("config: MAX_FPS %d must be positive", c.MaxFPS)
	}
	switch c.FramePolicy {
	case FramePolicyDrop, FramePolicyFatal:
	default:
		return fmt.Errorf("config: unknown FRAME_POLICY %q", c.FramePolicy)
	}
	switch c.FinishMode {
	case FinishModeFinish, FinishModeFence:
	default:
		return fmt.Errorf("config: unknown FINISH_MODE %q", c.FinishMode)
	}
	if _, err := c.ClearRGBA(); err != nil {
		return err
	}
	return nil
}

// ClearRGBA parses ClearColor ("r,g,b,a", each in [0,1]).
func (c Config) ClearRGBA() ([4]float32, error) {
	var rgba [4]float32
	parts := strings.Split(c.ClearColor, ",")
	if len(parts) != 4 {
		return rgba, fmt.Errorf("config: CLEAR_COLOR %q must have 4 components", c.ClearColor)
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return rgba, fmt.Errorf("config: CLEAR_COLOR component %d: %w", i, err)
		}
		if f < 0 || f > 1 {
			return rgba, fmt.Errorf("config: CLEAR_COLOR component %d out of range: %v", i, f)
		}
		rgba[i] = float32(f)
	}
	return rgba, nil
}
