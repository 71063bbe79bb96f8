// Package host owns the SDL window, the GL context and the render loop.
// Everything here must run on the main OS thread.
package host

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/veandco/go-sdl2/sdl"

	"flow-texture/pkg/logging"
)

var ErrNoVideoDriver = errors.New("host: all SDL video drivers failed")

// videoDrivers lists the drivers to try in order. Only drivers that can
// provide an OpenGL context are included.
func videoDrivers(preferred string) []string {
	var drivers []string
	if preferred != "" {
		drivers = append(drivers, preferred)
	}
	if runtime.GOOS == "darwin" {
		return append(drivers, "cocoa")
	}
	return append(drivers, "kmsdrm", "wayland", "x11")
}

func applyDriverHints(driver string) {
	sdl.SetHint(sdl.HINT_VIDEODRIVER, driver)
	switch driver {
	case "kmsdrm":
		sdl.SetHint("SDL_KMSDRM_REQUIRE_DRM_MASTER", "1")
		sdl.SetHint("SDL_VIDEO_KMSDRM_DEVINDEX", "0")
	case "wayland":
		sdl.SetHint("SDL_VIDEO_WAYLAND_WMCLASS", "flow-texture")
	case "x11":
		sdl.SetHint("SDL_VIDEO_X11_NET_WM_BYPASS_COMPOSITOR", "0")
	}
	sdl.SetHint(sdl.HINT_VIDEO_MINIMIZE_ON_FOCUS_LOSS, "0")
}

// InitSDL initializes the SDL video subsystem with the first driver that
// works, starting with preferred, and returns that driver's name.
func InitSDL(preferred string, log zerolog.Logger) (string, error) {
	log = logging.Component(log, "host")
	logSystemInfo(log)

	for _, driver := range videoDrivers(preferred) {
		sdl.Quit()
		applyDriverHints(driver)
		if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
			log.Warn().Err(err).Str("driver", driver).Msg("SDL video driver failed")
			continue
		}
		name, err := sdl.GetCurrentVideoDriver()
		if err != nil {
			log.Warn().Err(err).Str("driver", driver).Msg("SDL video driver unavailable")
			continue
		}
		log.Info().Str("driver", name).Msg("SDL initialized")
		return name, nil
	}
	return "", ErrNoVideoDriver
}

// Quit shuts SDL down.
func Quit() { sdl.Quit() }

func logSystemInfo(log zerolog.Logger) {
	ev := log.Debug().Str("os", runtime.GOOS).Str("display", os.Getenv("DISPLAY"))
	if model, err := os.ReadFile("/proc/device-tree/model"); err == nil {
		ev = ev.Str("device", string(model))
	}
	_, dri := os.Stat("/dev/dri")
	ev.Bool("dri", dri == nil).Msg("system information")
}

func logDisplays(log zerolog.Logger) {
	n, err := sdl.GetNumVideoDisplays()
	if err != nil {
		log.Warn().Err(err).Msg("could not enumerate displays")
		return
	}
	for i := 0; i < n; i++ {
		mode, err := sdl.GetCurrentDisplayMode(i)
		if err != nil {
			continue
		}
		name, _ := sdl.GetDisplayName(i)
		log.Debug().Int("display", i).Str("name", name).
			Int32("width", mode.W).Int32("height", mode.H).Int32("refresh_hz", mode.RefreshRate).
			Msg("display")
	}
}

func sdlError(op string, err error) error {
	return fmt.Errorf("host: %s: %w", op, err)
}
