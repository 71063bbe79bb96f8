package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"flow-texture/pkg/config"
	"flow-texture/pkg/host"
	"flow-texture/pkg/logging"
	"flow-texture/pkg/performance"
	"flow-texture/pkg/player"
	"flow-texture/pkg/render"
)

func init() {
	// SDL and the GL context are bound to the main OS thread.
	runtime.LockOSThread()
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "flow-texture:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	clearColor, err := cfg.ClearRGBA()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := player.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s: %w", cfg.VideoURI, err)
	}
	pipeline := render.New(src,
		render.WithLogger(log),
		render.WithFramePolicy(cfg.FramePolicy),
		render.WithFinishMode(cfg.FinishMode),
		render.WithClearColor(clearColor),
		render.WithMonitor(performance.NewMonitor(120)),
	)

	if _, err := host.InitSDL(cfg.VideoDriver, log); err != nil {
		return err
	}
	defer host.Quit()

	window, err := host.OpenWindow(cfg, log)
	if err != nil {
		return err
	}
	defer window.Close()

	log.Info().Str("title", cfg.WindowTitle).Str("uri", cfg.VideoURI).Msg("starting playback")
	if err := host.Run(ctx, window, pipeline, log); err != nil {
		return err
	}
	log.Info().Msg("shutting down")
	return nil
}
