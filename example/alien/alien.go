package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/swdee/go-posepuppet/config"
	"github.com/swdee/go-posepuppet/logging"
	"github.com/swdee/go-posepuppet/pipeline"
)

func main() {
	// disable logging timestamps
	log.SetFlags(0)

	// read in cli flags
	cfgFile := flag.String("c", "", "YAML configuration file, defaults are used when empty")
	vidFile := flag.String("v", "", "Camera index, video file or stream URL, overrides the configuration")
	modelFile := flag.String("m", "", "YOLOv8-pose ONNX model file, overrides the configuration")
	variant := flag.String("p", "", "Puppet variant [dots|alien|rig|ellipsoid]")
	httpAddr := flag.String("a", "", "HTTP Address to stream on, format address:port")

	flag.Parse()

	cfg, err := config.Load(*cfgFile)

	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	if *vidFile != "" {
		cfg.Camera.Device = *vidFile
	}

	if *modelFile != "" {
		cfg.Estimator.Model = *modelFile
	}

	if *variant != "" {
		cfg.Render.Variant = *variant
	}

	if *httpAddr != "" {
		cfg.Stream.Addr = *httpAddr
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)

	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := pipeline.NewFromConfig(ctx, cfg, logger)

	if err != nil {
		logger.WithError(err).Fatal("Error creating pose puppet")
	}

	if cfg.Stream.Enabled {
		logger.Infof("Open browser and view video at http://%s/stream", cfg.Stream.Addr)
	}

	err = app.Run(ctx)

	if cerr := app.Close(); cerr != nil {
		logger.WithError(cerr).Warn("Error releasing resources")
	}

	stats := app.Stats()

	logger.WithField("frames_dropped", stats.FramesDropped).
		WithField("scenes_dropped", stats.ScenesDropped).
		WithField("emit_errors", stats.EmitErrors).
		Info("Stopped")

	if err != nil {
		logger.WithError(err).Fatal("Pose puppet failed")
	}
}
