// Command gesture-publisher classifies camera frames and publishes the top
// gesture label of every frame with a detected hand.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayusman/thumbswitch/internal/bus"
	"github.com/ayusman/thumbswitch/internal/capture"
	"github.com/ayusman/thumbswitch/internal/classifier"
	"github.com/ayusman/thumbswitch/internal/config"
	"github.com/ayusman/thumbswitch/internal/logging"
	"github.com/ayusman/thumbswitch/internal/publisher"
)

func main() {
	cfg, err := config.Resolve(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "gesture-publisher: %v\n", err)
		os.Exit(2)
	}

	logs := logging.Setup(logging.Options{Prefix: "publisher ", File: cfg.LogFile})
	defer logs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Printf("exiting: %v", err)
		logs.Close()
		os.Exit(1)
	}
	log.Println("stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	clsCfg := classifier.DefaultConfig()
	clsCfg.ModelPath = cfg.ModelPath
	cls, err := classifier.NewMediaPipeClassifier(clsCfg)
	if err != nil {
		return fmt.Errorf("gesture classifier: %w", err)
	}

	var cam capture.Camera
	if cfg.VideoPath != "" {
		cam = capture.NewVideoSource(cfg.VideoPath)
		log.Printf("reading frames from %s", cfg.VideoPath)
	} else {
		cam = capture.NewCamera(cfg.CameraID)
		if cfg.FPS > 0 {
			cam.SetFPS(cfg.FPS)
		}
		log.Printf("reading frames from camera %d", cfg.CameraID)
	}

	client := bus.NewClient(cfg.BusAddr)
	defer client.Close()

	pubCfg := publisher.Config{
		Channel:       cfg.ChannelName,
		MinConfidence: cfg.MinConfidence,
	}
	if cfg.FPS > 0 {
		pubCfg.FrameInterval = time.Second / time.Duration(cfg.FPS)
	}

	p := publisher.New(cam, cls, client, pubCfg)
	err = p.Run(ctx)

	s := p.Stats()
	log.Printf("processed %d frames: %d published, %d without hand, %d skipped",
		s.Frames, s.Published, s.NoHand, s.Recoverable)
	return err
}
