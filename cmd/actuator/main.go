// Command actuator listens for gesture labels on the bus and drives the
// output pin: Thumb_Up sets it HIGH, Closed_Fist sets it LOW.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ayusman/thumbswitch/internal/actuator"
	"github.com/ayusman/thumbswitch/internal/bus"
	"github.com/ayusman/thumbswitch/internal/config"
	"github.com/ayusman/thumbswitch/internal/hardware"
	"github.com/ayusman/thumbswitch/internal/logging"
	"github.com/ayusman/thumbswitch/internal/server"
	"github.com/ayusman/thumbswitch/internal/store"
)

func main() {
	cfg, err := config.Resolve(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "actuator: %v\n", err)
		os.Exit(2)
	}

	logs := logging.Setup(logging.Options{Prefix: "actuator ", File: cfg.LogFile})
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
	mem := bus.NewMemory()
	defer mem.Close()
	mem.OnDrop = func(sub *bus.Subscription) {
		log.Printf("bus: %q queue full, dropped oldest (%d dropped so far)", sub.Channel(), sub.Dropped())
	}

	sub, err := mem.Subscribe(cfg.ChannelName, cfg.QueueDepth)
	if err != nil {
		return fmt.Errorf("subscribe %q: %w", cfg.ChannelName, err)
	}
	defer sub.Close()

	ln, err := net.Listen("tcp", cfg.BusAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.BusAddr, err)
	}

	ctrlCfg := actuator.DefaultConfig()
	ctrlCfg.Hold = cfg.HoldDuration
	ctrlCfg.QueueDepth = cfg.QueueDepth

	var st *store.Store
	if cfg.JournalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0755); err != nil {
			ln.Close()
			return fmt.Errorf("create journal directory: %w", err)
		}
		st, err = store.New(cfg.JournalPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("open journal: %w", err)
		}
		defer st.Close()

		journal, err := st.StartRun(cfg.PinID, cfg.PinDriver, cfg.HoldDuration)
		if err != nil {
			ln.Close()
			return err
		}
		ctrlCfg.Recorder = journal
		log.Printf("journal: %s (run %s)", cfg.JournalPath, journal.RunID())
	}

	pin, err := hardware.Open(cfg.PinOptions())
	if err != nil {
		ln.Close()
		return err
	}

	ctrl := actuator.New(pin, sub, ctrlCfg)
	srv := server.New(server.Config{
		State: ctrl,
		Bus:   bus.NewServer(mem),
		Store: st,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	go func() {
		err := srv.Serve(runCtx, ln)
		if err != nil {
			log.Printf("server: %v", err)
			cancel()
		}
		srvErr <- err
	}()

	log.Printf("listening for %q on %s, driving pin %d via %s",
		cfg.ChannelName, cfg.BusAddr, cfg.PinID, cfg.PinDriver)

	runErr := ctrl.Run(runCtx)
	cancel()

	return errors.Join(runErr, <-srvErr)
}
