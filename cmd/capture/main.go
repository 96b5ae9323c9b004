// capture runs a live camera pipeline with a web control API.
// Frames come from pion/mediadevices or a synthetic mock camera; stills and
// movies are written by the configured rendering backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/pion/mediadevices/pkg/driver/camera"

	"github.com/teslashibe/go-capture/internal/config"
	caplog "github.com/teslashibe/go-capture/internal/log"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/output"
)

type flags struct {
	configPath  string
	backend     string
	mode        string
	port        string
	discoverer  string
	debug       bool
	listDevices bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	flag.StringVar(&f.backend, "backend", "", "Rendering backend: native, gpu, static")
	flag.StringVar(&f.mode, "mode", "", "Initial capture mode: photo, video")
	flag.StringVar(&f.port, "port", "", "HTTP port for the control API")
	flag.StringVar(&f.discoverer, "discoverer", "", "Device discoverer: mock, mediadevices")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging and request logs")
	flag.BoolVar(&f.listDevices, "list-devices", false, "List capture devices and exit")
	flag.Parse()
	return f
}

// apply overrides cfg with flags that were set.
func (f flags) apply(cfg *config.Config) error {
	if f.backend != "" {
		b, err := output.ParseBackend(f.backend)
		if err != nil {
			return err
		}
		cfg.Session.Backend = b
	}
	if f.mode != "" {
		m, err := capture.ParseMode(f.mode)
		if err != nil {
			return err
		}
		cfg.Session.Mode = m
	}
	if f.port != "" {
		cfg.Web.Port = f.port
	}
	if f.discoverer != "" {
		cfg.Device.Discoverer = f.discoverer
	}
	if f.debug {
		cfg.LogLevel = "debug"
		cfg.Web.Debug = true
	}
	return cfg.Validate()
}

func main() {
	f := parseFlags()

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if err := f.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := caplog.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if f.listDevices {
		if err := listDevices(ctx, cfg, logger); err != nil {
			logger.Error("list devices failed", "error", err)
			os.Exit(1)
		}
		return
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}
