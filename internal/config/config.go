// Package config loads the go-capture configuration file and applies
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-capture/pkg/audioio"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/output"
	"github.com/teslashibe/go-capture/pkg/session"
	"github.com/teslashibe/go-capture/pkg/web"
)

// Discoverer names.
const (
	DiscovererMock         = "mock"
	DiscovererMediaDevices = "mediadevices"
)

// DeviceConfig selects how hardware is found.
type DeviceConfig struct {
	Discoverer   string                    `yaml:"discoverer"`
	PollInterval time.Duration             `yaml:"poll_interval"`
	Capture      device.MediaDevicesConfig `yaml:"capture"`
}

// Config aggregates all application configuration.
type Config struct {
	LogLevel string            `yaml:"log_level"`
	Device   DeviceConfig      `yaml:"device"`
	Session  session.Config    `yaml:"session"`
	Audio    audioio.Config    `yaml:"audio"`
	Output   output.Config     `yaml:"output"`
	Preview  web.PreviewConfig `yaml:"preview"`
	Filters  []filter.Filter   `yaml:"filters"`
	Web      web.Config        `yaml:"web"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogLevel: "info",
		Device: DeviceConfig{
			Discoverer:   DiscovererMock,
			PollInterval: 2 * time.Second,
			Capture:      device.DefaultMediaDevicesConfig(),
		},
		Session: session.DefaultConfig(),
		Audio:   audioio.DefaultConfig(),
		Output:  output.DefaultConfig(),
		Preview: web.DefaultPreviewConfig(),
		Web:     web.DefaultConfig(),
	}
}

// Load reads path over the defaults, then applies CAPTURE_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CAPTURE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CAPTURE_DISCOVERER"); v != "" {
		c.Device.Discoverer = v
	}
	if v := os.Getenv("CAPTURE_BACKEND"); v != "" {
		c.Session.Backend = output.Backend(v)
	}
	if v := os.Getenv("CAPTURE_MODE"); v != "" {
		c.Session.Mode = capture.Mode(v)
	}
	if v := os.Getenv("CAPTURE_AUDIO"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CAPTURE_AUDIO: %w", err)
		}
		c.Session.Audio = on
	}
	if v := os.Getenv("CAPTURE_MOVIE_DIR"); v != "" {
		c.Output.MovieDir = v
	}
	if v := os.Getenv("CAPTURE_PORT"); v != "" {
		c.Web.Port = v
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	switch c.Device.Discoverer {
	case DiscovererMock, DiscovererMediaDevices:
	default:
		return fmt.Errorf("device.discoverer must be %q or %q, got %q",
			DiscovererMock, DiscovererMediaDevices, c.Device.Discoverer)
	}
	if c.Device.PollInterval <= 0 {
		return errors.New("device.poll_interval must be positive")
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.Output.Validate(); err != nil {
		return err
	}
	if err := c.WebConfig().Validate(); err != nil {
		return err
	}

	seen := make(map[filter.ID]bool, len(c.Filters))
	for _, f := range c.Filters {
		if seen[f.ID] {
			return fmt.Errorf("filters: duplicate id %d", f.ID)
		}
		seen[f.ID] = true
		if err := f.Validate(); err != nil {
			return fmt.Errorf("filters: %s: %w", f, err)
		}
	}
	return nil
}

// WebConfig returns the web section with the preview settings applied.
func (c *Config) WebConfig() web.Config {
	w := c.Web
	w.Preview = c.Preview
	return w
}

// Catalogue returns the built-in filters with configured filters added or
// replacing built-ins that share an ID, ordered by ID.
func (c *Config) Catalogue() []filter.Filter {
	byID := make(map[filter.ID]filter.Filter)
	for _, f := range filter.Builtins() {
		byID[f.ID] = f
	}
	for _, f := range c.Filters {
		byID[f.ID] = f
	}
	out := make([]filter.Filter, 0, len(byID))
	for _, f := range byID {
		out = append(out, f)
	}
	filter.Sort(out)
	return out
}
