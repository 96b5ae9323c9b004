package camera

import "github.com/teslashibe/go-capture/pkg/capture"

// Preset names. They double as session presets.
const (
	PresetPhoto  = "photo"
	PresetHigh   = "high"
	PresetHD720  = "hd720"
	PresetHD1080 = "hd1080"
	PresetLow    = "low"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetPhoto:  PhotoConfig(),
		PresetHigh:   HighConfig(),
		PresetHD720:  HD720Config(),
		PresetHD1080: HD1080Config(),
		PresetLow:    LowConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetPhoto,
		PresetHigh,
		PresetHD720,
		PresetHD1080,
		PresetLow,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// PresetForMode returns the session preset used in mode.
func PresetForMode(mode capture.Mode) string {
	if mode == capture.ModeVideo {
		return PresetHigh
	}
	return PresetPhoto
}

// PhotoConfig favours resolution over frame rate.
func PhotoConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 4032
	cfg.Height = 3024
	cfg.FrameRate = 30
	cfg.Quality = 95
	return cfg
}

// HighConfig is the movie preset: 1080p with HDR preferred.
func HighConfig() Config {
	cfg := DefaultConfig()
	cfg.HDR = true
	return cfg
}

// HD720Config returns 720p HD configuration.
func HD720Config() Config {
	cfg := DefaultConfig()
	cfg.Width = 1280
	cfg.Height = 720
	return cfg
}

// HD1080Config returns 1080p Full HD configuration.
func HD1080Config() Config {
	return DefaultConfig()
}

// LowConfig is for slow machines and previews over constrained links.
func LowConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 640
	cfg.Height = 480
	cfg.FrameRate = 15
	cfg.Quality = 70
	return cfg
}
