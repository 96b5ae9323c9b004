package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidConfig is returned for settings that fail validation.
var ErrInvalidConfig = errors.New("camera: invalid config")

// Manager holds the current camera configuration and handles updates.
type Manager struct {
	config Config
	mu     sync.RWMutex

	// OnConfigChange applies a validated config to the active device.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager seeded with cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the current camera configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig validates cfg, applies it and stores it. A config the callback
// rejects is not stored.
func (m *Manager) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, errs)
	}

	m.mu.RLock()
	callback := m.OnConfigChange
	m.mu.RUnlock()

	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// SetHook replaces the OnConfigChange callback.
func (m *Manager) SetHook(fn func(Config) error) {
	m.mu.Lock()
	m.OnConfigChange = fn
	m.mu.Unlock()
}

// Update modifies the stored config without running the hook. It is used
// for values the pipeline itself changed, such as the last-used filter.
func (m *Manager) Update(fn func(*Config)) {
	m.mu.Lock()
	fn(&m.config)
	m.mu.Unlock()
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of field names to values; "preset" is applied first.
func (m *Manager) UpdateConfig(params map[string]interface{}) error {
	cfg := m.GetConfig()

	if presetName, ok := params["preset"].(string); ok {
		preset := GetPreset(presetName)
		if preset == nil {
			return fmt.Errorf("%w: unknown preset %s", ErrInvalidConfig, presetName)
		}
		// Keep pipeline state across presets.
		preset.RenderMode = cfg.RenderMode
		preset.LastFilter = cfg.LastFilter
		cfg = *preset
	}

	for key, value := range params {
		switch key {
		case "width":
			if v, ok := toInt(value); ok {
				cfg.Width = v
			}
		case "height":
			if v, ok := toInt(value); ok {
				cfg.Height = v
			}
		case "frame_rate":
			if v, ok := toInt(value); ok {
				cfg.FrameRate = v
			}
		case "quality":
			if v, ok := toInt(value); ok {
				cfg.Quality = v
			}
		case "exposure_bias":
			if v, ok := toFloat(value); ok {
				cfg.ExposureBias = v
			}
		case "white_balance":
			if v, ok := toFloat(value); ok {
				cfg.WhiteBalance = v
			}
		case "zoom":
			if v, ok := toFloat(value); ok {
				cfg.Zoom = v
			}
		case "render_mode":
			if v, ok := value.(string); ok {
				cfg.RenderMode = RenderMode(v)
			}
		case "last_filter":
			if v, ok := toInt(value); ok {
				cfg.LastFilter = v
			}
		case "hdr":
			if v, ok := value.(bool); ok {
				cfg.HDR = v
			}
		}
	}

	return m.SetConfig(cfg)
}

// GetConfigJSON returns the current config as a map for JSON serialization.
func (m *Manager) GetConfigJSON() map[string]interface{} {
	cfg := m.GetConfig()

	data, _ := json.Marshal(cfg)
	var result map[string]interface{}
	_ = json.Unmarshal(data, &result)
	return result
}

func toInt(v interface{}) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
