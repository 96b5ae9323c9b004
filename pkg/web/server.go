// Package web serves the capture control API, the live preview and status
// websockets.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/hub"
	"github.com/teslashibe/go-capture/pkg/output"
	"github.com/teslashibe/go-capture/pkg/session"
)

// Config holds web server settings.
type Config struct {
	Port string `yaml:"port" json:"port"`
	// Debug enables request logging.
	Debug bool `yaml:"debug" json:"debug"`
	// StatusInterval is how often the full status is pushed on /ws/status.
	StatusInterval time.Duration `yaml:"status_interval" json:"status_interval"`
	// CaptureTimeout bounds photo and movie waits in handlers.
	CaptureTimeout time.Duration `yaml:"capture_timeout" json:"capture_timeout"`

	Preview PreviewConfig `yaml:"-" json:"-"`
	// Thumbnail sizes the per-filter previews added through the API.
	Thumbnail PreviewConfig `yaml:"thumbnail" json:"thumbnail"`
}

// DefaultConfig returns port 8090 with default preview settings.
func DefaultConfig() Config {
	return Config{
		Port:           "8090",
		StatusInterval: 2 * time.Second,
		CaptureTimeout: 10 * time.Second,
		Preview:        DefaultPreviewConfig(),
		Thumbnail:      PreviewConfig{MaxFPS: 2, JPEGQuality: 70, MaxDimension: 160},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("web: port is required")
	}
	if c.StatusInterval <= 0 || c.CaptureTimeout <= 0 {
		return errors.New("web: status_interval and capture_timeout must be positive")
	}
	if c.Preview.JPEGQuality < 1 || c.Preview.JPEGQuality > 100 {
		return fmt.Errorf("web: preview jpeg_quality %d out of range", c.Preview.JPEGQuality)
	}
	if c.Preview.MaxFPS < 0 {
		return errors.New("web: preview max_fps must not be negative")
	}
	if c.Thumbnail.JPEGQuality < 1 || c.Thumbnail.JPEGQuality > 100 {
		return fmt.Errorf("web: thumbnail jpeg_quality %d out of range", c.Thumbnail.JPEGQuality)
	}
	if c.Thumbnail.MaxFPS < 0 || c.Thumbnail.MaxDimension < 0 {
		return errors.New("web: thumbnail max_fps and max_dimension must not be negative")
	}
	return nil
}

// Server is the control API server.
type Server struct {
	app    *fiber.App
	cfg    Config
	logger *slog.Logger
	orch   *session.Orchestrator

	previewHub *hub.Hub
	statusHub  *hub.Hub
	preview    *PreviewSink

	thumbsMu sync.RWMutex
	thumbs   map[filter.ID]*ThumbnailSink

	recMu     sync.Mutex
	recording *output.MovieBridge

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server driving orch.
func NewServer(cfg Config, orch *session.Orchestrator, log *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:        cfg,
		logger:     log.With("component", "web"),
		orch:       orch,
		previewHub: hub.New("preview", log),
		statusHub:  hub.New("status", log),
		thumbs:     make(map[filter.ID]*ThumbnailSink),
	}
	s.preview = NewPreviewSink("web-preview", s.previewHub, cfg.Preview, log)

	app := fiber.New(fiber.Config{
		AppName:               "go-capture",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/devices", s.handleDevices)

	api.Post("/session/start", s.handleStart)
	api.Post("/session/stop", s.handleStop)
	api.Post("/session/resume", s.handleResume)
	api.Post("/session/teardown", s.handleTeardown)
	api.Post("/mode", s.handleMode)

	api.Post("/camera/switch", s.handleSwitch)
	api.Post("/camera/select", s.handleSelectCamera)
	api.Post("/camera/focus", s.handleFocus)
	api.Get("/camera/config", s.handleGetCameraConfig)
	api.Put("/camera/config", s.handleUpdateCameraConfig)
	api.Get("/camera/presets", s.handlePresets)
	api.Get("/camera/capabilities", s.handleCapabilities)

	api.Post("/photo", s.handlePhoto)
	api.Post("/video/start", s.handleVideoStart)
	api.Post("/video/stop", s.handleVideoStop)

	api.Get("/filters", s.handleListFilters)
	api.Post("/filters/select", s.handleSelectFilter)
	api.Post("/filters/params", s.handleFilterParam)
	api.Get("/filters/preview", s.handleListPreviewFilters)
	api.Get("/filters/:id/preview", s.handleFilterPreview)
	api.Put("/filters/:id/preview", s.handleAddPreviewFilter)
	api.Delete("/filters/:id/preview", s.handleRemovePreviewFilter)
	api.Post("/filters/:id/params", s.handlePreviewParam)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/preview", websocket.New(s.handlePreviewWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	s.app = app
	return s, nil
}

// App returns the fiber application.
func (s *Server) App() *fiber.App { return s.app }

// PreviewSink returns the sink to connect as the preview chain's output.
func (s *Server) PreviewSink() *PreviewSink { return s.preview }

// AddThumbnail registers the filter preview for id.
func (s *Server) AddThumbnail(id filter.ID, t *ThumbnailSink) {
	s.thumbsMu.Lock()
	s.thumbs[id] = t
	s.thumbsMu.Unlock()
}

// NewThumbnail builds a preview sink for id sized by the thumbnail config.
func (s *Server) NewThumbnail(id filter.ID) *ThumbnailSink {
	t := s.cfg.Thumbnail
	return NewThumbnailSink(fmt.Sprintf("thumb-%d", id), t.MaxDimension, t.JPEGQuality, t.MaxFPS)
}

func (s *Server) removeThumbnail(id filter.ID) {
	s.thumbsMu.Lock()
	delete(s.thumbs, id)
	s.thumbsMu.Unlock()
}

// Run starts the hubs, the preview encoder and the status pump. It returns
// immediately; Shutdown stops them.
func (s *Server) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.runMu.Lock()
	s.cancel = cancel
	s.runMu.Unlock()

	s.wg.Add(4)
	go func() { defer s.wg.Done(); s.previewHub.Run(ctx) }()
	go func() { defer s.wg.Done(); s.statusHub.Run(ctx) }()
	go func() { defer s.wg.Done(); s.preview.Run(ctx) }()
	go func() { defer s.wg.Done(); s.pumpStatus(ctx) }()
}

// Listen serves on the configured port until Shutdown.
func (s *Server) Listen() error {
	s.logger.Info("web server listening", "port", s.cfg.Port)
	return s.app.Listen(":" + s.cfg.Port)
}

// Listener serves on ln until Shutdown.
func (s *Server) Listener(ln net.Listener) error {
	s.logger.Info("web server listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops the background goroutines and the HTTP server.
func (s *Server) Shutdown() error {
	s.runMu.Lock()
	cancel := s.cancel
	s.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	return s.app.Shutdown()
}

// statusEvent is the /ws/status payload.
type statusEvent struct {
	Type     string          `json:"type"`
	Status   *session.Status `json:"status,omitempty"`
	Activity interface{}     `json:"activity,omitempty"`
}

// pumpStatus forwards merged activity as it changes and the full status
// periodically.
func (s *Server) pumpStatus(ctx context.Context) {
	acts, unsubscribe := s.orch.SubscribeActivity()
	defer unsubscribe()
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-acts:
			if !ok {
				return
			}
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			if err := s.statusHub.BroadcastJSON(statusEvent{Type: "activity", Activity: a}); err != nil {
				s.logger.Warn("encode activity failed", "error", err)
			}
		case <-ticker.C:
			if s.statusHub.ClientCount() == 0 {
				continue
			}
			st := s.orch.Status()
			if err := s.statusHub.BroadcastJSON(statusEvent{Type: "status", Status: &st}); err != nil {
				s.logger.Warn("encode status failed", "error", err)
			}
		}
	}
}

func (s *Server) handlePreviewWS(c *websocket.Conn) {
	client, err := hub.NewClient(s.previewHub, c)
	if err != nil {
		c.Close()
		return
	}
	client.Run()
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	st := s.orch.Status()
	if err := c.WriteJSON(statusEvent{Type: "status", Status: &st}); err != nil {
		c.Close()
		return
	}
	client, err := hub.NewClient(s.statusHub, c)
	if err != nil {
		c.Close()
		return
	}
	client.Run()
}
