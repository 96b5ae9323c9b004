package web

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-capture/pkg/camera"
	"github.com/teslashibe/go-capture/pkg/capture"
	"github.com/teslashibe/go-capture/pkg/device"
	"github.com/teslashibe/go-capture/pkg/filter"
	"github.com/teslashibe/go-capture/pkg/output"
	"github.com/teslashibe/go-capture/pkg/session"
)

var errNotRecording = errors.New("web: no recording in progress")

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, capture.ErrNotAuthorized):
		return fiber.StatusForbidden
	case errors.Is(err, session.ErrUnknownFilter),
		errors.Is(err, capture.ErrVideoDeviceUnavailable),
		errors.Is(err, capture.ErrAudioDeviceUnavailable):
		return fiber.StatusNotFound
	case errors.Is(err, camera.ErrInvalidConfig),
		errors.Is(err, filter.ErrUnknownParam):
		return fiber.StatusBadRequest
	case errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrWrongMode),
		errors.Is(err, output.ErrRecordingInProgress),
		errors.Is(err, capture.ErrDeviceChangeFailed),
		errors.Is(err, errNotRecording):
		return fiber.StatusConflict
	case errors.Is(err, capture.ErrClosed):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) captureContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), s.cfg.CaptureTimeout)
}

func badRequest(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, err.Error())
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.orch.Status())
}

func (s *Server) handleDevices(c *fiber.Ctx) error {
	reg := s.orch.Registry()
	return c.JSON(fiber.Map{
		"cameras":          reg.Cameras(),
		"microphones":      reg.Microphones(),
		"user_preferred":   reg.UserPreferred(),
		"system_preferred": reg.SystemPreferred(),
	})
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.orch.Start(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.orch.Status())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.orch.Stop(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.orch.Status())
}

func (s *Server) handleResume(c *fiber.Ctx) error {
	if err := s.orch.Resume(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.orch.Status())
}

func (s *Server) handleTeardown(c *fiber.Ctx) error {
	if err := s.orch.Teardown(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.orch.Status())
}

// ModeRequest is the body of POST /api/mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(c *fiber.Ctx) error {
	var req ModeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	mode, err := capture.ParseMode(req.Mode)
	if err != nil {
		return badRequest(err)
	}
	if err := s.orch.SetCaptureMode(c.UserContext(), mode); err != nil {
		return err
	}
	return c.JSON(s.orch.Status())
}

func (s *Server) handleSwitch(c *fiber.Ctx) error {
	if err := s.orch.SwitchCamera(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(s.orch.Status())
}

// SelectCameraRequest is the body of POST /api/camera/select.
type SelectCameraRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleSelectCamera(c *fiber.Ctx) error {
	var req SelectCameraRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	if err := s.orch.SelectCamera(c.UserContext(), req.ID); err != nil {
		return err
	}
	return c.JSON(s.orch.Status())
}

func (s *Server) handleFocus(c *fiber.Ctx) error {
	var p device.Point
	if err := c.BodyParser(&p); err != nil {
		return badRequest(err)
	}
	if err := s.orch.FocusAndExpose(c.UserContext(), p); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"focus": p.Clamp()})
}

func (s *Server) handleGetCameraConfig(c *fiber.Ctx) error {
	return c.JSON(s.orch.Camera().GetConfigJSON())
}

func (s *Server) handleUpdateCameraConfig(c *fiber.Ctx) error {
	params := make(map[string]interface{})
	if err := c.BodyParser(&params); err != nil {
		return badRequest(err)
	}
	if err := s.orch.Camera().UpdateConfig(params); err != nil {
		return err
	}
	return c.JSON(s.orch.Camera().GetConfigJSON())
}

func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(camera.Presets())
}

func (s *Server) handleCapabilities(c *fiber.Ctx) error {
	st := s.orch.Status()
	if st.Camera == nil {
		return capture.ErrVideoDeviceUnavailable
	}
	return c.JSON(camera.Capabilities(*st.Camera))
}

// PhotoRequest is the optional body of POST /api/photo.
type PhotoRequest struct {
	Deferred bool   `json:"deferred"`
	Quality  string `json:"quality"`
	Flash    bool   `json:"flash"`
}

func (s *Server) handlePhoto(c *fiber.Ctx) error {
	var req PhotoRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(err)
		}
	}
	ctx, cancel := s.captureContext(c)
	defer cancel()

	p, err := s.orch.CapturePhoto(ctx, capture.PhotoFeatures{
		Deferred: req.Deferred,
		Quality:  capture.QualityPrioritization(req.Quality),
		Flash:    req.Flash,
	})
	if err != nil {
		return err
	}
	c.Set("X-Photo-Id", p.ID)
	c.Set("X-Photo-Proxy", strconv.FormatBool(p.IsProxy))
	c.Set("X-Photo-Size", strconv.Itoa(p.Width)+"x"+strconv.Itoa(p.Height))
	c.Type("jpeg")
	return c.Send(p.Data)
}

// VideoRequest is the optional body of POST /api/video/start.
type VideoRequest struct {
	Audio bool `json:"audio"`
	HDR   bool `json:"hdr"`
}

func (s *Server) handleVideoStart(c *fiber.Ctx) error {
	var req VideoRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(err)
		}
	}
	b, err := s.orch.StartRecording(c.UserContext(), capture.VideoFeatures{Audio: req.Audio, HDR: req.HDR})
	if err != nil {
		return err
	}
	s.recMu.Lock()
	s.recording = b
	s.recMu.Unlock()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": b.ID()})
}

func (s *Server) handleVideoStop(c *fiber.Ctx) error {
	s.recMu.Lock()
	b := s.recording
	s.recording = nil
	s.recMu.Unlock()
	if b == nil {
		return errNotRecording
	}

	s.orch.StopRecording()
	ctx, cancel := s.captureContext(c)
	defer cancel()
	v, err := b.Wait(ctx)
	if err != nil {
		return err
	}
	return c.JSON(v)
}

// filterInfo describes one catalogue entry.
type filterInfo struct {
	filter.Filter
	Specs    []filter.ParamSpec `json:"specs"`
	Selected bool               `json:"selected"`
}

func (s *Server) handleListFilters(c *fiber.Ctx) error {
	selected := s.orch.SelectedFilter()
	fs := s.orch.Filters()
	out := make([]filterInfo, 0, len(fs))
	for _, f := range fs {
		specs, _ := filter.Specs(f.Kind)
		info := filterInfo{Filter: f, Specs: specs, Selected: f.ID == selected.ID}
		if info.Selected {
			info.Params = selected.Params
		}
		out = append(out, info)
	}
	return c.JSON(out)
}

// SelectFilterRequest is the body of POST /api/filters/select.
type SelectFilterRequest struct {
	ID int `json:"id"`
}

func (s *Server) handleSelectFilter(c *fiber.Ctx) error {
	var req SelectFilterRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	if err := s.orch.SelectFilter(c.UserContext(), filter.ID(req.ID)); err != nil {
		return err
	}
	return c.JSON(s.orch.SelectedFilter())
}

// FilterParamRequest is the body of POST /api/filters/params.
type FilterParamRequest struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (s *Server) handleFilterParam(c *fiber.Ctx) error {
	var req FilterParamRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	if err := s.orch.SetFilterParam(c.UserContext(), req.Name, req.Value); err != nil {
		return err
	}
	return c.JSON(s.orch.SelectedFilter())
}

func (s *Server) handleFilterPreview(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return badRequest(err)
	}
	s.thumbsMu.RLock()
	t, ok := s.thumbs[filter.ID(id)]
	s.thumbsMu.RUnlock()
	if !ok {
		return session.ErrUnknownFilter
	}
	data, ready, err := t.JPEG()
	if err != nil {
		return err
	}
	if !ready {
		return c.SendStatus(fiber.StatusNoContent)
	}
	c.Type("jpeg")
	return c.Send(data)
}

func (s *Server) handleListPreviewFilters(c *fiber.Ctx) error {
	fs := s.orch.PreviewFilters()
	if fs == nil {
		fs = []filter.Filter{}
	}
	return c.JSON(fs)
}

// handleAddPreviewFilter renders a catalogue filter as a new thumbnail.
func (s *Server) handleAddPreviewFilter(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return badRequest(err)
	}
	fid := filter.ID(id)
	t := s.NewThumbnail(fid)
	if err := s.orch.AddPreviewFilter(c.UserContext(), fid, t); err != nil {
		return err
	}
	s.AddThumbnail(fid, t)
	f, err := s.orch.PreviewFilter(fid)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(f)
}

func (s *Server) handleRemovePreviewFilter(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return badRequest(err)
	}
	if err := s.orch.RemovePreviewFilter(c.UserContext(), filter.ID(id)); err != nil {
		return err
	}
	s.removeThumbnail(filter.ID(id))
	return c.SendStatus(fiber.StatusNoContent)
}

// handlePreviewParam adjusts one thumbnail's filter without touching the
// main preview.
func (s *Server) handlePreviewParam(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil {
		return badRequest(err)
	}
	var req FilterParamRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	fid := filter.ID(id)
	if err := s.orch.SetPreviewParam(c.UserContext(), fid, req.Name, req.Value); err != nil {
		return err
	}
	f, err := s.orch.PreviewFilter(fid)
	if err != nil {
		return err
	}
	return c.JSON(f)
}
