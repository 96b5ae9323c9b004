package hw

import "fmt"

// NotificationKind identifies a session notification.
type NotificationKind int

const (
	InterruptionBegan NotificationKind = iota + 1
	InterruptionEnded
	RuntimeError
)

func (k NotificationKind) String() string {
	switch k {
	case InterruptionBegan:
		return "interruption-began"
	case InterruptionEnded:
		return "interruption-ended"
	case RuntimeError:
		return "runtime-error"
	default:
		return fmt.Sprintf("notification(%d)", int(k))
	}
}

// Notification is an event raised by the session outside any caller's
// request.
type Notification struct {
	Kind NotificationKind
	// Reason describes an interruption, e.g. "device in use".
	Reason string
	Err    error
	// MediaServicesReset is set on runtime errors after which the session
	// can simply be restarted.
	MediaServicesReset bool
}

// post delivers n without blocking. Notifications are dropped once the
// session is closed or the buffer is full.
func (s *CaptureSession) post(n Notification) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.notify <- n:
	default:
		s.logger.Warn("notification dropped", "kind", n.Kind)
	}
}

// Interrupt simulates another client taking the camera: delivery stops and
// the session reports itself interrupted.
func (s *CaptureSession) Interrupt(reason string) {
	s.StopRunning()
	s.stateMu.Lock()
	s.interrupted = true
	s.stateMu.Unlock()

	s.logger.Warn("session interrupted", "reason", reason)
	s.post(Notification{Kind: InterruptionBegan, Reason: reason})
}

// EndInterruption clears the interruption. Delivery is not restarted here.
func (s *CaptureSession) EndInterruption() {
	s.stateMu.Lock()
	was := s.interrupted
	s.interrupted = false
	s.stateMu.Unlock()
	if !was {
		return
	}

	s.logger.Info("session interruption ended")
	s.post(Notification{Kind: InterruptionEnded})
}

// InjectRuntimeError stops delivery and reports err.
func (s *CaptureSession) InjectRuntimeError(err error, mediaServicesReset bool) {
	s.StopRunning()
	s.logger.Error("session runtime error", "error", err, "media_services_reset", mediaServicesReset)
	s.post(Notification{Kind: RuntimeError, Err: err, MediaServicesReset: mediaServicesReset})
}
