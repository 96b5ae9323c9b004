package capture

import (
	"errors"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"photo", ModePhoto, false},
		{"video", ModeVideo, false},
		{"", "", true},
		{"timelapse", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestActivityString(t *testing.T) {
	if got := Idle().String(); got != "idle" {
		t.Errorf("expected idle, got %s", got)
	}
	if got := PhotoActivity(true).String(); got != "photo(willCapture: true)" {
		t.Errorf("unexpected photo activity string: %s", got)
	}
	if got := VideoActivity(1500 * time.Millisecond).String(); got != "video(1.5s)" {
		t.Errorf("unexpected video activity string: %s", got)
	}
	if !Idle().IsIdle() || PhotoActivity(false).IsIdle() {
		t.Error("IsIdle mismatch")
	}
}

func TestDeviceError(t *testing.T) {
	err := WrapDeviceError("cam-1", "lock", ErrDeviceChangeFailed)
	if !errors.Is(err, ErrDeviceChangeFailed) {
		t.Errorf("expected wrapped ErrDeviceChangeFailed, got %v", err)
	}

	var devErr *DeviceError
	if !errors.As(err, &devErr) || devErr.DeviceID != "cam-1" {
		t.Errorf("expected DeviceError for cam-1, got %v", err)
	}

	if WrapDeviceError("cam-1", "lock", nil) != nil {
		t.Error("expected nil for nil error")
	}
}
