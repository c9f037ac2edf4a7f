// Package camera provides frame sources implementing the capture contract.
package camera

import (
	"errors"
	"fmt"

	iface "PresenceSensor/interface"
)

// Largest resolution the sensor can deliver in a single frame buffer.
const (
	MaxWidth  = 640
	MaxHeight = 640
)

var (
	ErrFrameNotReady  = errors.New("camera: frame not ready")
	ErrNotConfigured  = errors.New("camera: not configured")
	ErrCaptureRunning = errors.New("camera: capture already in progress")
)

// Validate checks a requested configuration against sensor capabilities.
func Validate(width, height int, format iface.PixelFormat, mode iface.TransferMode) error {
	if width < 1 || width > MaxWidth {
		return fmt.Errorf("width %d out of range [1, %d]", width, MaxWidth)
	}
	if height < 1 || height > MaxHeight {
		return fmt.Errorf("height %d out of range [1, %d]", height, MaxHeight)
	}
	if format.BytesPerPixel() == 0 {
		return fmt.Errorf("unsupported pixel format %v", format)
	}
	if mode != iface.TransferDMA && mode != iface.TransferPolled {
		return fmt.Errorf("unsupported transfer mode %v", mode)
	}
	return nil
}

// BufferSize is the frame length in bytes for a configuration.
func BufferSize(width, height int, format iface.PixelFormat) int {
	return width * height * format.BytesPerPixel()
}
