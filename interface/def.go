package iface

import (
	"errors"
	"fmt"
)

type PixelFormat int

const (
	// GrayscaleDoubled stores one gray byte per pixel followed by one padding byte.
	GrayscaleDoubled PixelFormat = iota + 1
	// RGB565 stores one pixel as two bytes: RRRRRGGG GGGBBBBB.
	RGB565
)

func (p PixelFormat) String() string {
	switch p {
	case GrayscaleDoubled:
		return "grayscale"
	case RGB565:
		return "rgb565"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(p))
}

// BytesPerPixel returns the stride of one pixel in a frame buffer, 0 for unknown formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case GrayscaleDoubled, RGB565:
		return 2
	}
	return 0
}

type TransferMode int

const (
	TransferDMA TransferMode = iota + 1
	TransferPolled
)

func (m TransferMode) String() string {
	switch m {
	case TransferDMA:
		return "dma"
	case TransferPolled:
		return "polled"
	}
	return fmt.Sprintf("TransferMode(%d)", int(m))
}

// Frame is borrowed from the camera. Data is only valid until the next StartCapture.
type Frame struct {
	Width  int
	Height int
	Format PixelFormat
	Data   []byte
}

func (f Frame) Len() int {
	return len(f.Data)
}

// Validate checks that the buffer holds exactly Width*Height pixels of Format.
func (f Frame) Validate() error {
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("unsupported pixel format %v", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * bpp; len(f.Data) != want {
		return fmt.Errorf("frame length %d, want %d", len(f.Data), want)
	}
	return nil
}

// ConfigError reports a peripheral that could not be set up. It is always fatal.
type ConfigError struct {
	Component string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("error initializing %s: %v", e.Component, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func NewConfigError(component string, err error) error {
	return &ConfigError{Component: component, Err: err}
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// EngineConfig describes a loaded inference engine.
type EngineConfig struct {
	ModelPath   string `json:"modelPath"`
	InputWidth  int    `json:"inputWidth"`
	InputHeight int    `json:"inputHeight"`
	Channels    int    `json:"channels"`
	NumOutputs  int    `json:"numOutputs"`
	State       string `json:"state"`
}
