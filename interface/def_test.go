package iface

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrame_Validate(t *testing.T) {
	assert.NoError(t, Frame{Width: 2, Height: 2, Format: RGB565, Data: make([]byte, 8)}.Validate())
	assert.Error(t, Frame{Width: 2, Height: 2, Format: RGB565, Data: make([]byte, 7)}.Validate())
	assert.Error(t, Frame{Width: 0, Height: 2, Format: GrayscaleDoubled}.Validate())
	assert.Error(t, Frame{Width: 1, Height: 1, Format: PixelFormat(0), Data: make([]byte, 2)}.Validate())
}

func TestConfigError(t *testing.T) {
	err := NewConfigError("camera", fs.ErrNotExist)
	assert.Equal(t, "error initializing camera: file does not exist", err.Error())
	assert.ErrorIs(t, err, fs.ErrNotExist)

	wrapped := fmt.Errorf("setup: %w", err)
	assert.True(t, IsConfigError(wrapped))
	var ce *ConfigError
	assert.True(t, errors.As(wrapped, &ce))
	assert.Equal(t, "camera", ce.Component)

	assert.False(t, IsConfigError(errors.New("plain")))
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "grayscale", GrayscaleDoubled.String())
	assert.Equal(t, "rgb565", RGB565.String())
	assert.Equal(t, "PixelFormat(9)", PixelFormat(9).String())
	assert.Equal(t, "dma", TransferDMA.String())
	assert.Equal(t, "polled", TransferPolled.String())
}
