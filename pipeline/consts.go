package pipeline

import (
	"time"

	"PresenceSensor/decision"
	"PresenceSensor/engine"
	"PresenceSensor/register"
)

const (
	// BaudRate of the diagnostic console, reported in the startup banner.
	BaudRate = 115200
	// CameraFreq is the sensor master clock in Hz.
	CameraFreq = 10 * 1000 * 1000

	HeuristicWidth  = 40
	HeuristicHeight = 40

	// The acquisition keeps a 4:3 aspect ratio and is just large enough to hold the model input.
	AcquireWidth  = 240
	AcquireHeight = 180
	ModelWidth    = 120
	ModelHeight   = 160

	Confidence = 0.75
	Margin     = decision.DefaultMargin

	ControlRegister = register.ControlAddr
	StatusRegister  = register.StatusAddr
	FIFORegister    = register.FIFOAddr
	OutputRegister  = register.OutputAddr

	// SettleDelay gives a debugger the chance to attach before the loop starts.
	SettleDelay = 2 * time.Second

	// DefaultOutputPin is the presence line on the reference board (port 3, pin 1).
	DefaultOutputPin = "P3_1"
)

const (
	VariantHeuristic = "heuristic"
	VariantCNN       = "cnn"
)

// Registers is the accelerator register layout of the reference board.
func Registers() engine.MappedConfig {
	return engine.MappedConfig{
		Control: ControlRegister,
		Status:  StatusRegister,
		FIFO:    FIFORegister,
		Output:  OutputRegister,
	}
}
