package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"PresenceSensor/decision"
	"PresenceSensor/engine"
	"PresenceSensor/poll"
	"PresenceSensor/preprocess"

	iface "PresenceSensor/interface"
)

// Result is the outcome of processing one frame. Update is false when no decision was
// reached and the output must be left untouched.
type Result struct {
	Presence  bool
	Statistic float64
	Update    bool
}

// Variant turns a captured frame into a presence decision.
type Variant interface {
	Name() string
	Capture() (width, height int, format iface.PixelFormat)
	Setup(ctx context.Context) error
	Process(ctx context.Context, frame iface.Frame) (Result, error)
}

// Heuristic compares the mean gray level of consecutive frames.
type Heuristic struct {
	Width, Height int
	Decide        *decision.Hysteresis

	acc    engine.Accumulator
	window preprocess.Window
}

func NewHeuristic(width, height int) *Heuristic {
	return &Heuristic{
		Width:  width,
		Height: height,
		Decide: decision.NewHysteresis(Margin),
	}
}

func (h *Heuristic) Name() string { return VariantHeuristic }

func (h *Heuristic) Capture() (int, int, iface.PixelFormat) {
	return h.Width, h.Height, iface.GrayscaleDoubled
}

func (h *Heuristic) Setup(context.Context) error {
	if h.Width <= 0 || h.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", h.Width, h.Height)
	}
	if h.Decide == nil {
		h.Decide = decision.NewHysteresis(Margin)
	}
	h.window = preprocess.Full(h.Width, h.Height)
	return nil
}

func (h *Heuristic) Process(_ context.Context, frame iface.Frame) (Result, error) {
	h.acc.Reset()
	if _, err := preprocess.AccumulateGray(frame, h.window, &h.acc); err != nil {
		return Result{}, err
	}
	mean := h.acc.Mean()
	return Result{Presence: h.Decide.Decide(mean), Statistic: float64(mean), Update: true}, nil
}

// CNN streams a center crop of every frame through an accelerator and thresholds the
// mean of its outputs.
type CNN struct {
	Accel  engine.Accelerator
	Decide decision.Inference
	Poller poll.Poller

	CaptureWidth, CaptureHeight int
	InputWidth, InputHeight     int

	window    preprocess.Window
	out       []uint32
	stopwatch atomic.Uint32
	wake      chan struct{}
}

func NewCNN(accel engine.Accelerator) *CNN {
	return &CNN{
		Accel:         accel,
		Decide:        decision.Inference{Confidence: Confidence},
		Poller:        poll.Forever(),
		CaptureWidth:  AcquireWidth,
		CaptureHeight: AcquireHeight,
		InputWidth:    ModelWidth,
		InputHeight:   ModelHeight,
	}
}

func (c *CNN) Name() string { return VariantCNN }

func (c *CNN) Capture() (int, int, iface.PixelFormat) {
	return c.CaptureWidth, c.CaptureHeight, iface.RGB565
}

func (c *CNN) Setup(context.Context) error {
	if c.Accel == nil {
		return errors.New("no accelerator")
	}
	w, err := preprocess.NewWindow(c.CaptureWidth, c.CaptureHeight, c.InputWidth, c.InputHeight)
	if err != nil {
		return err
	}
	c.window = w
	c.out = make([]uint32, engine.OutputWords)
	c.wake = make(chan struct{}, 1)
	c.stopwatch.Store(0)
	return nil
}

// complete is the accelerator completion handler.
func (c *CNN) complete(cycles uint32) {
	c.stopwatch.Store(cycles)
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *CNN) Process(ctx context.Context, frame iface.Frame) (Result, error) {
	// an aborted frame may still complete while it is being stopped
	c.stopwatch.Store(0)
	if err := c.Accel.Start(c.complete); err != nil {
		return Result{}, fmt.Errorf("start accelerator: %w", err)
	}
	if _, err := preprocess.StreamBiased(ctx, frame, c.window, c.Accel.Input()); err != nil {
		_ = c.Accel.Stop()
		return Result{}, fmt.Errorf("load input: %w", err)
	}
	err := c.Poller.UntilWoken(ctx, func() bool { return c.stopwatch.Load() != 0 }, c.wake)
	if err != nil {
		_ = c.Accel.Stop()
		return Result{}, fmt.Errorf("waiting for accelerator: %w", err)
	}
	if err := c.Accel.Unload(c.out); err != nil {
		_ = c.Accel.Stop()
		return Result{}, fmt.Errorf("unload: %w", err)
	}
	if err := c.Accel.Stop(); err != nil {
		return Result{}, fmt.Errorf("stop accelerator: %w", err)
	}

	if c.stopwatch.Swap(0) == 0 {
		return Result{}, nil
	}
	presence, score := c.Decide.Decide(c.out)
	return Result{Presence: presence, Statistic: score, Update: true}, nil
}

// EngineConfig reports the accelerator configuration when it exposes one.
func (c *CNN) EngineConfig() *iface.EngineConfig {
	if a, ok := c.Accel.(interface{ CheckConfig() iface.EngineConfig }); ok {
		cfg := a.CheckConfig()
		return &cfg
	}
	return nil
}
