package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	iface "PresenceSensor/interface"
	"PresenceSensor/logger"
	"PresenceSensor/poll"
	"PresenceSensor/register"

	"go.uber.org/zap"
)

// InputChannels is the number of byte lanes carried by one input word.
const InputChannels = 3

// SoftCNN is an accelerator emulated in software. Input words arrive through a FIFO
// whose status register reports full while the internal queue is at capacity; once a
// whole frame has been received the model runs and the completion callback fires.
type SoftCNN struct {
	ModelPath    string
	InputWidth   int
	InputHeight  int
	State        int
	ErrorMessage string
	Poller       poll.Poller

	model Model
	queue chan uint32
	fifo  *register.FIFO

	mu     sync.Mutex
	output []uint32
	err    error
	stop   chan struct{}
	done   chan struct{}
}

func (d *SoftCNN) New() bool {
	d.queue = make(chan uint32, FIFODepth)
	status := register.Func{ReadFn: func() uint32 {
		if len(d.queue) >= cap(d.queue) {
			return register.FIFOFull
		}
		return 0
	}}
	data := register.Func{WriteFn: func(v uint32) {
		d.queue <- v
	}}
	d.fifo = register.NewFIFO(status, data, d.Poller)
	d.output = make([]uint32, OutputWords)
	d.State = REGISTERED
	return d.fifo != nil
}

func (d *SoftCNN) LoadModel(modelPath string, model Model, width, height int) error {
	if d.State == UNREGISTERED || d.State == 0 {
		return errors.New("accelerator not registered")
	}
	if model == nil {
		return errors.New("model is nil")
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid input size %dx%d", width, height)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ModelPath = modelPath
	d.model = model
	d.InputWidth = width
	d.InputHeight = height
	d.State = IDLE
	logger.Log().Info("accelerator model loaded",
		zap.String("model", modelPath),
		zap.Int("width", width),
		zap.Int("height", height))
	return nil
}

func (d *SoftCNN) CheckConfig() iface.EngineConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return iface.EngineConfig{
		ModelPath:   d.ModelPath,
		InputWidth:  d.InputWidth,
		InputHeight: d.InputHeight,
		Channels:    InputChannels,
		NumOutputs:  NumOutputs,
		State:       StateName(d.State),
	}
}

func (d *SoftCNN) Input() *register.FIFO {
	return d.fifo
}

// Start arms the engine for one frame.
func (d *SoftCNN) Start(onComplete func(cycles uint32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.State {
	case 0, UNREGISTERED:
		return errors.New("accelerator not registered")
	case REGISTERED:
		return errors.New("model not loaded")
	case BUSY, DONE:
		return errors.New("accelerator is busy")
	}
	d.State = BUSY
	d.err = nil
	d.ErrorMessage = ""
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(onComplete, d.stop, d.done, time.Now())
	return nil
}

func (d *SoftCNN) run(onComplete func(uint32), stop, done chan struct{}, t0 time.Time) {
	defer close(done)

	n := d.InputWidth * d.InputHeight
	input := make([]int8, n*InputChannels)
	for i := 0; i < n; i++ {
		select {
		case <-stop:
			return
		case word := <-d.queue:
			for lane := 0; lane < InputChannels; lane++ {
				input[i*InputChannels+lane] = int8(word >> (8 * lane))
			}
		}
	}

	values, err := d.model.Infer(input, d.InputWidth, d.InputHeight, InputChannels)

	d.mu.Lock()
	if err != nil {
		d.err = fmt.Errorf("inference: %w", err)
		d.ErrorMessage = d.err.Error()
		logger.Log().Error("accelerator inference failed", zap.Error(err))
	} else {
		PackOutputs(values, d.output)
	}
	d.State = DONE
	d.mu.Unlock()

	cycles := uint32(time.Since(t0).Microseconds())
	if cycles == 0 {
		cycles = 1
	}
	if onComplete != nil {
		onComplete(cycles)
	}
}

// Unload copies the output vector of the last completed frame.
func (d *SoftCNN) Unload(out []uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State != DONE {
		return fmt.Errorf("unload while %s", StateName(d.State))
	}
	if d.err != nil {
		return d.err
	}
	if len(out) < len(d.output) {
		return fmt.Errorf("output buffer holds %d words, need %d", len(out), len(d.output))
	}
	copy(out, d.output)
	return nil
}

// Stop abandons any frame in flight and returns the engine to idle.
func (d *SoftCNN) Stop() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	if d.State == BUSY && stop != nil {
		close(stop)
	}
	d.stop = nil
	d.mu.Unlock()

	if done != nil {
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) > 0 {
		<-d.queue
	}
	if d.State == BUSY || d.State == DONE {
		d.State = IDLE
	}
	d.done = nil
	return nil
}

func (d *SoftCNN) Destroy() {
	_ = d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.model != nil {
		if err := d.model.Close(); err != nil {
			logger.Log().Warn("closing model", zap.Error(err))
		}
	}
	d.model = nil
	d.ModelPath = ""
	d.InputWidth = 0
	d.InputHeight = 0
	d.State = UNREGISTERED
}

// Quantize maps a [-1, 1] network output to the int8 encoding of the hardware engine.
func Quantize(v float32) int8 {
	q := math.Round(float64(v) * 128)
	if q > 127 {
		q = 127
	}
	if q < -128 {
		q = -128
	}
	return int8(q)
}

// PackOutputs stores quantized values four per word, least significant lane first.
// Missing values are zero.
func PackOutputs(values []float32, out []uint32) {
	for i := range out {
		out[i] = 0
	}
	for i, v := range values {
		if i >= len(out)*4 {
			break
		}
		out[i/4] |= uint32(uint8(Quantize(v))) << (8 * (i % 4))
	}
}
