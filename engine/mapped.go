package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	iface "PresenceSensor/interface"
	"PresenceSensor/logger"
	"PresenceSensor/poll"
	"PresenceSensor/register"

	"go.uber.org/zap"
)

// MappedConfig holds the physical addresses of a memory-mapped accelerator.
type MappedConfig struct {
	Control uintptr
	Status  uintptr
	FIFO    uintptr
	Output  uintptr
}

func DefaultMappedConfig() MappedConfig {
	return MappedConfig{
		Control: register.ControlAddr,
		Status:  register.StatusAddr,
		FIFO:    register.FIFOAddr,
		Output:  register.OutputAddr,
	}
}

// span is the window size needed to reach every register, control block first.
func (c MappedConfig) span() (uintptr, int, error) {
	base := c.Control
	end := c.Output + OutputWords*4
	for _, a := range []uintptr{c.Status, c.FIFO, c.Output} {
		if a < base {
			return 0, 0, fmt.Errorf("register %#x below control block %#x", a, base)
		}
	}
	for _, a := range []uintptr{c.Status + 4, c.FIFO + 4} {
		if a > end {
			end = a
		}
	}
	return base, int(end - base), nil
}

// Mapped drives an accelerator through its control, FIFO and output registers.
// Completion is detected by polling the done bit of the control register.
type Mapped struct {
	Poller poll.Poller
	Config MappedConfig
	State  int

	control register.Register
	fifo    *register.FIFO
	output  []register.Register

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// NewMapped resolves every register of cfg through regs.
func NewMapped(regs register.Map, cfg MappedConfig, p poll.Poller) (*Mapped, error) {
	control, err := regs.Register(cfg.Control)
	if err != nil {
		return nil, err
	}
	status, err := regs.Register(cfg.Status)
	if err != nil {
		return nil, err
	}
	data, err := regs.Register(cfg.FIFO)
	if err != nil {
		return nil, err
	}
	output := make([]register.Register, OutputWords)
	for i := range output {
		if output[i], err = regs.Register(cfg.Output + uintptr(i*4)); err != nil {
			return nil, err
		}
	}
	control.Write(0)
	return &Mapped{
		Poller:  p,
		Config:  cfg,
		State:   IDLE,
		control: control,
		fifo:    register.NewFIFO(status, data, p),
		output:  output,
	}, nil
}

// OpenMapped maps cfg through /dev/mem. The window must be closed after the accelerator is dropped.
func OpenMapped(cfg MappedConfig, p poll.Poller) (*Mapped, *register.Window, error) {
	base, size, err := cfg.span()
	if err != nil {
		return nil, nil, err
	}
	w, err := register.OpenWindow(base, size)
	if err != nil {
		return nil, nil, err
	}
	m, err := NewMapped(w, cfg, p)
	if err != nil {
		_ = w.Close()
		return nil, nil, err
	}
	logger.Log().Info("accelerator mapped",
		zap.String("control", fmt.Sprintf("%#x", cfg.Control)),
		zap.String("fifo", fmt.Sprintf("%#x", cfg.FIFO)),
		zap.Int("size", size))
	return m, w, nil
}

func (m *Mapped) Input() *register.FIFO {
	return m.fifo
}

func (m *Mapped) Start(onComplete func(cycles uint32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State != IDLE {
		return errors.New("accelerator is busy")
	}
	m.State = BUSY
	ctx, cancel := context.WithCancel(context.Background())
	m.stop = cancel
	m.done = make(chan struct{})
	m.control.Write(register.CtrlStart)
	go m.watch(ctx, onComplete, m.done, time.Now())
	return nil
}

func (m *Mapped) watch(ctx context.Context, onComplete func(uint32), done chan struct{}, t0 time.Time) {
	defer close(done)
	// the caller owns the timeout, the watcher only stops when cancelled
	err := poll.Poller{Interval: m.Poller.Interval}.Until(ctx, func() bool {
		return m.control.Read()&register.CtrlDone != 0
	})
	if err != nil {
		return
	}
	m.mu.Lock()
	m.State = DONE
	m.mu.Unlock()

	cycles := uint32(time.Since(t0).Microseconds())
	if cycles == 0 {
		cycles = 1
	}
	if onComplete != nil {
		onComplete(cycles)
	}
}

func (m *Mapped) Unload(out []uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State != DONE {
		return fmt.Errorf("unload while %s", StateName(m.State))
	}
	if len(out) < len(m.output) {
		return fmt.Errorf("output buffer holds %d words, need %d", len(out), len(m.output))
	}
	for i, r := range m.output {
		out[i] = r.Read()
	}
	return nil
}

func (m *Mapped) Stop() error {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.control.Write(0)
	m.State = IDLE
	return nil
}

func (m *Mapped) CheckConfig() iface.EngineConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return iface.EngineConfig{
		ModelPath:  fmt.Sprintf("mmio:%#x", m.Config.Control),
		Channels:   InputChannels,
		NumOutputs: NumOutputs,
		State:      StateName(m.State),
	}
}
