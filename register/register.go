// Package register models 32-bit memory-mapped registers so that drivers can be
// exercised against in-memory fakes.
package register

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"PresenceSensor/poll"
)

// Fixed addresses of the accelerator control block, input FIFO 0 and output memory.
const (
	ControlAddr uintptr = 0x50000000
	StatusAddr  uintptr = 0x50000004
	FIFOAddr    uintptr = 0x50000008
	OutputAddr  uintptr = 0x50400000

	// FIFOFull is bit 0 of the status register.
	FIFOFull uint32 = 1 << 0

	// Control register bits.
	CtrlStart uint32 = 1 << 0
	CtrlDone  uint32 = 1 << 1
)

// Map resolves absolute addresses to registers. *Window is a Map.
type Map interface {
	Register(addr uintptr) (Register, error)
}

// MemMap lazily backs every address with a Mem register.
type MemMap struct {
	mu   sync.Mutex
	regs map[uintptr]*Mem
}

func (m *MemMap) Register(addr uintptr) (Register, error) {
	if addr%4 != 0 {
		return nil, fmt.Errorf("register %#x not aligned", addr)
	}
	return m.Mem(addr), nil
}

// Mem returns the register at addr for direct inspection.
func (m *MemMap) Mem(addr uintptr) *Mem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.regs == nil {
		m.regs = map[uintptr]*Mem{}
	}
	r, ok := m.regs[addr]
	if !ok {
		r = &Mem{}
		m.regs[addr] = r
	}
	return r
}

type Register interface {
	Read() uint32
	Write(v uint32)
}

// Mem is a register backed by ordinary memory.
type Mem struct {
	v atomic.Uint32
}

func (m *Mem) Read() uint32 {
	return m.v.Load()
}

func (m *Mem) Write(v uint32) {
	m.v.Store(v)
}

// Func adapts a pair of functions to a Register. A nil half ignores writes or reads zero.
type Func struct {
	ReadFn  func() uint32
	WriteFn func(uint32)
}

func (f Func) Read() uint32 {
	if f.ReadFn == nil {
		return 0
	}
	return f.ReadFn()
}

func (f Func) Write(v uint32) {
	if f.WriteFn != nil {
		f.WriteFn(v)
	}
}

// FIFO is a single-writer input stream gated on a status register.
type FIFO struct {
	Status Register
	Data   Register
	Poller poll.Poller

	mu      sync.Mutex
	written uint64
}

func NewFIFO(status, data Register, p poll.Poller) *FIFO {
	return &FIFO{Status: status, Data: data, Poller: p}
}

// Write waits until the FIFO has room, then stores word in the data register.
func (f *FIFO) Write(ctx context.Context, word uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.Poller.Until(ctx, func() bool {
		return f.Status.Read()&FIFOFull == 0
	})
	if err != nil {
		return fmt.Errorf("fifo write %d: %w", f.written, err)
	}
	f.Data.Write(word)
	f.written++
	return nil
}

// Written returns the number of words accepted since creation.
func (f *FIFO) Written() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}
