package register

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const DevMem = "/dev/mem"

// Window is a mapping of physical registers starting at Base.
type Window struct {
	Base uintptr
	mem  []byte
	skew uintptr
}

// OpenWindow maps size bytes of physical memory at base through /dev/mem.
func OpenWindow(base uintptr, size int) (*Window, error) {
	f, err := os.OpenFile(DevMem, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", DevMem, err)
	}
	defer f.Close()

	page := uintptr(os.Getpagesize())
	aligned := base &^ (page - 1)
	skew := base - aligned

	mem, err := unix.Mmap(int(f.Fd()), int64(aligned), int(skew)+size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %#x: %w", base, err)
	}
	return &Window{Base: base, mem: mem, skew: skew}, nil
}

// Register returns the 32-bit register at addr, which must lie inside the window.
func (w *Window) Register(addr uintptr) (Register, error) {
	if addr < w.Base || addr%4 != 0 {
		return nil, fmt.Errorf("register %#x outside window %#x", addr, w.Base)
	}
	off := addr - w.Base + w.skew
	if int(off)+4 > len(w.mem) {
		return nil, fmt.Errorf("register %#x outside window %#x", addr, w.Base)
	}
	return &mapped{p: (*uint32)(unsafe.Pointer(&w.mem[off]))}, nil
}

func (w *Window) Close() error {
	if w.mem == nil {
		return nil
	}
	err := unix.Munmap(w.mem)
	w.mem = nil
	return err
}

type mapped struct {
	p *uint32
}

func (m *mapped) Read() uint32 {
	return atomic.LoadUint32(m.p)
}

func (m *mapped) Write(v uint32) {
	atomic.StoreUint32(m.p, v)
}
