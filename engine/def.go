package engine

import (
	"PresenceSensor/register"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004
const DONE = 0x0005

// NumOutputs is the number of int8 values the presence network produces.
const NumOutputs = 512

// OutputWords is the size of the unloaded output vector, four int8 lanes per word.
const OutputWords = (NumOutputs + 3) / 4

// FIFODepth is how many input words the software engine buffers before reporting full.
const FIFODepth = 16

func StateName(state int) string {
	switch state {
	case UNREGISTERED:
		return "unregistered"
	case REGISTERED:
		return "registered"
	case IDLE:
		return "idle"
	case BUSY:
		return "busy"
	case DONE:
		return "done"
	}
	return "unknown"
}

// Accelerator is the call contract of a neural engine fed through an input FIFO.
// onComplete plays the role of the completion interrupt and receives a non-zero stopwatch.
type Accelerator interface {
	Start(onComplete func(cycles uint32)) error
	Input() *register.FIFO
	Unload(out []uint32) error
	Stop() error
}

// Model turns a reassembled HWC int8 input into raw network outputs in [-1, 1].
type Model interface {
	Infer(input []int8, width, height, channels int) ([]float32, error)
	Close() error
}
