package camera

import (
	"fmt"

	iface "PresenceSensor/interface"
)

// Static replays a fixed list of frame buffers in order, wrapping around.
// ReadyAfter is how many IsFrameReady polls report false before the frame lands.
type Static struct {
	Frames     [][]byte
	ReadyAfter int

	width, height int
	format        iface.PixelFormat
	configured    bool

	buf       []byte
	next      int
	polls     int
	capturing bool
	ready     bool
	captures  int
}

func NewStatic(frames ...[]byte) *Static {
	return &Static{Frames: frames}
}

func (s *Static) Configure(width, height int, format iface.PixelFormat, mode iface.TransferMode) error {
	if err := Validate(width, height, format, mode); err != nil {
		return iface.NewConfigError("camera", err)
	}
	if len(s.Frames) == 0 {
		return iface.NewConfigError("camera", fmt.Errorf("no frames to replay"))
	}
	size := BufferSize(width, height, format)
	for i, f := range s.Frames {
		if len(f) != size {
			return iface.NewConfigError("camera", fmt.Errorf("frame %d holds %d bytes, want %d", i, len(f), size))
		}
	}
	s.width, s.height, s.format = width, height, format
	s.buf = make([]byte, size)
	s.configured = true
	return nil
}

func (s *Static) StartCapture() error {
	if !s.configured {
		return ErrNotConfigured
	}
	// the previous frame is overwritten in place
	copy(s.buf, s.Frames[s.next%len(s.Frames)])
	s.next++
	s.polls = 0
	s.ready = false
	s.capturing = true
	s.captures++
	return nil
}

func (s *Static) IsFrameReady() bool {
	if s.capturing {
		s.polls++
		if s.polls > s.ReadyAfter {
			s.ready = true
			s.capturing = false
		}
	}
	return s.ready
}

func (s *Static) GetFrame() (iface.Frame, error) {
	if !s.ready {
		return iface.Frame{}, ErrFrameNotReady
	}
	return iface.Frame{Width: s.width, Height: s.height, Format: s.format, Data: s.buf}, nil
}

// Captures returns how many captures were started.
func (s *Static) Captures() int {
	return s.captures
}

// GrayFrame builds a grayscale-doubled buffer with every pixel set to v.
func GrayFrame(width, height int, v byte) []byte {
	buf := make([]byte, width*height*2)
	for i := 0; i < len(buf); i += 2 {
		buf[i] = v
	}
	return buf
}

// RGB565Frame builds an RGB565 buffer with every pixel set to the packed bytes b0, b1.
func RGB565Frame(width, height int, b0, b1 byte) []byte {
	buf := make([]byte, width*height*2)
	for i := 0; i < len(buf); i += 2 {
		buf[i], buf[i+1] = b0, b1
	}
	return buf
}
