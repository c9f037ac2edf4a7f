package camera

import (
	"fmt"
	"image"
	"strconv"
	"sync"
	"sync/atomic"

	"PresenceSensor/logger"
	"PresenceSensor/pixel"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	iface "PresenceSensor/interface"
)

// Sensor captures from a host camera through gocv. Source is a device index ("0") or a stream URL.
type Sensor struct {
	Source string

	width, height int
	format        iface.PixelFormat
	mode          iface.TransferMode

	capture *gocv.VideoCapture
	read    func() error
	img     gocv.Mat
	resized gocv.Mat
	gray    gocv.Mat

	mu        sync.Mutex
	buf       []byte
	err       error
	capturing atomic.Bool
	ready     atomic.Bool
	wg        sync.WaitGroup
}

func NewSensor(source string) *Sensor {
	s := &Sensor{Source: source}
	s.read = s.grab
	return s
}

func (s *Sensor) Configure(width, height int, format iface.PixelFormat, mode iface.TransferMode) error {
	if err := Validate(width, height, format, mode); err != nil {
		return iface.NewConfigError("camera", err)
	}

	var device interface{} = s.Source
	if id, err := strconv.Atoi(s.Source); err == nil {
		device = id
	}
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return iface.NewConfigError("camera", fmt.Errorf("open %q: %w", s.Source, err))
	}
	capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(height))

	s.close()
	s.capture = capture
	s.img = gocv.NewMat()
	s.resized = gocv.NewMat()
	s.gray = gocv.NewMat()
	s.width, s.height, s.format, s.mode = width, height, format, mode
	s.buf = make([]byte, BufferSize(width, height, format))

	logger.Log().Info("camera configured",
		zap.String("source", s.Source),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Stringer("format", format),
		zap.Stringer("mode", mode))
	return nil
}

// StartCapture grabs one image in the background. The previous frame buffer is reused.
func (s *Sensor) StartCapture() error {
	if s.buf == nil {
		return ErrNotConfigured
	}
	if !s.capturing.CompareAndSwap(false, true) {
		return ErrCaptureRunning
	}
	s.ready.Store(false)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.read()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		// a reader that sees the frame may restart at once
		s.capturing.Store(false)
		s.ready.Store(true)
	}()
	return nil
}

func (s *Sensor) grab() error {
	if ok := s.capture.Read(&s.img); !ok || s.img.Empty() {
		return fmt.Errorf("camera: no image from %q", s.Source)
	}
	gocv.Resize(s.img, &s.resized, image.Pt(s.width, s.height), 0, 0, gocv.InterpolationArea)

	switch s.format {
	case iface.GrayscaleDoubled:
		gocv.CvtColor(s.resized, &s.gray, gocv.ColorBGRToGray)
		px := s.gray.ToBytes()
		for i, v := range px {
			s.buf[2*i] = v
			s.buf[2*i+1] = 0
		}
	case iface.RGB565:
		bgr := s.resized.ToBytes()
		for i, j := 0, 0; i+2 < len(bgr) && j+1 < len(s.buf); i, j = i+3, j+2 {
			s.buf[j], s.buf[j+1] = pixel.PackRGB565(bgr[i+2], bgr[i+1], bgr[i])
		}
	}
	return nil
}

func (s *Sensor) IsFrameReady() bool {
	return s.ready.Load()
}

func (s *Sensor) GetFrame() (iface.Frame, error) {
	if !s.ready.Load() {
		return iface.Frame{}, ErrFrameNotReady
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return iface.Frame{}, s.err
	}
	return iface.Frame{Width: s.width, Height: s.height, Format: s.format, Data: s.buf}, nil
}

// Close waits for an in-flight capture and releases the device.
func (s *Sensor) Close() error {
	s.wg.Wait()
	s.close()
	return nil
}

func (s *Sensor) close() {
	if s.capture == nil {
		return
	}
	_ = s.capture.Close()
	_ = s.img.Close()
	_ = s.resized.Close()
	_ = s.gray.Close()
	s.capture = nil
	s.buf = nil
}
