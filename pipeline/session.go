// Package pipeline runs the acquisition-to-decision loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PresenceSensor/logger"
	"PresenceSensor/monitor"
	"PresenceSensor/poll"

	"github.com/google/uuid"
	"go.uber.org/zap"

	iface "PresenceSensor/interface"
)

type State int

const (
	Capturing State = iota
	Deciding
)

func (s State) String() string {
	if s == Deciding {
		return "Deciding"
	}
	return "Capturing"
}

var ErrNotSetUp = errors.New("pipeline: session not set up")

// Observer is notified of every decision that reached the output.
type Observer interface {
	Publish(d iface.Decision)
}

// Session owns one camera, one variant and one output. Only Run's goroutine drives it;
// Status and Presence may be called from anywhere.
type Session struct {
	ID          string
	Camera      iface.Camera
	Variant     Variant
	Output      iface.Output
	Poller      poll.Poller
	Mode        iface.TransferMode
	SettleDelay time.Duration
	Recorder    monitor.Recorder
	Observers   []Observer

	mu        sync.RWMutex
	ready     bool
	state     State
	presence  bool
	frames    uint64
	last      *iface.Decision
	startedAt time.Time
}

func NewSession(cam iface.Camera, variant Variant, out iface.Output) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Camera:      cam,
		Variant:     variant,
		Output:      out,
		Poller:      poll.Forever(),
		Mode:        iface.TransferDMA,
		SettleDelay: SettleDelay,
	}
}

// Setup configures the camera and the variant once. Any failure is a *iface.ConfigError.
func (s *Session) Setup(ctx context.Context) error {
	w, h, format := s.Variant.Capture()
	if err := s.Camera.Configure(w, h, format, s.Mode); err != nil {
		if !iface.IsConfigError(err) {
			err = iface.NewConfigError("camera", err)
		}
		logger.Log().Error(err.Error())
		return err
	}
	if err := s.Variant.Setup(ctx); err != nil {
		err = iface.NewConfigError(s.Variant.Name(), err)
		logger.Log().Error(err.Error())
		return err
	}

	if s.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.SettleDelay):
		}
	}

	s.mu.Lock()
	s.ready = true
	s.state = Capturing
	s.startedAt = time.Now()
	s.mu.Unlock()

	logger.Log().Info("Starting!",
		zap.String("id", s.ID),
		zap.String("variant", s.Variant.Name()),
		zap.Int("width", w),
		zap.Int("height", h),
		zap.Stringer("format", format))
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Step runs one capture, decision and output update.
func (s *Session) Step(ctx context.Context) error {
	s.mu.RLock()
	ready := s.ready
	s.mu.RUnlock()
	if !ready {
		return ErrNotSetUp
	}

	s.setState(Capturing)
	if err := s.Camera.StartCapture(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	t0 := time.Now()
	if err := s.Poller.Until(ctx, s.Camera.IsFrameReady); err != nil {
		return fmt.Errorf("waiting for frame: %w", err)
	}
	if s.Recorder != nil {
		s.Recorder.ObserveCaptureWait(time.Since(t0))
	}
	frame, err := s.Camera.GetFrame()
	if err != nil {
		return fmt.Errorf("get frame: %w", err)
	}

	s.setState(Deciding)
	res, err := s.Variant.Process(ctx, frame)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Variant.Name(), err)
	}
	if res.Update {
		s.apply(res)
	}
	s.setState(Capturing)
	return nil
}

func (s *Session) apply(res Result) {
	if err := s.Output.Set(res.Presence); err != nil {
		logger.Log().Warn("output update failed", zap.Error(err))
	}

	s.mu.Lock()
	s.frames++
	s.presence = res.Presence
	d := iface.Decision{
		Sequence:  s.frames,
		Presence:  res.Presence,
		Variant:   s.Variant.Name(),
		Statistic: res.Statistic,
		Timestamp: time.Now().UnixMilli(),
	}
	s.last = &d
	s.mu.Unlock()

	if s.Recorder != nil {
		s.Recorder.ObserveDecision(d)
	}
	for _, o := range s.Observers {
		o.Publish(d)
	}
}

// Run steps until ctx is done or a step fails. With a background context and a poller
// without timeout it never returns.
func (s *Session) Run(ctx context.Context) error {
	for {
		if err := s.Step(ctx); err != nil {
			return err
		}
	}
}

func (s *Session) Presence() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.presence
}

func (s *Session) Status() iface.Status {
	s.mu.RLock()
	st := iface.Status{
		Id:       s.ID,
		Variant:  s.Variant.Name(),
		State:    s.state.String(),
		Presence: s.presence,
		Frames:   s.frames,
	}
	if !s.startedAt.IsZero() {
		st.StartedAt = s.startedAt.Unix()
	}
	if s.last != nil {
		last := *s.last
		st.Last = &last
	}
	s.mu.RUnlock()

	if e, ok := s.Variant.(interface{ EngineConfig() *iface.EngineConfig }); ok {
		st.Engine = e.EngineConfig()
	}
	return st
}
