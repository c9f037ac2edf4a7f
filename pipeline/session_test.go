package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"PresenceSensor/camera"
	"PresenceSensor/engine"
	"PresenceSensor/logger"
	"PresenceSensor/output"
	"PresenceSensor/poll"
	"PresenceSensor/register"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	iface "PresenceSensor/interface"
)

type recordOutput struct {
	mu     sync.Mutex
	values []bool
	err    error
}

func (r *recordOutput) Set(active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, active)
	return r.err
}

func (r *recordOutput) Values() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.values...)
}

type recordObserver struct {
	decisions []iface.Decision
	waits     int
}

func (r *recordObserver) Publish(d iface.Decision)           { r.decisions = append(r.decisions, d) }
func (r *recordObserver) ObserveDecision(d iface.Decision)   { r.decisions = append(r.decisions, d) }
func (r *recordObserver) ObserveCaptureWait(_ time.Duration) { r.waits++ }

func newHeuristicSession(t *testing.T, width, height int, out iface.Output, frames ...[]byte) (*Session, *Heuristic) {
	cam := camera.NewStatic(frames...)
	h := NewHeuristic(width, height)
	s := NewSession(cam, h, out)
	s.SettleDelay = 0
	require.NoError(t, s.Setup(context.Background()))
	return s, h
}

func TestHeuristic_EndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brightness")
	require.NoError(t, os.WriteFile(path, []byte("0"), 0o644))
	led := &output.LED{Path: path}

	s, h := newHeuristicSession(t, 4, 4, led, camera.GrayFrame(4, 4, 200))
	h.Decide.Seed(195)

	require.NoError(t, s.Step(context.Background()))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1", string(b))
	assert.True(t, s.Presence())
	assert.Equal(t, uint32(200), h.Decide.Previous())

	// same brightness again is not an increase
	require.NoError(t, s.Step(context.Background()))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "0", string(b))
}

func TestHeuristic_Sequence(t *testing.T) {
	out := &recordOutput{}
	s, _ := newHeuristicSession(t, HeuristicWidth, HeuristicHeight, out,
		camera.GrayFrame(HeuristicWidth, HeuristicHeight, 100),
		camera.GrayFrame(HeuristicWidth, HeuristicHeight, 105),
		camera.GrayFrame(HeuristicWidth, HeuristicHeight, 109),
		camera.GrayFrame(HeuristicWidth, HeuristicHeight, 250),
	)
	rec := &recordObserver{}
	s.Recorder = rec

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Step(context.Background()))
	}
	// the first frame is compared against the brightest possible mean
	assert.Equal(t, []bool{false, true, false, true}, out.Values())
	require.Len(t, rec.decisions, 4)
	assert.Equal(t, 4, rec.waits)
	assert.Equal(t, 250.0, rec.decisions[3].Statistic)
	assert.Equal(t, uint64(4), rec.decisions[3].Sequence)
	assert.Equal(t, VariantHeuristic, rec.decisions[3].Variant)
}

func TestSession_SetupFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger.Set(zap.New(core))

	out := &recordOutput{}
	cam := camera.NewStatic(camera.GrayFrame(4, 4, 1))
	s := NewSession(cam, NewHeuristic(8, 8), out)
	s.SettleDelay = 0

	err := s.Setup(context.Background())
	require.Error(t, err)
	var ce *iface.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "camera", ce.Component)
	assert.Equal(t, 1, logs.FilterMessageSnippet("error initializing camera").Len())
	assert.Zero(t, logs.FilterMessage("Starting!").Len())

	assert.ErrorIs(t, s.Step(context.Background()), ErrNotSetUp)
	assert.ErrorIs(t, s.Run(context.Background()), ErrNotSetUp)
	assert.Empty(t, out.Values())
}

func TestSession_VariantSetupFailure(t *testing.T) {
	cam := camera.NewStatic(camera.RGB565Frame(AcquireWidth, AcquireHeight, 0, 0))
	s := NewSession(cam, NewCNN(nil), &recordOutput{})
	s.SettleDelay = 0

	err := s.Setup(context.Background())
	var ce *iface.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, VariantCNN, ce.Component)
}

func TestSession_SettleDelay(t *testing.T) {
	cam := camera.NewStatic(camera.GrayFrame(2, 2, 1))
	s := NewSession(cam, NewHeuristic(2, 2), &recordOutput{})
	s.SettleDelay = 20 * time.Millisecond

	start := time.Now()
	require.NoError(t, s.Setup(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	s.SettleDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Setup(ctx), context.Canceled)
}

func TestSession_RunStopsOnCancel(t *testing.T) {
	cam := camera.NewStatic(camera.GrayFrame(2, 2, 1))
	cam.ReadyAfter = 1 << 30
	s := NewSession(cam, NewHeuristic(2, 2), &recordOutput{})
	s.SettleDelay = 0
	require.NoError(t, s.Setup(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "Capturing", s.Status().State)
}

func TestSession_PollTimeout(t *testing.T) {
	cam := camera.NewStatic(camera.GrayFrame(2, 2, 1))
	cam.ReadyAfter = 1 << 30
	s := NewSession(cam, NewHeuristic(2, 2), &recordOutput{})
	s.SettleDelay = 0
	s.Poller = poll.WithTimeout(10 * time.Millisecond)
	require.NoError(t, s.Setup(context.Background()))

	assert.ErrorIs(t, s.Run(context.Background()), poll.ErrTimeout)
}

func TestSession_OutputFailureIsNotFatal(t *testing.T) {
	out := &recordOutput{err: errors.New("line stuck")}
	s, _ := newHeuristicSession(t, 2, 2, out, camera.GrayFrame(2, 2, 1))
	require.NoError(t, s.Step(context.Background()))
	require.NoError(t, s.Step(context.Background()))
	assert.Len(t, out.Values(), 2)
}

func TestSession_Status(t *testing.T) {
	out := &recordOutput{}
	s, _ := newHeuristicSession(t, 2, 2, out, camera.GrayFrame(2, 2, 9))
	hub := &recordObserver{}
	s.Observers = append(s.Observers, hub)

	st := s.Status()
	assert.Equal(t, s.ID, st.Id)
	assert.Nil(t, st.Last)
	assert.Nil(t, st.Engine)
	assert.NotZero(t, st.StartedAt)

	require.NoError(t, s.Step(context.Background()))
	st = s.Status()
	require.NotNil(t, st.Last)
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, 9.0, st.Last.Statistic)
	require.Len(t, hub.decisions, 1)
	assert.Equal(t, *st.Last, hub.decisions[0])
}

type fakeModel struct {
	mu     sync.Mutex
	value  float32
	err    error
	inputs [][]int8
}

func (m *fakeModel) Infer(input []int8, width, height, channels int) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, append([]int8(nil), input...))
	if m.err != nil {
		return nil, m.err
	}
	out := make([]float32, engine.NumOutputs)
	for i := range out {
		out[i] = m.value
	}
	return out, nil
}

func (m *fakeModel) Close() error { return nil }

func newCNNSession(t *testing.T, model engine.Model, out iface.Output, frames ...[]byte) (*Session, *engine.SoftCNN) {
	accel, err := engine.NewAccelerator(engine.BackendConfig{ModelPath: "fake.onnx"}, model, ModelWidth, ModelHeight)
	require.NoError(t, err)
	t.Cleanup(accel.Destroy)

	s := NewSession(camera.NewStatic(frames...), NewCNN(accel), out)
	s.SettleDelay = 0
	require.NoError(t, s.Setup(context.Background()))
	return s, accel
}

func TestCNN_EndToEnd(t *testing.T) {
	model := &fakeModel{value: 1}
	out := &recordOutput{}
	white := camera.RGB565Frame(AcquireWidth, AcquireHeight, 0xFF, 0xFF)
	s, accel := newCNNSession(t, model, out, white)

	require.NoError(t, s.Step(context.Background()))
	assert.Equal(t, []bool{true}, out.Values())
	assert.Equal(t, "idle", accel.CheckConfig().State)
	assert.Equal(t, uint64(ModelWidth*ModelHeight), accel.Input().Written())

	require.Len(t, model.inputs, 1)
	in := model.inputs[0]
	require.Len(t, in, ModelWidth*ModelHeight*3)
	// white is gray 250, biased to 122 on every lane
	for _, v := range in[:9] {
		assert.Equal(t, int8(122), v)
	}

	st := s.Status()
	require.NotNil(t, st.Engine)
	assert.Equal(t, "fake.onnx", st.Engine.ModelPath)
	assert.Equal(t, 127.0, st.Last.Statistic)
}

func TestCNN_Absent(t *testing.T) {
	model := &fakeModel{value: -1}
	out := &recordOutput{}
	s, _ := newCNNSession(t, model, out, camera.RGB565Frame(AcquireWidth, AcquireHeight, 0, 0))

	require.NoError(t, s.Step(context.Background()))
	require.NoError(t, s.Step(context.Background()))
	assert.Equal(t, []bool{false, false}, out.Values())
	assert.Equal(t, -128.0, s.Status().Last.Statistic)
}

func TestCNN_CropOnly(t *testing.T) {
	// bright border, black center: only the black crop reaches the model
	frame := camera.RGB565Frame(AcquireWidth, AcquireHeight, 0xFF, 0xFF)
	for row := 10; row < 170; row++ {
		for col := 60; col < 180; col++ {
			i := (row*AcquireWidth + col) * 2
			frame[i], frame[i+1] = 0, 0
		}
	}
	model := &fakeModel{value: 0}
	s, _ := newCNNSession(t, model, &recordOutput{}, frame)

	require.NoError(t, s.Step(context.Background()))
	require.Len(t, model.inputs, 1)
	for _, v := range model.inputs[0] {
		require.Equal(t, int8(-128), v)
	}
}

func TestCNN_ModelFailure(t *testing.T) {
	model := &fakeModel{err: errors.New("net exploded")}
	out := &recordOutput{}
	s, accel := newCNNSession(t, model, out, camera.RGB565Frame(AcquireWidth, AcquireHeight, 0, 0))

	err := s.Step(context.Background())
	assert.ErrorContains(t, err, "net exploded")
	assert.Empty(t, out.Values())
	assert.Equal(t, "idle", accel.CheckConfig().State)
}

type stuckAccel struct {
	fifo    *register.FIFO
	started int
	stopped int
}

func (a *stuckAccel) Start(func(uint32)) error { a.started++; return nil }
func (a *stuckAccel) Input() *register.FIFO    { return a.fifo }
func (a *stuckAccel) Unload([]uint32) error    { return nil }
func (a *stuckAccel) Stop() error              { a.stopped++; return nil }

func TestCNN_NeverCompletes(t *testing.T) {
	accel := &stuckAccel{fifo: register.NewFIFO(&register.Mem{}, &register.Mem{}, poll.Forever())}
	cnn := NewCNN(accel)
	cnn.Poller = poll.WithTimeout(20 * time.Millisecond)
	out := &recordOutput{}
	s := NewSession(camera.NewStatic(camera.RGB565Frame(AcquireWidth, AcquireHeight, 0, 0)), cnn, out)
	s.SettleDelay = 0
	require.NoError(t, s.Setup(context.Background()))

	err := s.Step(context.Background())
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Empty(t, out.Values())
	assert.Equal(t, 1, accel.started)
	assert.Equal(t, 1, accel.stopped)
	assert.Nil(t, cnn.EngineConfig())
}

// lateAccel completes only when told to, either right after Start or while being stopped.
type lateAccel struct {
	fifo            *register.FIFO
	onComplete      func(uint32)
	completeOnStart bool
	completeOnStop  bool
	unloads         int
}

func (a *lateAccel) Start(cb func(uint32)) error {
	a.onComplete = cb
	if a.completeOnStart {
		go cb(3)
	}
	return nil
}
func (a *lateAccel) Input() *register.FIFO { return a.fifo }
func (a *lateAccel) Unload(out []uint32) error {
	a.unloads++
	for i := range out {
		out[i] = 0x7F7F7F7F
	}
	return nil
}
func (a *lateAccel) Stop() error {
	if a.completeOnStop && a.onComplete != nil {
		a.onComplete(7)
	}
	return nil
}

func TestCNN_LateCompletionIsNotReused(t *testing.T) {
	accel := &lateAccel{fifo: register.NewFIFO(&register.Mem{}, &register.Mem{}, poll.Forever())}
	cnn := NewCNN(accel)
	cnn.CaptureWidth, cnn.CaptureHeight = 4, 4
	cnn.InputWidth, cnn.InputHeight = 2, 2
	cnn.Poller = poll.WithTimeout(20 * time.Millisecond)
	out := &recordOutput{}
	s := NewSession(camera.NewStatic(camera.RGB565Frame(4, 4, 0, 0)), cnn, out)
	s.SettleDelay = 0
	require.NoError(t, s.Setup(context.Background()))

	// the aborted frame completes while it is stopped
	accel.completeOnStop = true
	assert.ErrorIs(t, s.Step(context.Background()), poll.ErrTimeout)

	// the next frame must wait for its own completion
	accel.completeOnStop = false
	assert.ErrorIs(t, s.Step(context.Background()), poll.ErrTimeout)
	assert.Zero(t, accel.unloads)
	assert.Empty(t, out.Values())

	accel.completeOnStart = true
	require.NoError(t, s.Step(context.Background()))
	assert.Equal(t, 1, accel.unloads)
	assert.Equal(t, []bool{true}, out.Values())
}

func TestRegisters(t *testing.T) {
	regs := Registers()
	assert.Equal(t, engine.DefaultMappedConfig(), regs)
	assert.Equal(t, uintptr(0x50000004), regs.Status)
	assert.Equal(t, uintptr(0x50000008), regs.FIFO)
}

func TestCNN_MappedAccelerator(t *testing.T) {
	regs := &register.MemMap{}
	accel, err := engine.NewMapped(regs, Registers(), poll.WithTimeout(time.Second))
	require.NoError(t, err)

	// stand-in for the engine: raise done once the last input word has arrived
	want := uint64(ModelWidth * ModelHeight)
	go func() {
		for accel.Input().Written() < want {
			time.Sleep(time.Millisecond)
		}
		for i := 0; i < engine.OutputWords; i++ {
			regs.Mem(OutputRegister + uintptr(i*4)).Write(0x80808080)
		}
		regs.Mem(ControlRegister).Write(register.CtrlStart | register.CtrlDone)
	}()

	out := &recordOutput{}
	s := NewSession(camera.NewStatic(camera.RGB565Frame(AcquireWidth, AcquireHeight, 0xFF, 0xFF)), NewCNN(accel), out)
	s.SettleDelay = 0
	require.NoError(t, s.Setup(context.Background()))
	require.NoError(t, s.Step(context.Background()))

	assert.Equal(t, []bool{false}, out.Values())
	assert.Equal(t, -128.0, s.Status().Last.Statistic)
	// the last word streamed is a white pixel biased to 122 on three lanes
	assert.Equal(t, uint32(0x007A7A7A), regs.Mem(FIFORegister).Read())
	assert.Equal(t, "mmio:0x50000000", s.Status().Engine.ModelPath)
}
