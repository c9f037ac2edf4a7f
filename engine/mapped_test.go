package engine

import (
	"context"
	"testing"
	"time"

	"PresenceSensor/poll"
	"PresenceSensor/register"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapped_All(t *testing.T) {
	regs := &register.MemMap{}
	cfg := DefaultMappedConfig()
	m, err := NewMapped(regs, cfg, poll.WithTimeout(time.Second))
	require.NoError(t, err)
	control := regs.Mem(cfg.Control)

	t.Run("Test CheckConfig", func(t *testing.T) {
		c := m.CheckConfig()
		assert.Equal(t, "idle", c.State)
		assert.Equal(t, "mmio:0x50000000", c.ModelPath)
		assert.Equal(t, NumOutputs, c.NumOutputs)
	})

	t.Run("Test Unload while idle", func(t *testing.T) {
		assert.Error(t, m.Unload(make([]uint32, OutputWords)))
	})

	t.Run("Test Inference", func(t *testing.T) {
		cycles := make(chan uint32, 1)
		require.NoError(t, m.Start(func(c uint32) { cycles <- c }))
		assert.Equal(t, register.CtrlStart, control.Read())
		assert.EqualError(t, m.Start(nil), "accelerator is busy")

		require.NoError(t, m.Input().Write(context.Background(), 0x00010203))
		assert.Equal(t, uint32(0x00010203), regs.Mem(cfg.FIFO).Read())

		// the engine writes its result, then raises done
		for i := 0; i < OutputWords; i++ {
			regs.Mem(cfg.Output + uintptr(i*4)).Write(uint32(i))
		}
		control.Write(register.CtrlStart | register.CtrlDone)

		select {
		case c := <-cycles:
			assert.NotZero(t, c)
		case <-time.After(time.Second):
			t.Fatal("completion not signalled")
		}
		out := make([]uint32, OutputWords)
		require.NoError(t, m.Unload(out))
		assert.Equal(t, uint32(0), out[0])
		assert.Equal(t, uint32(OutputWords-1), out[OutputWords-1])
		assert.Error(t, m.Unload(make([]uint32, 3)))

		require.NoError(t, m.Stop())
		assert.Equal(t, uint32(0), control.Read())
		assert.Equal(t, "idle", m.CheckConfig().State)
	})

	t.Run("Test Stop before completion", func(t *testing.T) {
		fired := false
		require.NoError(t, m.Start(func(uint32) { fired = true }))
		require.NoError(t, m.Stop())
		assert.False(t, fired)
		assert.Equal(t, IDLE, m.State)
	})
}

func TestMapped_FIFOBackpressure(t *testing.T) {
	regs := &register.MemMap{}
	cfg := DefaultMappedConfig()
	m, err := NewMapped(regs, cfg, poll.WithTimeout(10*time.Millisecond))
	require.NoError(t, err)

	regs.Mem(cfg.Status).Write(register.FIFOFull)
	assert.ErrorIs(t, m.Input().Write(context.Background(), 1), poll.ErrTimeout)
	assert.Zero(t, regs.Mem(cfg.FIFO).Read())
}

func TestMappedConfig_Span(t *testing.T) {
	base, size, err := DefaultMappedConfig().span()
	require.NoError(t, err)
	assert.Equal(t, register.ControlAddr, base)
	assert.Equal(t, int(register.OutputAddr-register.ControlAddr)+OutputWords*4, size)

	bad := DefaultMappedConfig()
	bad.Status = bad.Control - 4
	_, _, err = bad.span()
	assert.Error(t, err)
}

func TestOpenAccelerator_UnsupportedBackend(t *testing.T) {
	_, _, err := OpenAccelerator(BackendConfig{UseBackend: "tflite"}, DefaultMappedConfig(), 120, 160)
	assert.EqualError(t, err, "unsupported backend: tflite")
}
