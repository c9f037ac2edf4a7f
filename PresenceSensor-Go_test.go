package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PresenceSensor/engine"
	iface "PresenceSensor/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanner(t *testing.T) {
	cnn := strings.Join(banner("config.yaml", configStruct{Variant: "cnn", RPCPort: 50051}), "\n")
	assert.Contains(t, cnn, "240x180 rgb565")
	assert.Contains(t, cnn, "120x160")
	assert.Contains(t, cnn, "@ 10 MHz")
	assert.Contains(t, cnn, "115200")
	assert.Contains(t, cnn, "50051")

	heuristic := strings.Join(banner("config.yaml", configStruct{Variant: "heuristic"}), "\n")
	assert.Contains(t, heuristic, "40x40 grayscale")
	assert.NotContains(t, heuristic, "rgb565")
}

func TestBuildVariant_UnsupportedBackend(t *testing.T) {
	_, _, err := buildVariant(configStruct{Variant: "cnn", Backend: engine.BackendConfig{UseBackend: "tpu", ModelPath: "model.onnx"}})
	require.Error(t, err)
	assert.True(t, iface.IsConfigError(err))
}

func TestRun_ExitCode(t *testing.T) {
	t.Run("Test missing config", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv(configPathEnv, "missing.yaml")
		assert.Equal(t, 1, run())
	})

	t.Run("Test accelerator config error", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		path := filepath.Join(dir, "config.yaml")
		data := "variant: cnn\nlogMode: development\nsettleDelay: 0s\n" +
			"backend:\n  useBackend: tpu\n  modelPath: model.onnx\n" +
			"outputs:\n  gpio: none\n"
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
		t.Setenv(configPathEnv, path)
		assert.Equal(t, 1, run())
	})
}
