package engine

import (
	"fmt"

	"PresenceSensor/poll"
)

// BackendMMIO selects the memory-mapped hardware accelerator instead of a model file.
const BackendMMIO = "mmio"

type BackendConfig struct {
	UseBackend string `yaml:"useBackend"`
	ModelPath  string `yaml:"modelPath"`
	ConfigPath string `yaml:"configPath"`
	UseGPU     bool   `yaml:"useGPU"`
}

// LoadBackend opens the model named by cfg.
func LoadBackend(cfg BackendConfig) (Model, error) {
	switch cfg.UseBackend {
	case "", "onnx":
		return NewOnnxModel(cfg.ModelPath, cfg.UseGPU)
	case "dnn":
		return NewDnnModel(cfg.ModelPath, cfg.ConfigPath, cfg.UseGPU)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.UseBackend)
	}
}

// NewAccelerator registers a software engine and loads model into it.
func NewAccelerator(cfg BackendConfig, model Model, width, height int) (*SoftCNN, error) {
	d := &SoftCNN{}
	if !d.New() {
		return nil, fmt.Errorf("accelerator registration failed")
	}
	if err := d.LoadModel(cfg.ModelPath, model, width, height); err != nil {
		return nil, err
	}
	return d, nil
}

// OpenAccelerator builds the accelerator cfg asks for. regs is only used by the mmio backend.
// The returned release func frees the model or the register window.
func OpenAccelerator(cfg BackendConfig, regs MappedConfig, width, height int) (Accelerator, func(), error) {
	if cfg.UseBackend == BackendMMIO {
		m, w, err := OpenMapped(regs, poll.Forever())
		if err != nil {
			return nil, nil, err
		}
		return m, func() {
			_ = m.Stop()
			_ = w.Close()
		}, nil
	}
	model, err := LoadBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	d, err := NewAccelerator(cfg, model, width, height)
	if err != nil {
		_ = model.Close()
		return nil, nil, err
	}
	return d, d.Destroy, nil
}
