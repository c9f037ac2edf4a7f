package engine

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// OnnxModel runs a network through the OpenCV DNN module.
type OnnxModel struct {
	ModelPath string
	UseGPU    bool

	net gocv.Net
	mu  sync.Mutex
}

func NewOnnxModel(modelPath string, useGPU bool) (*OnnxModel, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}
	net := gocv.ReadNetFromONNX(modelPath)
	return newNetModel(net, modelPath, useGPU)
}

// NewDnnModel loads any format OpenCV can detect from the file extension.
func NewDnnModel(modelPath, configPath string, useGPU bool) (*OnnxModel, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("model file not found: %s", modelPath)
	}
	net := gocv.ReadNet(modelPath, configPath)
	return newNetModel(net, modelPath, useGPU)
}

func newNetModel(net gocv.Net, modelPath string, useGPU bool) (*OnnxModel, error) {
	if net.Empty() {
		_ = net.Close()
		return nil, fmt.Errorf("could not load network from %s", modelPath)
	}
	if useGPU {
		_ = net.SetPreferableBackend(gocv.NetBackendCUDA)
		_ = net.SetPreferableTarget(gocv.NetTargetCUDA)
	} else {
		_ = net.SetPreferableBackend(gocv.NetBackendDefault)
		_ = net.SetPreferableTarget(gocv.NetTargetCPU)
	}
	return &OnnxModel{ModelPath: modelPath, UseGPU: useGPU, net: net}, nil
}

// Infer scales the int8 input back to [-1, 1) and runs one forward pass.
func (m *OnnxModel) Infer(input []int8, width, height, channels int) ([]float32, error) {
	if channels != 3 {
		return nil, fmt.Errorf("onnx model wants 3 channels, got %d", channels)
	}
	if len(input) != width*height*channels {
		return nil, fmt.Errorf("input holds %d values, want %d", len(input), width*height*channels)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	raw := make([]byte, len(input))
	for i, v := range input {
		raw[i] = byte(v)
	}
	img, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8SC3, raw)
	if err != nil {
		return nil, fmt.Errorf("input mat: %w", err)
	}
	defer img.Close()

	scaled := gocv.NewMat()
	defer scaled.Close()
	img.ConvertToWithParams(&scaled, gocv.MatTypeCV32FC3, 1.0/128, 0)

	blob := gocv.BlobFromImage(scaled, 1.0, image.Pt(width, height), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("empty network output")
	}

	values, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	return append([]float32(nil), values...), nil
}

func (m *OnnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net.Close()
}
