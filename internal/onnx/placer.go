package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yalue/onnxruntime_go"

	"github.com/MeKo-Tech/ocrprep/internal/tensor"
)

// ErrRuntimeUnavailable is returned when the ONNX Runtime library cannot be
// located or initialized.
var ErrRuntimeUnavailable = errors.New("onnx runtime unavailable")

// Placer binds tensors to ONNX Runtime values for a target device.
type Placer struct {
	GPU         GPUConfig
	LibraryPath string
	Logger      *slog.Logger

	mu      sync.Mutex
	checked map[int]error
}

// NewPlacer returns a placer using the given CUDA settings.
func NewPlacer(gpu GPUConfig) *Placer {
	return &Placer{GPU: gpu}
}

func (p *Placer) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Place moves every tensor to dev. CPU placement is a no-op. For a cuda
// device the runtime is initialized once, the CUDA provider is checked for
// that device index, and each tensor is wrapped in a runtime value held in
// its Handle.
func (p *Placer) Place(ctx context.Context, ts []*tensor.Tensor, dev tensor.Device) error {
	if dev.IsCPU() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.prepare(dev); err != nil {
		return err
	}
	for i, t := range ts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("tensor %d is nil", i)
		}
		if t.Handle != nil {
			if err := t.Release(); err != nil {
				return fmt.Errorf("tensor %d: release previous value: %w", i, err)
			}
		}
		v, err := onnxruntime_go.NewTensor(onnxruntime_go.NewShape(t.Shape...), t.Data)
		if err != nil {
			return fmt.Errorf("tensor %d: %w", i, err)
		}
		t.Handle = v
		t.Device = dev
	}
	p.logger().Debug("placed tensors", "device", dev.String(), "count", len(ts))
	return nil
}

func (p *Placer) prepare(dev tensor.Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !onnxruntime_go.IsInitialized() {
		if p.LibraryPath != "" {
			onnxruntime_go.SetSharedLibraryPath(p.LibraryPath)
		} else if err := SetONNXLibraryPath(true); err != nil {
			return fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
		}
		if err := onnxruntime_go.InitializeEnvironment(); err != nil {
			return fmt.Errorf("%w: %w", ErrRuntimeUnavailable, err)
		}
	}

	if p.checked == nil {
		p.checked = map[int]error{}
	}
	if err, ok := p.checked[dev.Index]; ok {
		return err
	}
	cfg := p.GPU
	cfg.DeviceID = dev.Index
	err := ValidateGPUConfig(cfg)
	if err == nil {
		err = checkCUDAProvider(cfg)
	}
	if err != nil {
		err = fmt.Errorf("device %s: %w", dev, err)
	}
	p.checked[dev.Index] = err
	return err
}
