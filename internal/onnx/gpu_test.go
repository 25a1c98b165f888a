package onnx

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ocrprep/internal/tensor"
)

func TestDefaultGPUConfig(t *testing.T) {
	config := DefaultGPUConfig()

	if config.DeviceID != 0 {
		t.Errorf("Expected DeviceID to be 0, got %d", config.DeviceID)
	}
	if config.ArenaExtendStrategy != "kNextPowerOfTwo" {
		t.Errorf("Expected ArenaExtendStrategy to be 'kNextPowerOfTwo', got %s", config.ArenaExtendStrategy)
	}
	if !config.DoCopyInDefaultStream {
		t.Error("Expected DoCopyInDefaultStream to be true by default")
	}
}

func TestValidateGPUConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GPUConfig
		wantErr bool
	}{
		{name: "defaults", config: DefaultGPUConfig()},
		{name: "negative device ID", config: GPUConfig{DeviceID: -1}, wantErr: true},
		{name: "invalid arena extend strategy", config: GPUConfig{ArenaExtendStrategy: "invalid"}, wantErr: true},
		{name: "invalid CUDNN algo search", config: GPUConfig{CUDNNConvAlgoSearch: "invalid"}, wantErr: true},
		{name: "kSameAsRequested", config: GPUConfig{ArenaExtendStrategy: "kSameAsRequested"}},
		{name: "HEURISTIC", config: GPUConfig{CUDNNConvAlgoSearch: "HEURISTIC"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGPUConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateGPUConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCUDAProviderSettings(t *testing.T) {
	cfg := DefaultGPUConfig()
	cfg.DeviceID = 2
	cfg.GPUMemLimit = 1 << 30

	got := CUDAProviderSettings(cfg)
	assert.Equal(t, map[string]string{
		"device_id":                 "2",
		"gpu_mem_limit":             "1073741824",
		"arena_extend_strategy":     "kNextPowerOfTwo",
		"cudnn_conv_algo_search":    "DEFAULT",
		"do_copy_in_default_stream": "1",
	}, got)

	got = CUDAProviderSettings(GPUConfig{})
	assert.Equal(t, map[string]string{"device_id": "0", "do_copy_in_default_stream": "0"}, got)
}

func TestGetSystemLibraryPaths(t *testing.T) {
	assert.Len(t, getSystemLibraryPaths(true), 4)
	assert.Len(t, getSystemLibraryPaths(false), 3)
	assert.Contains(t, getSystemLibraryPaths(true)[0], "gpu")
}

func TestFindProjectRoot(t *testing.T) {
	projectDir := filepath.Join(t.TempDir(), "project")
	subDir := filepath.Join(projectDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "go.mod"), []byte("module test\n"), 0o644))

	t.Chdir(subDir)
	root, err := findProjectRoot()
	require.NoError(t, err)
	assert.Equal(t, projectDir, root)
}

func TestPlaceCPUIsNoop(t *testing.T) {
	p := NewPlacer(DefaultGPUConfig())
	ts := []*tensor.Tensor{tensor.New(1, 3, 2, 2)}

	require.NoError(t, p.Place(context.Background(), ts, tensor.Device{Kind: tensor.CPU}))
	assert.Nil(t, ts[0].Handle)
	assert.True(t, ts[0].Device.IsCPU())
}

func TestPlaceHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPlacer(DefaultGPUConfig())
	err := p.Place(ctx, []*tensor.Tensor{tensor.New(1)}, tensor.Device{Kind: tensor.CUDA})
	require.ErrorIs(t, err, context.Canceled)
}
