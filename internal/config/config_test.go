package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ocrprep/internal/inputprep"
	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/onnx"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "TextDetection", cfg.Input.Task)
	assert.Equal(t, "cpu", cfg.Input.Device)
	assert.Equal(t, modelcfg.SplitVal, cfg.Dataset.Split)
	assert.Equal(t, 1, cfg.Dataset.Loader.NumGPUs)
	assert.Equal(t, 1, cfg.Dataset.Loader.WorldSize)
	assert.Equal(t, onnx.DefaultGPUConfig(), cfg.GPU)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "upper case level", mutate: func(c *Config) { c.LogLevel = "DEBUG" }},
		{name: "bad level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: "invalid log format"},
		{name: "bad task", mutate: func(c *Config) { c.Input.Task = "ner" }, wantErr: "task"},
		{name: "empty task", mutate: func(c *Config) { c.Input.Task = "" }},
		{name: "cuda device", mutate: func(c *Config) { c.Input.Device = "cuda:1" }},
		{name: "bad device", mutate: func(c *Config) { c.Input.Device = "tpu" }, wantErr: "invalid device"},
		{name: "shape", mutate: func(c *Config) { c.Input.InputShape = []int{32, 100} }},
		{name: "shape length", mutate: func(c *Config) { c.Input.InputShape = []int{32} }, wantErr: "invalid input shape"},
		{name: "shape sign", mutate: func(c *Config) { c.Input.InputShape = []int{32, 0} }, wantErr: "invalid input shape"},
		{name: "bad split", mutate: func(c *Config) { c.Dataset.Split = "dev" }, wantErr: "invalid split"},
		{name: "negative samples", mutate: func(c *Config) { c.Dataset.Loader.SamplesPerGPU = -1 }, wantErr: "samples_per_gpu"},
		{name: "negative workers", mutate: func(c *Config) { c.Dataset.Loader.WorkersPerGPU = -1 }, wantErr: "workers_per_gpu"},
		{name: "zero gpus", mutate: func(c *Config) { c.Dataset.Loader.NumGPUs = 0 }, wantErr: "num_gpus"},
		{name: "zero world", mutate: func(c *Config) { c.Dataset.Loader.WorldSize = 0 }, wantErr: "world_size"},
		{
			name: "rank outside world",
			mutate: func(c *Config) {
				c.Dataset.Loader.Dist = true
				c.Dataset.Loader.WorldSize = 2
				c.Dataset.Loader.Rank = 2
			},
			wantErr: "invalid rank",
		},
		{name: "bad gpu", mutate: func(c *Config) { c.GPU.DeviceID = -1 }, wantErr: "invalid gpu config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    slog.Level
	}{
		{level: "debug", want: slog.LevelDebug},
		{level: "info", want: slog.LevelInfo},
		{level: "WARN", want: slog.LevelWarn},
		{level: "error", want: slog.LevelError},
		{level: "error", verbose: true, want: slog.LevelDebug},
	}
	for _, tt := range tests {
		cfg := Config{LogLevel: tt.level, Verbose: tt.verbose}
		assert.Equal(t, tt.want, cfg.SlogLevel(), tt.level)
	}
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Task = "recog"
	cfg.Input.InputShape = []int{32, 128}
	cfg.Input.Device = "cuda:0"
	cfg.ONNXLibrary = "/opt/ort/libonnxruntime.so"
	seed := int64(9)
	cfg.Dataset.Loader = LoaderConfig{NumGPUs: 2, Shuffle: true, Seed: &seed, WorldSize: 1, DropLast: true}

	task, err := cfg.Task()
	require.NoError(t, err)
	assert.Equal(t, inputprep.TextRecognition, task)

	in := cfg.ToInputOptions(slog.Default())
	assert.Equal(t, []int{32, 128}, in.InputShape)
	assert.Equal(t, "cuda:0", in.Device)
	placer, ok := in.Placer.(*onnx.Placer)
	require.True(t, ok)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", placer.LibraryPath)

	lo := cfg.ToLoaderOptions(nil)
	assert.Equal(t, 2, lo.NumGPUs)
	assert.True(t, lo.Shuffle)
	assert.True(t, lo.DropLast)
	require.NotNil(t, lo.Seed)
	assert.Equal(t, int64(9), *lo.Seed)
}

func TestLoaderSizes(t *testing.T) {
	cfg := DefaultConfig()

	s, w := cfg.LoaderSizes(modelcfg.DataConfig{SamplesPerGPU: 4, WorkersPerGPU: 2})
	assert.Equal(t, 4, s)
	assert.Equal(t, 2, w)

	s, w = cfg.LoaderSizes(modelcfg.DataConfig{})
	assert.Equal(t, 1, s)
	assert.Equal(t, 0, w)

	cfg.Dataset.Loader.SamplesPerGPU = 8
	cfg.Dataset.Loader.WorkersPerGPU = 3
	s, w = cfg.LoaderSizes(modelcfg.DataConfig{SamplesPerGPU: 4, WorkersPerGPU: 2})
	assert.Equal(t, 8, s)
	assert.Equal(t, 3, w)
}
