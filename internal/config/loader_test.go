package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/ocrprep/internal/testutil"
)

func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadWithFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "custom.yaml", `
log_level: debug
model_config: configs/dbnet.yaml
input:
  task: recognition
  device: cuda:1
  input_shape: [32, 128]
dataset:
  split: test
  loader:
    samples_per_gpu: 4
    shuffle: true
    seed: 42
gpu:
  device_id: 1
  mem_limit: 1073741824
`)

	l := NewLoaderWithViper(viper.New())
	cfg, err := l.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.GetConfigFileUsed())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "configs/dbnet.yaml", cfg.ModelConfig)
	assert.Equal(t, "recognition", cfg.Input.Task)
	assert.Equal(t, "cuda:1", cfg.Input.Device)
	assert.Equal(t, []int{32, 128}, cfg.Input.InputShape)
	assert.Equal(t, "test", cfg.Dataset.Split)
	assert.Equal(t, 4, cfg.Dataset.Loader.SamplesPerGPU)
	assert.Equal(t, 1, cfg.Dataset.Loader.NumGPUs)
	assert.True(t, cfg.Dataset.Loader.Shuffle)
	require.NotNil(t, cfg.Dataset.Loader.Seed)
	assert.Equal(t, int64(42), *cfg.Dataset.Loader.Seed)
	assert.Equal(t, 1, cfg.GPU.DeviceID)
	assert.Equal(t, uint64(1<<30), cfg.GPU.GPUMemLimit)
	assert.Equal(t, "kNextPowerOfTwo", cfg.GPU.ArenaExtendStrategy)
}

func TestLoadSearchesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	testutil.WriteFile(t, dir, "ocrprep.yaml", "input:\n  task: det\n")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, "det", cfg.Input.Task)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("OCRPREP_LOG_LEVEL", "warn")
	t.Setenv("OCRPREP_INPUT_DEVICE", "cuda")
	t.Setenv("OCRPREP_DATASET_LOADER_NUM_GPUS", "4")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "cuda", cfg.Input.Device)
	assert.Equal(t, 4, cfg.Dataset.Loader.NumGPUs)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")

	bad := testutil.WriteFile(t, dir, "bad.yaml", "log_level: [unclosed\n")
	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(bad)
	assert.ErrorContains(t, err, "error reading config file")

	invalid := testutil.WriteFile(t, dir, "invalid.yaml", "log_level: loud\n")
	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(invalid)
	assert.ErrorContains(t, err, "configuration validation failed")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.LogLevel)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ocrprep.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	want := DefaultConfig()
	assert.Equal(t, want.LogLevel, cfg.LogLevel)
	assert.Equal(t, want.Input.Task, cfg.Input.Task)
	assert.Equal(t, want.Dataset.Loader.NumGPUs, cfg.Dataset.Loader.NumGPUs)
	assert.Equal(t, want.GPU, cfg.GPU)
	assert.Empty(t, cfg.Input.InputShape)
}

func TestGetConfigSearchPaths(t *testing.T) {
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, filepath.Join(xdg, "ocrprep"))
	assert.Equal(t, "/etc/ocrprep", paths[len(paths)-1])
}
