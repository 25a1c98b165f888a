package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/MeKo-Tech/ocrprep/internal/dataloader"
	"github.com/MeKo-Tech/ocrprep/internal/inputprep"
	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/onnx"
	"github.com/MeKo-Tech/ocrprep/internal/tensor"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "text"}
	validSplits     = []string{modelcfg.SplitTrain, modelcfg.SplitVal, modelcfg.SplitTest}
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Input: InputConfig{
			Task:   string(inputprep.TextDetection),
			Device: "cpu",
		},
		Dataset: DatasetConfig{
			Split: modelcfg.SplitVal,
			Loader: LoaderConfig{
				NumGPUs:   1,
				WorldSize: 1,
			},
		},
		GPU: onnx.DefaultGPUConfig(),
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if !slices.Contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.LogFormat, strings.Join(validLogFormats, ", "))
	}

	if c.Input.Task != "" {
		if _, err := inputprep.ParseTask(c.Input.Task); err != nil {
			return err
		}
	}
	if _, err := tensor.ParseDevice(c.Input.Device); err != nil {
		return fmt.Errorf("invalid device: %w", err)
	}
	if n := len(c.Input.InputShape); n != 0 && n != 2 {
		return fmt.Errorf("invalid input shape %v: expected [height, width]", c.Input.InputShape)
	}
	for _, v := range c.Input.InputShape {
		if v <= 0 {
			return fmt.Errorf("invalid input shape %v: sides must be positive", c.Input.InputShape)
		}
	}

	if c.Dataset.Split != "" && !slices.Contains(validSplits, c.Dataset.Split) {
		return fmt.Errorf("invalid split: %s (must be one of: %s)", c.Dataset.Split, strings.Join(validSplits, ", "))
	}
	if err := c.Dataset.Loader.validate(); err != nil {
		return err
	}

	if err := onnx.ValidateGPUConfig(c.GPU); err != nil {
		return fmt.Errorf("invalid gpu config: %w", err)
	}
	return nil
}

func (l LoaderConfig) validate() error {
	if l.SamplesPerGPU < 0 {
		return fmt.Errorf("invalid samples_per_gpu: %d (must not be negative)", l.SamplesPerGPU)
	}
	if l.WorkersPerGPU < 0 {
		return fmt.Errorf("invalid workers_per_gpu: %d (must not be negative)", l.WorkersPerGPU)
	}
	if l.NumGPUs < 1 {
		return fmt.Errorf("invalid num_gpus: %d (must be at least 1)", l.NumGPUs)
	}
	if l.WorldSize < 1 {
		return fmt.Errorf("invalid world_size: %d (must be at least 1)", l.WorldSize)
	}
	if l.Dist && (l.Rank < 0 || l.Rank >= l.WorldSize) {
		return fmt.Errorf("invalid rank: %d (must be in [0, %d))", l.Rank, l.WorldSize)
	}
	return nil
}

// SlogLevel maps the configured level to a slog level. Verbose forces debug.
func (c *Config) SlogLevel() slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Task returns the parsed input task.
func (c *Config) Task() (inputprep.Task, error) {
	return inputprep.ParseTask(c.Input.Task)
}

// ToInputOptions converts the config to inputprep options.
func (c *Config) ToInputOptions(logger *slog.Logger) inputprep.Options {
	placer := onnx.NewPlacer(c.GPU)
	placer.LibraryPath = c.ONNXLibrary
	placer.Logger = logger
	return inputprep.Options{
		InputShape: slices.Clone(c.Input.InputShape),
		Device:     c.Input.Device,
		Placer:     placer,
		Logger:     logger,
	}
}

// ToLoaderOptions converts the config to data loader options.
func (c *Config) ToLoaderOptions(logger *slog.Logger) dataloader.Options {
	l := c.Dataset.Loader
	return dataloader.Options{
		NumGPUs:   l.NumGPUs,
		Dist:      l.Dist,
		Shuffle:   l.Shuffle,
		Seed:      l.Seed,
		Rank:      l.Rank,
		WorldSize: l.WorldSize,
		DropLast:  l.DropLast,
		Logger:    logger,
	}
}

// LoaderSizes returns samples and workers per GPU, falling back to the
// model config's data section for zero values.
func (c *Config) LoaderSizes(data modelcfg.DataConfig) (samples, workers int) {
	samples, workers = c.Dataset.Loader.SamplesPerGPU, c.Dataset.Loader.WorkersPerGPU
	if samples == 0 {
		samples = data.SamplesPerGPU
	}
	if samples == 0 {
		samples = 1
	}
	if workers == 0 {
		workers = data.WorkersPerGPU
	}
	return samples, workers
}
