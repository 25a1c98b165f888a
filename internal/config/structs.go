//nolint:lll
package config

import "github.com/MeKo-Tech/ocrprep/internal/onnx"

// Config represents the complete configuration for the ocrprep tool.
// It is loaded from configuration files, environment variables, and
// command-line flags.
type Config struct {
	// Global settings
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"`
	Verbose   bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Model config file (YAML or JSON) holding the data section.
	ModelConfig string `mapstructure:"model_config" yaml:"model_config" json:"model_config"`

	// Input preparation
	Input InputConfig `mapstructure:"input" yaml:"input" json:"input"`

	// Dataset and data loader
	Dataset DatasetConfig `mapstructure:"dataset" yaml:"dataset" json:"dataset"`

	// GPU configuration used when tensors are placed on a cuda device
	GPU onnx.GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`

	// ONNX Runtime shared library; empty searches the usual locations
	ONNXLibrary string `mapstructure:"onnx_library" yaml:"onnx_library" json:"onnx_library"`

	// Prometheus textfile written when a command finishes
	MetricsFile string `mapstructure:"metrics_file" yaml:"metrics_file" json:"metrics_file"`
}

// InputConfig contains settings for preparing model inputs.
type InputConfig struct {
	Task       string `mapstructure:"task" yaml:"task" json:"task"`
	Device     string `mapstructure:"device" yaml:"device" json:"device"`
	InputShape []int  `mapstructure:"input_shape" yaml:"input_shape" json:"input_shape"`
}

// DatasetConfig contains settings for building datasets and data loaders.
type DatasetConfig struct {
	Split string `mapstructure:"split" yaml:"split" json:"split"`
	// Root resolves relative annotation files and image prefixes.
	Root   string       `mapstructure:"root" yaml:"root" json:"root"`
	Loader LoaderConfig `mapstructure:"loader" yaml:"loader" json:"loader"`
}

// LoaderConfig contains data loader settings. Zero per-GPU counts fall back
// to the model config's data section.
type LoaderConfig struct {
	SamplesPerGPU int    `mapstructure:"samples_per_gpu" yaml:"samples_per_gpu" json:"samples_per_gpu"`
	WorkersPerGPU int    `mapstructure:"workers_per_gpu" yaml:"workers_per_gpu" json:"workers_per_gpu"`
	NumGPUs       int    `mapstructure:"num_gpus" yaml:"num_gpus" json:"num_gpus"`
	Shuffle       bool   `mapstructure:"shuffle" yaml:"shuffle" json:"shuffle"`
	Seed          *int64 `mapstructure:"seed" yaml:"seed,omitempty" json:"seed,omitempty"`
	Dist          bool   `mapstructure:"dist" yaml:"dist" json:"dist"`
	Rank          int    `mapstructure:"rank" yaml:"rank" json:"rank"`
	WorldSize     int    `mapstructure:"world_size" yaml:"world_size" json:"world_size"`
	DropLast      bool   `mapstructure:"drop_last" yaml:"drop_last" json:"drop_last"`
}
