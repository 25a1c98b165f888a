package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "ocrprep"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "OCRPREP"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags
// bound by the CLI are visible.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a private viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the config file found on the search paths (if any), applies
// environment variables and defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithFile is Load with an explicit config file. An empty path searches
// the standard locations.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation loads configuration without validating it.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing file is fine when searching; defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance for advanced usage.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// addConfigPaths adds the standard configuration search paths.
func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

// setupEnvironmentVariables configures environment variable handling.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// OCRPREP_DATASET_LOADER_NUM_GPUS maps to dataset.loader.num_gpus.
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults sets default values for all configuration options. Every key
// needs a default for AutomaticEnv to see it during Unmarshal.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("log_format", d.LogFormat)
	l.v.SetDefault("verbose", d.Verbose)
	l.v.SetDefault("model_config", d.ModelConfig)
	l.v.SetDefault("onnx_library", d.ONNXLibrary)
	l.v.SetDefault("metrics_file", d.MetricsFile)

	l.v.SetDefault("input.task", d.Input.Task)
	l.v.SetDefault("input.device", d.Input.Device)
	l.v.SetDefault("input.input_shape", d.Input.InputShape)

	l.v.SetDefault("dataset.split", d.Dataset.Split)
	l.v.SetDefault("dataset.root", d.Dataset.Root)
	l.v.SetDefault("dataset.loader.samples_per_gpu", d.Dataset.Loader.SamplesPerGPU)
	l.v.SetDefault("dataset.loader.workers_per_gpu", d.Dataset.Loader.WorkersPerGPU)
	l.v.SetDefault("dataset.loader.num_gpus", d.Dataset.Loader.NumGPUs)
	l.v.SetDefault("dataset.loader.shuffle", d.Dataset.Loader.Shuffle)
	l.v.SetDefault("dataset.loader.dist", d.Dataset.Loader.Dist)
	l.v.SetDefault("dataset.loader.rank", d.Dataset.Loader.Rank)
	l.v.SetDefault("dataset.loader.world_size", d.Dataset.Loader.WorldSize)
	l.v.SetDefault("dataset.loader.drop_last", d.Dataset.Loader.DropLast)

	l.v.SetDefault("gpu.device_id", d.GPU.DeviceID)
	l.v.SetDefault("gpu.mem_limit", d.GPU.GPUMemLimit)
	l.v.SetDefault("gpu.arena_extend_strategy", d.GPU.ArenaExtendStrategy)
	l.v.SetDefault("gpu.cudnn_conv_algo_search", d.GPU.CUDNNConvAlgoSearch)
	l.v.SetDefault("gpu.do_copy_in_default_stream", d.GPU.DoCopyInDefaultStream)
}

// WriteDefaultConfig writes a config file holding the defaults.
func WriteDefaultConfig(filename string) error {
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	l := NewLoaderWithViper(viper.New())
	l.setDefaults()
	return l.v.WriteConfigAs(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, ConfigFileName))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", ConfigFileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}

	return append(paths, "/etc/"+ConfigFileName)
}
