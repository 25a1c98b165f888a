package modelcfg

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	// ErrSplitNotFound is returned when a requested dataset split is absent.
	ErrSplitNotFound = errors.New("dataset split not found")

	// ErrUnsupportedSource is returned by Resolve for unknown source types.
	ErrUnsupportedSource = errors.New("unsupported model config source")
)

// Load reads a model configuration from a YAML or JSON file.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model config %s: %w", path, err)
	}
	format, err := formatFromPath(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(format)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading model config %s: %w", path, err)
	}
	return decode(v)
}

// Parse reads a model configuration from memory. format is "yaml" or "json".
func Parse(data []byte, format string) (*Config, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("error parsing model config: %w", err)
	}
	return decode(v)
}

// Resolve accepts a file path or an already parsed configuration and returns
// a private copy the caller may modify freely.
func Resolve(src any) (*Config, error) {
	switch c := src.(type) {
	case string:
		return Load(c)
	case *Config:
		if c == nil {
			return nil, fmt.Errorf("%w: nil *Config", ErrUnsupportedSource)
		}
		return c.Clone(), nil
	case Config:
		return c.Clone(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedSource, src)
	}
}

// EncodeStages renders a stage list as YAML.
func EncodeStages(stages []Stage) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(stages); err != nil {
		return nil, fmt.Errorf("encode pipeline: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		scaleListHook,
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("error unmarshaling model config: %w", err)
	}
	return &cfg, nil
}

func formatFromPath(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported model config format %q: %w", ext, fs.ErrInvalid)
	}
}
