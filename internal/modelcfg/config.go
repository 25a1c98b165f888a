//nolint:lll
package modelcfg

import (
	"fmt"
	"slices"
)

// Dataset type tags with special handling.
const (
	TypeConcatDataset        = "ConcatDataset"
	TypeUniformConcatDataset = "UniformConcatDataset"
	TypeIcdarDataset         = "IcdarDataset"
	TypeOCRDataset           = "OCRDataset"
)

// Split names.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// Config is a model configuration. Only the data section is consumed here;
// model and schedule settings are ignored.
type Config struct {
	Data DataConfig `mapstructure:"data" yaml:"data" json:"data"`
}

// DataConfig holds the dataset splits and default loader sizing.
type DataConfig struct {
	SamplesPerGPU int            `mapstructure:"samples_per_gpu" yaml:"samples_per_gpu,omitempty" json:"samples_per_gpu,omitempty"`
	WorkersPerGPU int            `mapstructure:"workers_per_gpu" yaml:"workers_per_gpu,omitempty" json:"workers_per_gpu,omitempty"`
	Train         *DatasetConfig `mapstructure:"train" yaml:"train,omitempty" json:"train,omitempty"`
	Val           *DatasetConfig `mapstructure:"val" yaml:"val,omitempty" json:"val,omitempty"`
	Test          *DatasetConfig `mapstructure:"test" yaml:"test,omitempty" json:"test,omitempty"`
}

// DatasetConfig describes one dataset and the stages applied to its samples.
type DatasetConfig struct {
	Type      string          `mapstructure:"type" yaml:"type" json:"type"`
	AnnFile   string          `mapstructure:"ann_file" yaml:"ann_file,omitempty" json:"ann_file,omitempty"`
	ImgPrefix string          `mapstructure:"img_prefix" yaml:"img_prefix,omitempty" json:"img_prefix,omitempty"`
	Loader    *LoaderConfig   `mapstructure:"loader" yaml:"loader,omitempty" json:"loader,omitempty"`
	Pipeline  []Stage         `mapstructure:"pipeline" yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	Datasets  []DatasetConfig `mapstructure:"datasets" yaml:"datasets,omitempty" json:"datasets,omitempty"`
	TestMode  bool            `mapstructure:"test_mode" yaml:"test_mode,omitempty" json:"test_mode,omitempty"`
}

// LoaderConfig describes how an annotation file is read.
type LoaderConfig struct {
	Type   string       `mapstructure:"type" yaml:"type" json:"type"`
	Repeat int          `mapstructure:"repeat" yaml:"repeat,omitempty" json:"repeat,omitempty"`
	Parser ParserConfig `mapstructure:"parser" yaml:"parser" json:"parser"`
}

// ParserConfig describes how one annotation line is split into fields.
type ParserConfig struct {
	Type      string   `mapstructure:"type" yaml:"type" json:"type"`
	Keys      []string `mapstructure:"keys" yaml:"keys,omitempty" json:"keys,omitempty"`
	KeysIdx   []int    `mapstructure:"keys_idx" yaml:"keys_idx,omitempty" json:"keys_idx,omitempty"`
	Separator string   `mapstructure:"separator" yaml:"separator,omitempty" json:"separator,omitempty"`
}

// Split returns the dataset config for a named split.
func (d *DataConfig) Split(name string) (*DatasetConfig, error) {
	var ds *DatasetConfig
	switch name {
	case SplitTrain:
		ds = d.Train
	case SplitVal:
		ds = d.Val
	case SplitTest:
		ds = d.Test
	default:
		return nil, fmt.Errorf("%w: %q (must be one of: train, val, test)", ErrSplitNotFound, name)
	}
	if ds == nil {
		return nil, fmt.Errorf("%w: %q is not configured", ErrSplitNotFound, name)
	}
	return ds, nil
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	return &Config{Data: c.Data.Clone()}
}

// Clone returns a deep copy.
func (d DataConfig) Clone() DataConfig {
	out := d
	out.Train = d.Train.Clone()
	out.Val = d.Val.Clone()
	out.Test = d.Test.Clone()
	return out
}

// Clone returns a deep copy.
func (d *DatasetConfig) Clone() *DatasetConfig {
	if d == nil {
		return nil
	}
	out := *d
	if d.Loader != nil {
		l := *d.Loader
		l.Parser.Keys = slices.Clone(d.Loader.Parser.Keys)
		l.Parser.KeysIdx = slices.Clone(d.Loader.Parser.KeysIdx)
		out.Loader = &l
	}
	out.Pipeline = CloneStages(d.Pipeline)
	if d.Datasets != nil {
		out.Datasets = make([]DatasetConfig, len(d.Datasets))
		for i := range d.Datasets {
			out.Datasets[i] = *d.Datasets[i].Clone()
		}
	}
	return &out
}

// IsConcat reports whether the dataset is a plain concatenation of
// sub-datasets, each carrying its own pipeline.
func (d *DatasetConfig) IsConcat() bool {
	return d != nil && d.Type == TypeConcatDataset
}
