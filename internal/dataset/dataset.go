// Package dataset builds indexable datasets from the data section of a
// model config.
package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/MeKo-Tech/ocrprep/internal/metrics"
	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/pipeline"
)

// ErrIndexOutOfRange is returned for indices outside [0, Len()).
var ErrIndexOutOfRange = errors.New("dataset index out of range")

// ErrUnknownType is returned for dataset types without a builder.
var ErrUnknownType = errors.New("unknown dataset type")

// Dataset is an indexable collection of samples.
type Dataset interface {
	// Type is the configured dataset type tag.
	Type() string
	Len() int
	// Info describes sample i without loading it.
	Info(i int) (pipeline.ImgInfo, error)
	// Get loads sample i and runs it through the dataset pipeline.
	Get(i int) (*pipeline.Sample, error)
}

// Option tunes BuildDataset.
type Option func(*buildOptions)

type buildOptions struct {
	root   string
	logger *slog.Logger
}

// WithRoot resolves relative annotation files and image prefixes against
// dir instead of the working directory.
func WithRoot(dir string) Option {
	return func(o *buildOptions) { o.root = dir }
}

// WithLogger sets the logger used while building.
func WithLogger(l *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// BuildDataset resolves cfgSrc (a config path, *modelcfg.Config or
// modelcfg.Config), selects split ("val" when empty) and builds it.
func BuildDataset(cfgSrc any, split string, opts ...Option) (Dataset, error) {
	o := buildOptions{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if split == "" {
		split = modelcfg.SplitVal
	}
	cfg, err := modelcfg.Resolve(cfgSrc)
	if err != nil {
		return nil, err
	}
	dc, err := cfg.Data.Split(split)
	if err != nil {
		return nil, err
	}
	ds, err := build(dc, nil, o)
	if err != nil {
		return nil, fmt.Errorf("build %s dataset: %w", split, err)
	}
	metrics.SetDatasetSize(ds.Type(), ds.Len())
	o.logger.Debug("dataset built", "split", split, "type", ds.Type(), "samples", ds.Len())
	return ds, nil
}

// build constructs one dataset. A non-nil override replaces the dataset's
// own pipeline.
func build(dc *modelcfg.DatasetConfig, override []modelcfg.Stage, o buildOptions) (Dataset, error) {
	stages := dc.Pipeline
	if override != nil {
		stages = override
	}
	switch dc.Type {
	case modelcfg.TypeConcatDataset, modelcfg.TypeUniformConcatDataset:
		if len(dc.Datasets) == 0 {
			return nil, fmt.Errorf("%s has no datasets", dc.Type)
		}
		childOverride := override
		if dc.Type == modelcfg.TypeUniformConcatDataset && len(dc.Pipeline) > 0 {
			childOverride = stages
		}
		children := make([]Dataset, 0, len(dc.Datasets))
		for i := range dc.Datasets {
			child, err := build(&dc.Datasets[i], childOverride, o)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", dc.Type, i, err)
			}
			children = append(children, child)
		}
		return newConcat(dc.Type, children), nil
	case modelcfg.TypeIcdarDataset:
		base, err := newBase(dc, stages, o)
		if err != nil {
			return nil, err
		}
		return loadIcdar(base, dc.TestMode)
	case modelcfg.TypeOCRDataset:
		base, err := newBase(dc, stages, o)
		if err != nil {
			return nil, err
		}
		return loadOCR(base, dc.Loader)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, dc.Type)
	}
}

// base holds what every leaf dataset shares.
type base struct {
	typ     string
	annFile string
	prefix  string
	pipe    *pipeline.Compose
	infos   []pipeline.ImgInfo
}

func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) || root == "" {
		return p
	}
	return filepath.Join(root, p)
}

func newBase(dc *modelcfg.DatasetConfig, stages []modelcfg.Stage, o buildOptions) (*base, error) {
	if dc.AnnFile == "" {
		return nil, fmt.Errorf("%s: ann_file is required", dc.Type)
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("%s: pipeline is empty", dc.Type)
	}
	pipe, err := pipeline.Build(stages)
	if err != nil {
		return nil, err
	}
	b := &base{
		typ:     dc.Type,
		annFile: resolvePath(o.root, dc.AnnFile),
		prefix:  resolvePath(o.root, dc.ImgPrefix),
		pipe:    pipe,
	}
	if _, err := os.Stat(b.annFile); err != nil {
		return nil, fmt.Errorf("annotation file: %w", err)
	}
	return b, nil
}

func (b *base) Type() string { return b.typ }

func (b *base) Len() int { return len(b.infos) }

func (b *base) Info(i int) (pipeline.ImgInfo, error) {
	if i < 0 || i >= len(b.infos) {
		return pipeline.ImgInfo{}, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(b.infos))
	}
	return b.infos[i], nil
}

func (b *base) Get(i int) (*pipeline.Sample, error) {
	info, err := b.Info(i)
	if err != nil {
		return nil, err
	}
	s := pipeline.NewFileSample(info.Filename, b.prefix)
	s.ImgInfo = info
	out, err := b.pipe.Run(s)
	if err != nil {
		return nil, fmt.Errorf("sample %d (%s): %w", i, info.Filename, err)
	}
	return out, nil
}

// concat joins datasets end to end.
type concat struct {
	typ      string
	children []Dataset
	// cumulative[i] is the total length of children[:i+1].
	cumulative []int
}

func newConcat(typ string, children []Dataset) *concat {
	c := &concat{typ: typ, children: children, cumulative: make([]int, len(children))}
	total := 0
	for i, ch := range children {
		total += ch.Len()
		c.cumulative[i] = total
	}
	return c
}

func (c *concat) Type() string { return c.typ }

func (c *concat) Len() int {
	if len(c.cumulative) == 0 {
		return 0
	}
	return c.cumulative[len(c.cumulative)-1]
}

// locate maps a global index to a child and its local index.
func (c *concat) locate(i int) (Dataset, int, error) {
	if i < 0 || i >= c.Len() {
		return nil, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, c.Len())
	}
	k := sort.SearchInts(c.cumulative, i+1)
	local := i
	if k > 0 {
		local -= c.cumulative[k-1]
	}
	return c.children[k], local, nil
}

func (c *concat) Info(i int) (pipeline.ImgInfo, error) {
	ch, local, err := c.locate(i)
	if err != nil {
		return pipeline.ImgInfo{}, err
	}
	return ch.Info(local)
}

func (c *concat) Get(i int) (*pipeline.Sample, error) {
	ch, local, err := c.locate(i)
	if err != nil {
		return nil, err
	}
	return ch.Get(local)
}

// Children returns the concatenated datasets.
func (c *concat) Children() []Dataset { return c.children }
