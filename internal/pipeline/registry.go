package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
)

// Transform is one executable pipeline stage.
type Transform interface {
	Apply(s *Sample) (*Sample, error)
}

// Builder constructs a Transform from its configuration.
type Builder func(cfg modelcfg.Stage) (Transform, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Builder{}
)

// Register makes a stage type available to Build. Registering a tag twice
// replaces the earlier builder.
func Register(tag string, b Builder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[tag] = b
}

// Registered returns the known stage type tags in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return slices.Sorted(maps.Keys(registry))
}

// BuildStage constructs a single transform.
func BuildStage(cfg modelcfg.Stage) (Transform, error) {
	registryMu.RLock()
	b, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownStage, cfg.Type, strings.Join(Registered(), ", "))
	}
	return b(cfg)
}

// Compose is a compiled, ordered sequence of transforms.
type Compose struct {
	names      []string
	transforms []Transform
}

// Build compiles a stage list.
func Build(stages []modelcfg.Stage) (*Compose, error) {
	c := &Compose{
		names:      make([]string, 0, len(stages)),
		transforms: make([]Transform, 0, len(stages)),
	}
	for i, st := range stages {
		t, err := BuildStage(st)
		if err != nil {
			return nil, &StageError{Stage: st.Type, Index: i, Err: err}
		}
		c.names = append(c.names, st.Type)
		c.transforms = append(c.transforms, t)
	}
	return c, nil
}

// Len returns the number of stages.
func (c *Compose) Len() int { return len(c.transforms) }

// Names returns the stage type tags in execution order.
func (c *Compose) Names() []string { return slices.Clone(c.names) }

// Apply runs every stage in order.
func (c *Compose) Apply(s *Sample) (*Sample, error) {
	for i, t := range c.transforms {
		out, err := t.Apply(s)
		if err != nil {
			return nil, &StageError{Stage: c.names[i], Index: i, Err: err}
		}
		if out == nil {
			return nil, &StageError{Stage: c.names[i], Index: i, Err: fmt.Errorf("stage dropped the sample")}
		}
		s = out
	}
	return s, nil
}

// Run applies the pipeline and requires collected output.
func (c *Compose) Run(s *Sample) (*Sample, error) {
	out, err := c.Apply(s)
	if err != nil {
		return nil, err
	}
	if !out.Collected() {
		return nil, ErrNotCollected
	}
	return out, nil
}

func init() {
	Register(modelcfg.LoadImageFromFile, newLoadImageFromFile)
	Register(modelcfg.LoadImageFromNdarray, newLoadImageFromNdarray)
	Register(modelcfg.Resize, newResize)
	Register(modelcfg.ResizeOCR, newResizeOCR)
	Register(modelcfg.RandomFlip, newRandomFlip)
	Register(modelcfg.Normalize, newNormalize)
	Register(modelcfg.NormalizeOCR, newNormalizeOCR)
	Register(modelcfg.ToTensorOCR, newToTensorOCR)
	Register(modelcfg.Pad, newPad)
	Register(modelcfg.ImageToTensor, newImageToTensor)
	Register(modelcfg.DefaultFormatBundle, newDefaultFormatBundle)
	Register(modelcfg.Collect, newCollect)
	Register(modelcfg.MultiScaleFlipAug, newMultiScaleFlipAug)
	Register(modelcfg.MultiRotateAugOCR, newMultiRotateAugOCR)
}
