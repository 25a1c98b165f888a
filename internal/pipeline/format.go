package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/tensor"
)

const keyImg = "img"

func checkKeys(keys []string) error {
	for _, k := range keys {
		if k != keyImg {
			return fmt.Errorf("unsupported key %q (only %q is produced)", k, keyImg)
		}
	}
	return nil
}

type imageToTensor struct{}

func newImageToTensor(cfg modelcfg.Stage) (Transform, error) {
	if err := checkKeys(cfg.Keys); err != nil {
		return nil, err
	}
	return imageToTensor{}, nil
}

// Apply wraps the tensor as a plain value. Plain values are stacked across
// the whole batch, so every image must share one shape.
func (imageToTensor) Apply(s *Sample) (*Sample, error) {
	t, err := ensureTensor(s)
	if err != nil {
		return nil, err
	}
	s.formatted = &DataContainer[*tensor.Tensor]{Data: t}
	return s, nil
}

type defaultFormatBundle struct{}

func newDefaultFormatBundle(modelcfg.Stage) (Transform, error) { return defaultFormatBundle{}, nil }

// Apply wraps the tensor for padded stacking and fills metadata defaults.
func (defaultFormatBundle) Apply(s *Sample) (*Sample, error) {
	t, err := ensureTensor(s)
	if err != nil {
		return nil, err
	}
	if s.Meta.PadShape == (Shape{}) {
		s.Meta.PadShape = s.Meta.ImgShape
	}
	if s.Meta.ScaleFactor == ([4]float64{}) {
		s.Meta.ScaleFactor = [4]float64{1, 1, 1, 1}
	}
	if s.Meta.ImgNormCfg == nil {
		c := int(t.Dim(-3))
		s.Meta.ImgNormCfg = &NormConfig{Mean: make([]float64, c), Std: slices.Repeat([]float64{1}, c)}
	}
	s.formatted = &DataContainer[*tensor.Tensor]{Data: t, Stack: true, PadDims: 2}
	return s, nil
}

type collect struct {
	metaKeys []string
}

func newCollect(cfg modelcfg.Stage) (Transform, error) {
	if len(cfg.Keys) == 0 {
		return nil, errors.New("keys must not be empty")
	}
	if err := checkKeys(cfg.Keys); err != nil {
		return nil, err
	}
	metaKeys := cfg.MetaKeys
	if metaKeys == nil {
		metaKeys = DefaultMetaKeys
	}
	for _, k := range metaKeys {
		if !slices.Contains(knownMetaKeys, k) {
			return nil, fmt.Errorf("unknown meta key %q", k)
		}
	}
	return &collect{metaKeys: slices.Clone(metaKeys)}, nil
}

func (c *collect) Apply(s *Sample) (*Sample, error) {
	img := s.formatted
	if img == nil {
		if s.Tensor == nil {
			return nil, errors.New("image has not been converted to a tensor")
		}
		img = &DataContainer[*tensor.Tensor]{Data: s.Tensor}
	}
	s.Img = Field[*tensor.Tensor]{Variants: []DataContainer[*tensor.Tensor]{*img}}
	s.ImgMetas = Field[ImageMeta]{Variants: []DataContainer[ImageMeta]{{Data: s.Meta.Select(c.metaKeys), CPUOnly: true}}}
	s.collected = true
	return s, nil
}
