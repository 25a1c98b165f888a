package pipeline

import (
	"encoding/json"
	"image"
	"slices"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/tensor"
)

// ImgInfo describes where a sample's image comes from.
type ImgInfo struct {
	Filename string
	Width    int
	Height   int
	Text     string
}

// Shape is an image shape as (height, width, channels).
type Shape [3]int

// NormConfig records the normalization applied to a sample.
type NormConfig struct {
	Mean  []float64 `json:"mean"`
	Std   []float64 `json:"std"`
	ToRGB bool      `json:"to_rgb"`
}

// DefaultMetaKeys are collected when a Collect stage names no meta_keys.
var DefaultMetaKeys = []string{
	"filename", "ori_filename", "ori_shape", "img_shape", "pad_shape",
	"scale_factor", "flip", "flip_direction", "img_norm_cfg",
}

var knownMetaKeys = []string{
	"filename", "ori_filename", "ori_shape", "img_shape", "pad_shape",
	"scale_factor", "flip", "flip_direction", "img_norm_cfg", "keep_ratio",
	"resize_shape", "valid_ratio", "rotate_degree", "text",
}

// ImageMeta is the per-image metadata carried next to the image tensor.
type ImageMeta struct {
	Filename      string
	OriFilename   string
	OriShape      Shape
	ImgShape      Shape
	PadShape      Shape
	ScaleFactor   [4]float64
	Flip          bool
	FlipDirection string
	ImgNormCfg    *NormConfig
	KeepRatio     bool
	ResizeShape   Shape
	ValidRatio    float64
	RotateDegree  int
	Text          string

	// Keys lists the collected fields; empty means all.
	Keys []string
}

// Select returns a copy that reports only the given keys.
func (m ImageMeta) Select(keys []string) ImageMeta {
	out := m.clone()
	out.Keys = slices.Clone(keys)
	return out
}

// Fields returns the collected metadata keyed by name.
func (m ImageMeta) Fields() map[string]any {
	all := map[string]any{
		"filename":       m.Filename,
		"ori_filename":   m.OriFilename,
		"ori_shape":      m.OriShape,
		"img_shape":      m.ImgShape,
		"pad_shape":      m.PadShape,
		"scale_factor":   m.ScaleFactor,
		"flip":           m.Flip,
		"flip_direction": m.FlipDirection,
		"img_norm_cfg":   m.ImgNormCfg,
		"keep_ratio":     m.KeepRatio,
		"resize_shape":   m.ResizeShape,
		"valid_ratio":    m.ValidRatio,
		"rotate_degree":  m.RotateDegree,
		"text":           m.Text,
	}
	if len(m.Keys) == 0 {
		return all
	}
	out := make(map[string]any, len(m.Keys))
	for _, k := range m.Keys {
		if v, ok := all[k]; ok {
			out[k] = v
		}
	}
	return out
}

// MarshalJSON emits the collected fields only.
func (m ImageMeta) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Fields())
}

func (m ImageMeta) clone() ImageMeta {
	out := m
	if m.ImgNormCfg != nil {
		n := *m.ImgNormCfg
		n.Mean = slices.Clone(m.ImgNormCfg.Mean)
		n.Std = slices.Clone(m.ImgNormCfg.Std)
		out.ImgNormCfg = &n
	}
	out.Keys = slices.Clone(m.Keys)
	return out
}

// DataContainer wraps a collected value with the hints the collator needs.
// Stack marks tensors to be stacked into a batch, CPUOnly marks values kept
// as plain per-chunk lists. A container with neither flag holds a plain
// tensor that is stacked across the whole batch.
type DataContainer[T any] struct {
	Data     T
	Stack    bool
	CPUOnly  bool
	PadDims  int
	PadValue float32
}

// Field is a collected output field. Fan-out stages produce one variant per
// augmentation and set Multi, even when only one variant results.
type Field[T any] struct {
	Variants []DataContainer[T]
	Multi    bool
}

// Empty reports whether nothing has been collected.
func (f Field[T]) Empty() bool { return len(f.Variants) == 0 }

// Sample is the record a pipeline transforms. Loading stages fill Image,
// resizing stages rewrite it, formatting stages produce Tensor and Collect
// moves the results into Img and ImgMetas.
type Sample struct {
	ImgInfo   ImgInfo
	ImgPrefix string

	Image    image.Image
	Channels int
	Tensor   *tensor.Tensor
	Meta     ImageMeta

	Img      Field[*tensor.Tensor]
	ImgMetas Field[ImageMeta]

	scale     *modelcfg.Scale
	flipSet   bool
	formatted *DataContainer[*tensor.Tensor]
	collected bool
}

// NewFileSample starts a sample that loads its image from disk.
func NewFileSample(filename, prefix string) *Sample {
	return &Sample{ImgInfo: ImgInfo{Filename: filename}, ImgPrefix: prefix}
}

// NewArraySample starts a sample around an in-memory image.
func NewArraySample(img image.Image) *Sample {
	return &Sample{Image: img}
}

// Collected reports whether a Collect stage has run.
func (s *Sample) Collected() bool { return s.collected }

// MultiVariant reports whether the image field came out of a fan-out stage.
func (s *Sample) MultiVariant() bool { return s.Img.Multi }

func (s *Sample) clone() *Sample {
	out := *s
	out.Meta = s.Meta.clone()
	out.Tensor = s.Tensor.Clone()
	if s.scale != nil {
		sc := *s.scale
		out.scale = &sc
	}
	out.formatted = nil
	out.collected = false
	out.Img = Field[*tensor.Tensor]{}
	out.ImgMetas = Field[ImageMeta]{}
	return &out
}
