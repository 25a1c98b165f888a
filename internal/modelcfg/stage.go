//nolint:lll
package modelcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// Stage type tags.
const (
	LoadImageFromFile    = "LoadImageFromFile"
	LoadImageFromNdarray = "LoadImageFromNdarray"
	MultiScaleFlipAug    = "MultiScaleFlipAug"
	MultiRotateAugOCR    = "MultiRotateAugOCR"
	Resize               = "Resize"
	ResizeOCR            = "ResizeOCR"
	RandomFlip           = "RandomFlip"
	Normalize            = "Normalize"
	NormalizeOCR         = "NormalizeOCR"
	ToTensorOCR          = "ToTensorOCR"
	Pad                  = "Pad"
	ImageToTensor        = "ImageToTensor"
	DefaultFormatBundle  = "DefaultFormatBundle"
	Collect              = "Collect"
)

// Stage is one entry of a processing pipeline: a type tag plus the optional
// parameters of every stage kind. Fields a stage kind does not use are
// ignored by it.
type Stage struct {
	Type string `mapstructure:"type" yaml:"type" json:"type"`

	// Loading.
	ColorType string `mapstructure:"color_type" yaml:"color_type,omitempty" json:"color_type,omitempty"`

	// Resize and MultiScaleFlipAug. Scales are (width, height).
	ImgScale      ScaleList `mapstructure:"img_scale" yaml:"img_scale,omitempty" json:"img_scale,omitempty"`
	KeepRatio     *bool     `mapstructure:"keep_ratio" yaml:"keep_ratio,omitempty" json:"keep_ratio,omitempty"`
	Flip          *bool     `mapstructure:"flip" yaml:"flip,omitempty" json:"flip,omitempty"`
	FlipDirection []string  `mapstructure:"flip_direction" yaml:"flip_direction,omitempty" json:"flip_direction,omitempty"`

	// ResizeOCR.
	Height               int      `mapstructure:"height" yaml:"height,omitempty" json:"height,omitempty"`
	MinWidth             *int     `mapstructure:"min_width" yaml:"min_width,omitempty" json:"min_width,omitempty"`
	MaxWidth             *int     `mapstructure:"max_width" yaml:"max_width,omitempty" json:"max_width,omitempty"`
	KeepAspectRatio      *bool    `mapstructure:"keep_aspect_ratio" yaml:"keep_aspect_ratio,omitempty" json:"keep_aspect_ratio,omitempty"`
	WidthDownsampleRatio *float64 `mapstructure:"width_downsample_ratio" yaml:"width_downsample_ratio,omitempty" json:"width_downsample_ratio,omitempty"`
	ImgPadValue          float64  `mapstructure:"img_pad_value" yaml:"img_pad_value,omitempty" json:"img_pad_value,omitempty"`

	// MultiRotateAugOCR.
	RotateDegrees []int `mapstructure:"rotate_degrees" yaml:"rotate_degrees,omitempty" json:"rotate_degrees,omitempty"`
	ForceRotate   bool  `mapstructure:"force_rotate" yaml:"force_rotate,omitempty" json:"force_rotate,omitempty"`

	// Normalize and NormalizeOCR.
	Mean  []float64 `mapstructure:"mean" yaml:"mean,omitempty" json:"mean,omitempty"`
	Std   []float64 `mapstructure:"std" yaml:"std,omitempty" json:"std,omitempty"`
	ToRGB *bool     `mapstructure:"to_rgb" yaml:"to_rgb,omitempty" json:"to_rgb,omitempty"`

	// Pad. Size is (height, width).
	Size        []int   `mapstructure:"size" yaml:"size,omitempty" json:"size,omitempty"`
	SizeDivisor int     `mapstructure:"size_divisor" yaml:"size_divisor,omitempty" json:"size_divisor,omitempty"`
	PadVal      float64 `mapstructure:"pad_val" yaml:"pad_val,omitempty" json:"pad_val,omitempty"`

	// ImageToTensor, Collect.
	Keys     []string `mapstructure:"keys" yaml:"keys,omitempty" json:"keys,omitempty"`
	MetaKeys []string `mapstructure:"meta_keys" yaml:"meta_keys,omitempty" json:"meta_keys,omitempty"`

	// Fan-out stages.
	Transforms []Stage `mapstructure:"transforms" yaml:"transforms,omitempty" json:"transforms,omitempty"`
}

// Clone returns a deep copy.
func (s Stage) Clone() Stage {
	out := s
	out.ImgScale = slices.Clone(s.ImgScale)
	out.KeepRatio = cloneBool(s.KeepRatio)
	out.Flip = cloneBool(s.Flip)
	out.FlipDirection = slices.Clone(s.FlipDirection)
	out.MinWidth = clonePtr(s.MinWidth)
	out.MaxWidth = clonePtr(s.MaxWidth)
	out.KeepAspectRatio = cloneBool(s.KeepAspectRatio)
	out.WidthDownsampleRatio = clonePtr(s.WidthDownsampleRatio)
	out.RotateDegrees = slices.Clone(s.RotateDegrees)
	out.Mean = slices.Clone(s.Mean)
	out.Std = slices.Clone(s.Std)
	out.ToRGB = cloneBool(s.ToRGB)
	out.Size = slices.Clone(s.Size)
	out.Keys = slices.Clone(s.Keys)
	out.MetaKeys = slices.Clone(s.MetaKeys)
	out.Transforms = CloneStages(s.Transforms)
	return out
}

// CloneStages deep-copies a stage list.
func CloneStages(stages []Stage) []Stage {
	if stages == nil {
		return nil
	}
	out := make([]Stage, len(stages))
	for i, s := range stages {
		out[i] = s.Clone()
	}
	return out
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// BoolOr dereferences p, falling back to def when unset.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func cloneBool(p *bool) *bool { return clonePtr(p) }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Scale is a (width, height) target size.
type Scale struct {
	W int
	H int
}

// ScaleList holds one or more scales. In configuration files a single scale
// is written as [w, h] and several as [[w, h], ...].
type ScaleList []Scale

// MarshalYAML writes a single scale flat and several as nested pairs.
func (l ScaleList) MarshalYAML() (any, error) {
	if len(l) == 1 {
		return []int{l[0].W, l[0].H}, nil
	}
	out := make([][]int, len(l))
	for i, s := range l {
		out[i] = []int{s.W, s.H}
	}
	return out, nil
}

var scaleListType = reflect.TypeOf(ScaleList{})

// scaleListHook decodes [w, h] or [[w, h], ...] into a ScaleList.
func scaleListHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != scaleListType {
		return data, nil
	}
	items, ok := data.([]any)
	if !ok {
		return data, nil
	}
	if len(items) == 0 {
		return ScaleList{}, nil
	}
	if _, nested := items[0].([]any); !nested {
		s, err := parseScale(items)
		if err != nil {
			return nil, err
		}
		return ScaleList{s}, nil
	}
	out := make(ScaleList, 0, len(items))
	for i, item := range items {
		pair, ok := item.([]any)
		if !ok {
			return nil, fmt.Errorf("img_scale[%d]: expected [w, h], got %T", i, item)
		}
		s, err := parseScale(pair)
		if err != nil {
			return nil, fmt.Errorf("img_scale[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func parseScale(pair []any) (Scale, error) {
	if len(pair) != 2 {
		return Scale{}, fmt.Errorf("scale must have 2 values, got %d", len(pair))
	}
	w, err := toInt(pair[0])
	if err != nil {
		return Scale{}, err
	}
	h, err := toInt(pair[1])
	if err != nil {
		return Scale{}, err
	}
	if w <= 0 || h <= 0 {
		return Scale{}, fmt.Errorf("scale must be positive, got [%d, %d]", w, h)
	}
	return Scale{W: w, H: h}, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("scale value %v is not an integer", n)
		}
		return int(n), nil
	case nil:
		return 0, errors.New("scale value is null")
	default:
		return 0, fmt.Errorf("unsupported scale value type %T", v)
	}
}

// MarshalJSON mirrors MarshalYAML.
func (l ScaleList) MarshalJSON() ([]byte, error) {
	v, _ := l.MarshalYAML()
	return json.Marshal(v)
}
