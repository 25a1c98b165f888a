package pipeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/utils"
)

var errNoImage = errors.New("stage needs a decoded image; place it before tensor conversion")

type resize struct {
	scales    modelcfg.ScaleList
	keepRatio bool
}

func newResize(cfg modelcfg.Stage) (Transform, error) {
	return &resize{scales: cfg.ImgScale, keepRatio: modelcfg.BoolOr(cfg.KeepRatio, true)}, nil
}

// RescaleSize returns the size an image of w×h takes when fitted into
// scale while keeping its aspect ratio: the long edge is bounded by the
// larger scale value and the short edge by the smaller one.
func RescaleSize(w, h int, scale modelcfg.Scale) (int, int) {
	long := float64(max(scale.W, scale.H))
	short := float64(min(scale.W, scale.H))
	f := math.Min(long/float64(max(w, h)), short/float64(min(w, h)))
	return int(float64(w)*f + 0.5), int(float64(h)*f + 0.5)
}

func (r *resize) Apply(s *Sample) (*Sample, error) {
	if s.Image == nil {
		return nil, errNoImage
	}
	var scale modelcfg.Scale
	switch {
	case s.scale != nil:
		scale = *s.scale
	case len(r.scales) > 0:
		scale = r.scales[0]
	default:
		return nil, errors.New("no img_scale configured and none selected by an enclosing augmentation")
	}

	b := s.Image.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := scale.W, scale.H
	if r.keepRatio {
		nw, nh = RescaleSize(w, h, scale)
	}
	img, err := utils.ResizeExact(s.Image, nw, nh)
	if err != nil {
		return nil, err
	}
	s.Image = img
	ws, hs := float64(nw)/float64(w), float64(nh)/float64(h)
	s.Meta.ScaleFactor = [4]float64{ws, hs, ws, hs}
	s.Meta.ImgShape = Shape{nh, nw, s.Channels}
	s.Meta.PadShape = s.Meta.ImgShape
	s.Meta.KeepRatio = r.keepRatio
	return s, nil
}

type resizeOCR struct {
	height          int
	minWidth        *int
	maxWidth        *int
	keepAspectRatio bool
	widthDivisor    int
	padValue        uint8
}

func newResizeOCR(cfg modelcfg.Stage) (Transform, error) {
	if cfg.Height <= 0 {
		return nil, fmt.Errorf("height must be positive, got %d", cfg.Height)
	}
	ratio := 1.0 / 16
	if cfg.WidthDownsampleRatio != nil {
		ratio = *cfg.WidthDownsampleRatio
	}
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("width_downsample_ratio must be in (0, 1], got %v", ratio)
	}
	keep := modelcfg.BoolOr(cfg.KeepAspectRatio, true)
	if !keep && cfg.MaxWidth == nil {
		return nil, errors.New("max_width is required when keep_aspect_ratio is false")
	}
	return &resizeOCR{
		height:          cfg.Height,
		minWidth:        cfg.MinWidth,
		maxWidth:        cfg.MaxWidth,
		keepAspectRatio: keep,
		widthDivisor:    int(1 / ratio),
		padValue:        uint8(math.Round(math.Max(0, math.Min(255, cfg.ImgPadValue)))),
	}, nil
}

func (r *resizeOCR) Apply(s *Sample) (*Sample, error) {
	if s.Image == nil {
		return nil, errNoImage
	}
	b := s.Image.Bounds()
	oriW, oriH := b.Dx(), b.Dy()
	validRatio := 1.0

	var resizeW, padW int
	if !r.keepAspectRatio {
		resizeW = *r.maxWidth
	} else {
		newW := int(math.Ceil(float64(r.height) / float64(oriH) * float64(oriW)))
		if newW%r.widthDivisor != 0 {
			newW = int(math.RoundToEven(float64(newW)/float64(r.widthDivisor))) * r.widthDivisor
		}
		if r.minWidth != nil {
			newW = max(*r.minWidth, newW)
		}
		newW = max(newW, 1)
		resizeW = newW
		if r.maxWidth != nil {
			validRatio = math.Min(1, float64(newW)/float64(*r.maxWidth))
			resizeW = min(*r.maxWidth, newW)
			if newW < *r.maxWidth {
				padW = *r.maxWidth
			}
		}
	}

	img, err := utils.ResizeExact(s.Image, resizeW, r.height)
	if err != nil {
		return nil, err
	}
	resized := Shape{r.height, resizeW, s.Channels}
	padded := resized
	s.Image = img
	if padW > 0 {
		s.Image, err = utils.PadBottomRight(img, padW, r.height, r.padValue)
		if err != nil {
			return nil, err
		}
		padded = Shape{r.height, padW, s.Channels}
	}
	s.Meta.ImgShape = resized
	s.Meta.ResizeShape = resized
	s.Meta.PadShape = padded
	s.Meta.ValidRatio = validRatio
	return s, nil
}

type randomFlip struct{}

func newRandomFlip(modelcfg.Stage) (Transform, error) { return randomFlip{}, nil }

// Apply only performs a flip requested by an enclosing augmentation.
func (randomFlip) Apply(s *Sample) (*Sample, error) {
	if !s.flipSet {
		s.Meta.Flip = false
		s.Meta.FlipDirection = ""
		return s, nil
	}
	if !s.Meta.Flip {
		return s, nil
	}
	if s.Image == nil {
		return nil, errNoImage
	}
	img, err := utils.Flip(s.Image, s.Meta.FlipDirection)
	if err != nil {
		return nil, err
	}
	s.Image = img
	return s, nil
}
