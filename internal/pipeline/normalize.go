package pipeline

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/tensor"
	"github.com/MeKo-Tech/ocrprep/internal/utils"
)

// toTensor converts the sample image into a CHW tensor with values scaled
// by 1/div. Images are decoded as RGB; rgb=false emits BGR planes.
func toTensor(s *Sample, rgb bool, div float32) (*tensor.Tensor, error) {
	if s.Image == nil {
		return nil, errors.New("sample has no image to convert")
	}
	ch := s.Channels
	if ch == 0 {
		ch = 3
	}
	data, w, h, err := utils.ToCHW(s.Image, ch, !rgb)
	if err != nil {
		return nil, err
	}
	if div != 1 {
		for i := range data {
			data[i] /= div
		}
	}
	return tensor.NewCHW(data, ch, h, w)
}

// ensureTensor returns the working tensor, converting the image first when
// no earlier stage did.
func ensureTensor(s *Sample) (*tensor.Tensor, error) {
	if s.Tensor != nil {
		return s.Tensor, nil
	}
	t, err := toTensor(s, false, 1)
	if err != nil {
		return nil, err
	}
	s.Tensor = t
	s.Image = nil
	return t, nil
}

func normalizeInPlace(t *tensor.Tensor, mean, std []float64) error {
	c := int(t.Dim(-3))
	plane := int(t.Dim(-2) * t.Dim(-1))
	m, err := perChannel(mean, c, "mean")
	if err != nil {
		return err
	}
	sd, err := perChannel(std, c, "std")
	if err != nil {
		return err
	}
	for ch := range c {
		if sd[ch] == 0 {
			return fmt.Errorf("std[%d] is zero", ch)
		}
		mu, inv := float32(m[ch]), float32(1/sd[ch])
		p := t.Data[ch*plane : (ch+1)*plane]
		for i := range p {
			p[i] = (p[i] - mu) * inv
		}
	}
	return nil
}

func perChannel(v []float64, c int, name string) ([]float64, error) {
	switch len(v) {
	case c:
		return v, nil
	case 1:
		out := make([]float64, c)
		for i := range out {
			out[i] = v[0]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s has %d values for a %d-channel image", name, len(v), c)
	}
}

type normalize struct {
	mean, std []float64
	toRGB     bool
}

func newNormalize(cfg modelcfg.Stage) (Transform, error) {
	if len(cfg.Mean) == 0 || len(cfg.Std) == 0 {
		return nil, errors.New("mean and std are required")
	}
	return &normalize{mean: cfg.Mean, std: cfg.Std, toRGB: modelcfg.BoolOr(cfg.ToRGB, true)}, nil
}

func (n *normalize) Apply(s *Sample) (*Sample, error) {
	t, err := toTensor(s, n.toRGB, 1)
	if err != nil {
		return nil, err
	}
	if err := normalizeInPlace(t, n.mean, n.std); err != nil {
		return nil, err
	}
	s.Tensor, s.Image = t, nil
	s.Meta.ImgNormCfg = &NormConfig{Mean: slices.Clone(n.mean), Std: slices.Clone(n.std), ToRGB: n.toRGB}
	return s, nil
}

type toTensorOCR struct{}

func newToTensorOCR(modelcfg.Stage) (Transform, error) { return toTensorOCR{}, nil }

func (toTensorOCR) Apply(s *Sample) (*Sample, error) {
	t, err := toTensor(s, false, 255)
	if err != nil {
		return nil, err
	}
	s.Tensor, s.Image = t, nil
	return s, nil
}

type normalizeOCR struct {
	mean, std []float64
}

func newNormalizeOCR(cfg modelcfg.Stage) (Transform, error) {
	if len(cfg.Mean) == 0 || len(cfg.Std) == 0 {
		return nil, errors.New("mean and std are required")
	}
	return &normalizeOCR{mean: cfg.Mean, std: cfg.Std}, nil
}

func (n *normalizeOCR) Apply(s *Sample) (*Sample, error) {
	if s.Tensor == nil {
		return nil, errors.New("NormalizeOCR needs a tensor; place it after ToTensorOCR")
	}
	if err := normalizeInPlace(s.Tensor, n.mean, n.std); err != nil {
		return nil, err
	}
	s.Meta.ImgNormCfg = &NormConfig{Mean: slices.Clone(n.mean), Std: slices.Clone(n.std)}
	return s, nil
}

type pad struct {
	size    []int
	divisor int
	value   float64
}

func newPad(cfg modelcfg.Stage) (Transform, error) {
	hasSize := len(cfg.Size) > 0
	hasDiv := cfg.SizeDivisor > 0
	if hasSize == hasDiv {
		return nil, errors.New("exactly one of size and size_divisor must be set")
	}
	if hasSize && (len(cfg.Size) != 2 || cfg.Size[0] <= 0 || cfg.Size[1] <= 0) {
		return nil, fmt.Errorf("size must be a positive (height, width) pair, got %v", cfg.Size)
	}
	return &pad{size: cfg.Size, divisor: cfg.SizeDivisor, value: cfg.PadVal}, nil
}

func (p *pad) target(h, w int) (int, int) {
	if len(p.size) == 2 {
		return p.size[0], p.size[1]
	}
	d := p.divisor
	return (h + d - 1) / d * d, (w + d - 1) / d * d
}

func (p *pad) Apply(s *Sample) (*Sample, error) {
	if s.Tensor != nil {
		c, h, w := int(s.Tensor.Dim(-3)), int(s.Tensor.Dim(-2)), int(s.Tensor.Dim(-1))
		ph, pw := p.target(h, w)
		if ph < h || pw < w {
			return nil, fmt.Errorf("pad size %dx%d is smaller than image %dx%d", ph, pw, h, w)
		}
		s.Tensor = padCHW(s.Tensor, ph, pw, float32(p.value))
		s.Meta.PadShape = Shape{ph, pw, c}
		return s, nil
	}
	if s.Image == nil {
		return nil, errNoImage
	}
	b := s.Image.Bounds()
	ph, pw := p.target(b.Dy(), b.Dx())
	if ph < b.Dy() || pw < b.Dx() {
		return nil, fmt.Errorf("pad size %dx%d is smaller than image %dx%d", ph, pw, b.Dy(), b.Dx())
	}
	img, err := utils.PadBottomRight(s.Image, pw, ph, uint8(math.Max(0, math.Min(255, p.value))))
	if err != nil {
		return nil, err
	}
	s.Image = img
	s.Meta.PadShape = Shape{ph, pw, s.Channels}
	return s, nil
}

// padCHW extends a CHW tensor at the bottom and right.
func padCHW(t *tensor.Tensor, ph, pw int, value float32) *tensor.Tensor {
	c, h, w := int(t.Dim(-3)), int(t.Dim(-2)), int(t.Dim(-1))
	if ph == h && pw == w {
		return t
	}
	out := tensor.New(int64(c), int64(ph), int64(pw))
	if value != 0 {
		for i := range out.Data {
			out.Data[i] = value
		}
	}
	for ch := range c {
		for y := range h {
			src := t.Data[(ch*h+y)*w : (ch*h+y)*w+w]
			copy(out.Data[(ch*ph+y)*pw:], src)
		}
	}
	return out
}
