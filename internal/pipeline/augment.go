package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/utils"
)

// fanOut runs the nested pipeline once per prepared copy of s and merges
// the collected variants into a multi-variant sample.
func fanOut(s *Sample, nested *Compose, copies []*Sample) (*Sample, error) {
	out := s.clone()
	out.Img.Multi = true
	out.ImgMetas.Multi = true
	for i, c := range copies {
		res, err := nested.Apply(c)
		if err != nil {
			return nil, fmt.Errorf("variant %d: %w", i, err)
		}
		if !res.Collected() {
			return nil, fmt.Errorf("variant %d: %w", i, ErrNotCollected)
		}
		out.Img.Variants = append(out.Img.Variants, res.Img.Variants...)
		out.ImgMetas.Variants = append(out.ImgMetas.Variants, res.ImgMetas.Variants...)
	}
	out.Image, out.Tensor = nil, nil
	out.collected = true
	return out, nil
}

type flipArg struct {
	flip      bool
	direction string
}

type multiScaleFlipAug struct {
	scales modelcfg.ScaleList
	flips  []flipArg
	nested *Compose
}

func newMultiScaleFlipAug(cfg modelcfg.Stage) (Transform, error) {
	if len(cfg.ImgScale) == 0 {
		return nil, errors.New("img_scale is required")
	}
	nested, err := Build(cfg.Transforms)
	if err != nil {
		return nil, err
	}
	flips := []flipArg{{}}
	if modelcfg.BoolOr(cfg.Flip, false) {
		dirs := cfg.FlipDirection
		if len(dirs) == 0 {
			dirs = []string{"horizontal"}
		}
		for _, d := range dirs {
			switch d {
			case "horizontal", "vertical", "diagonal":
			default:
				return nil, fmt.Errorf("unknown flip direction %q", d)
			}
			flips = append(flips, flipArg{flip: true, direction: d})
		}
	}
	return &multiScaleFlipAug{scales: slices.Clone(cfg.ImgScale), flips: flips, nested: nested}, nil
}

func (m *multiScaleFlipAug) Apply(s *Sample) (*Sample, error) {
	copies := make([]*Sample, 0, len(m.scales)*len(m.flips))
	for _, sc := range m.scales {
		for _, f := range m.flips {
			c := s.clone()
			c.scale = &sc
			c.flipSet = true
			c.Meta.Flip = f.flip
			c.Meta.FlipDirection = f.direction
			copies = append(copies, c)
		}
	}
	return fanOut(s, m.nested, copies)
}

type multiRotateAugOCR struct {
	degrees []int
	force   bool
	nested  *Compose
}

func newMultiRotateAugOCR(cfg modelcfg.Stage) (Transform, error) {
	nested, err := Build(cfg.Transforms)
	if err != nil {
		return nil, err
	}
	degrees := []int{0}
	for _, d := range cfg.RotateDegrees {
		switch d {
		case 0:
		case 90, 180, 270:
			if !slices.Contains(degrees, d) {
				degrees = append(degrees, d)
			}
		default:
			return nil, fmt.Errorf("rotate degree %d is not one of 0, 90, 180, 270", d)
		}
	}
	return &multiRotateAugOCR{degrees: degrees, force: cfg.ForceRotate, nested: nested}, nil
}

// Apply rotates only tall images unless force_rotate is set.
func (m *multiRotateAugOCR) Apply(s *Sample) (*Sample, error) {
	if s.Image == nil {
		return nil, errNoImage
	}
	b := s.Image.Bounds()
	degrees := m.degrees
	if !m.force && float64(b.Dy()) <= 1.5*float64(b.Dx()) {
		degrees = []int{0}
	}
	copies := make([]*Sample, 0, len(degrees))
	for _, d := range degrees {
		c := s.clone()
		img, err := utils.Rotate(s.Image, d)
		if err != nil {
			return nil, err
		}
		c.Image = img
		rb := img.Bounds()
		c.Meta.ImgShape = Shape{rb.Dy(), rb.Dx(), s.Channels}
		c.Meta.RotateDegree = d
		copies = append(copies, c)
	}
	return fanOut(s, m.nested, copies)
}
