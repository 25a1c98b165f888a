package pipeline

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"

	"github.com/MeKo-Tech/ocrprep/internal/modelcfg"
	"github.com/MeKo-Tech/ocrprep/internal/utils"
)

const colorGrayscale = "grayscale"

func validColorType(ct string) error {
	switch ct {
	case "", "color", "color_ignore_orientation", "unchanged", colorGrayscale:
		return nil
	default:
		return fmt.Errorf("unsupported color_type %q", ct)
	}
}

type loadImageFromFile struct {
	colorType string
}

func newLoadImageFromFile(cfg modelcfg.Stage) (Transform, error) {
	if err := validColorType(cfg.ColorType); err != nil {
		return nil, err
	}
	return &loadImageFromFile{colorType: cfg.ColorType}, nil
}

func (l *loadImageFromFile) Apply(s *Sample) (*Sample, error) {
	if s.ImgInfo.Filename == "" {
		return nil, errors.New("sample has no image filename")
	}
	path := s.ImgInfo.Filename
	if s.ImgPrefix != "" && !filepath.IsAbs(path) {
		path = filepath.Join(s.ImgPrefix, path)
	}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, err
	}
	s.Meta.Filename = path
	s.Meta.OriFilename = s.ImgInfo.Filename
	setLoaded(s, img, l.colorType)
	return s, nil
}

type loadImageFromNdarray struct {
	colorType string
}

func newLoadImageFromNdarray(cfg modelcfg.Stage) (Transform, error) {
	if err := validColorType(cfg.ColorType); err != nil {
		return nil, err
	}
	return &loadImageFromNdarray{colorType: cfg.ColorType}, nil
}

func (l *loadImageFromNdarray) Apply(s *Sample) (*Sample, error) {
	if s.Image == nil {
		return nil, errors.New("sample carries no in-memory image")
	}
	ct := l.colorType
	switch s.Image.(type) {
	case *image.Gray, *image.Gray16:
		ct = colorGrayscale
	}
	s.Meta.Filename = ""
	s.Meta.OriFilename = ""
	setLoaded(s, s.Image, ct)
	return s, nil
}

func setLoaded(s *Sample, img image.Image, colorType string) {
	s.Channels = 3
	if colorType == colorGrayscale {
		img = utils.Grayscale(img)
		s.Channels = 1
	}
	s.Image = img
	s.Tensor = nil
	b := img.Bounds()
	s.ImgInfo.Width, s.ImgInfo.Height = b.Dx(), b.Dy()
	shape := Shape{b.Dy(), b.Dx(), s.Channels}
	s.Meta.OriShape = shape
	s.Meta.ImgShape = shape
	s.Meta.PadShape = shape
	s.Meta.ScaleFactor = [4]float64{1, 1, 1, 1}
	s.Meta.ValidRatio = 1
	s.Meta.Text = s.ImgInfo.Text
}
