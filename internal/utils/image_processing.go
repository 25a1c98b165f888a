package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ResizeExact stretches img to w×h with bilinear interpolation.
func ResizeExact(img image.Image, w, h int) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if w <= 0 || h <= 0 {
		return nil, &ImageProcessingError{Operation: "resize", Err: fmt.Errorf("invalid target size %dx%d", w, h)}
	}
	return imaging.Resize(img, w, h, imaging.Linear), nil
}

// PadBottomRight places img at the top-left of a w×h canvas filled with fill.
// Images already at least that large are returned unchanged.
func PadBottomRight(img image.Image, w, h int, fill uint8) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "pad", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	if b.Dx() >= w && b.Dy() >= h {
		return img, nil
	}
	canvas := imaging.New(max(w, b.Dx()), max(h, b.Dy()), color.NRGBA{R: fill, G: fill, B: fill, A: 255})
	return imaging.Paste(canvas, img, image.Pt(0, 0)), nil
}

// Flip mirrors img. direction is "horizontal", "vertical" or "diagonal".
func Flip(img image.Image, direction string) (*image.NRGBA, error) {
	switch direction {
	case "", "horizontal":
		return imaging.FlipH(img), nil
	case "vertical":
		return imaging.FlipV(img), nil
	case "diagonal":
		return imaging.Rotate180(img), nil
	default:
		return nil, &ImageProcessingError{Operation: "flip", Err: fmt.Errorf("unknown direction %q", direction)}
	}
}

// Rotate turns img counter-clockwise by a multiple of 90 degrees.
func Rotate(img image.Image, degrees int) (image.Image, error) {
	switch ((degrees % 360) + 360) % 360 {
	case 0:
		return img, nil
	case 90:
		return imaging.Rotate90(img), nil
	case 180:
		return imaging.Rotate180(img), nil
	case 270:
		return imaging.Rotate270(img), nil
	default:
		return nil, &ImageProcessingError{Operation: "rotate", Err: fmt.Errorf("angle %d is not a multiple of 90", degrees)}
	}
}

// ToCHW converts img into a planar float32 buffer of the given channel
// count (1 = luma taken from the red plane of a grayscale image, 3 = RGB).
// Values stay in 0..255. bgr swaps the first and last planes.
func ToCHW(img image.Image, channels int, bgr bool) ([]float32, int, int, error) {
	if img == nil {
		return nil, 0, 0, &ImageProcessingError{Operation: "to_tensor", Err: errors.New("input image is nil")}
	}
	if channels != 1 && channels != 3 {
		return nil, 0, 0, &ImageProcessingError{Operation: "to_tensor", Err: fmt.Errorf("unsupported channel count %d", channels)}
	}
	nrgba := imaging.Clone(img)
	w, h := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, 0, &ImageProcessingError{Operation: "to_tensor", Err: errors.New("invalid image dimensions")}
	}

	plane := w * h
	data := make([]float32, channels*plane)
	for y := range h {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*w]
		for x := range w {
			px := row[4*x : 4*x+3]
			idx := y*w + x
			if channels == 1 {
				data[idx] = float32(px[0])
				continue
			}
			r, g, b := float32(px[0]), float32(px[1]), float32(px[2])
			if bgr {
				r, b = b, r
			}
			data[idx] = r
			data[plane+idx] = g
			data[2*plane+idx] = b
		}
	}
	return data, w, h, nil
}

// FromCHW turns a planar 0..255 buffer back into an image. It is the inverse
// of ToCHW for 1 or 3 channels.
func FromCHW(data []float32, channels, w, h int) (*image.NRGBA, error) {
	if len(data) != channels*w*h {
		return nil, &ImageProcessingError{Operation: "from_tensor", Err: fmt.Errorf("data length %d != %d", len(data), channels*w*h)}
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	plane := w * h
	for y := range h {
		for x := range w {
			idx := y*w + x
			var r, g, b uint8
			if channels == 1 {
				r = clampByte(data[idx])
				g, b = r, r
			} else {
				r, g, b = clampByte(data[idx]), clampByte(data[plane+idx]), clampByte(data[2*plane+idx])
			}
			out.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return out, nil
}

// Grayscale converts img to gray while keeping NRGBA storage.
func Grayscale(img image.Image) *image.NRGBA {
	return imaging.Grayscale(img)
}

func clampByte(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}
