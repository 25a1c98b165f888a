package utils

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestToCHWPlanesAndOrder(t *testing.T) {
	img := solid(2, 1, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetNRGBA(1, 0, color.NRGBA{R: 40, G: 50, B: 60, A: 255})

	data, w, h, err := ToCHW(img, 3, false)
	require.NoError(t, err)
	assert.Equal(t, 2, w)
	assert.Equal(t, 1, h)
	assert.Equal(t, []float32{10, 40, 20, 50, 30, 60}, data)

	data, _, _, err = ToCHW(img, 3, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{30, 60, 20, 50, 10, 40}, data)

	gray, _, _, err := ToCHW(Grayscale(img), 1, false)
	require.NoError(t, err)
	assert.Len(t, gray, 2)
}

func TestToCHWErrors(t *testing.T) {
	_, _, _, err := ToCHW(nil, 3, false)
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "to_tensor", ipe.Operation)

	_, _, _, err = ToCHW(solid(1, 1, color.NRGBA{A: 255}), 4, false)
	require.Error(t, err)
}

func TestFromCHWRoundTrip(t *testing.T) {
	img := solid(3, 2, color.NRGBA{R: 1, G: 128, B: 254, A: 255})
	data, w, h, err := ToCHW(img, 3, false)
	require.NoError(t, err)
	back, err := FromCHW(data, 3, w, h)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, back.Pix)

	_, err = FromCHW(data, 1, w, h)
	require.Error(t, err)
}

func TestResizeExact(t *testing.T) {
	out, err := ResizeExact(solid(10, 4, color.NRGBA{R: 255, A: 255}), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 7, 3), out.Bounds())

	_, err = ResizeExact(nil, 1, 1)
	require.Error(t, err)
	_, err = ResizeExact(solid(1, 1, color.NRGBA{}), 0, 1)
	require.Error(t, err)
}

func TestPadBottomRight(t *testing.T) {
	src := solid(2, 2, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	out, err := PadBottomRight(src, 4, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Bounds().Dx())
	assert.Equal(t, 3, out.Bounds().Dy())
	r, _, _, _ := out.At(0, 0).RGBA()
	assert.Equal(t, uint32(200), r>>8)
	r, _, _, _ = out.At(3, 2).RGBA()
	assert.Equal(t, uint32(0), r>>8)

	same, err := PadBottomRight(src, 2, 2, 0)
	require.NoError(t, err)
	assert.Same(t, src, same)
}

func TestFlipAndRotate(t *testing.T) {
	img := solid(3, 1, color.NRGBA{A: 255})
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})

	h, err := Flip(img, "horizontal")
	require.NoError(t, err)
	r, _, _, _ := h.At(2, 0).RGBA()
	assert.Equal(t, uint32(255), r>>8)

	_, err = Flip(img, "sideways")
	require.Error(t, err)

	rot, err := Rotate(img, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, rot.Bounds().Dx())
	assert.Equal(t, 3, rot.Bounds().Dy())

	same, err := Rotate(img, 360)
	require.NoError(t, err)
	assert.Same(t, img, same)

	_, err = Rotate(img, 45)
	require.Error(t, err)
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, solid(5, 4, color.NRGBA{G: 9, A: 255})))
	require.NoError(t, f.Close())

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 4, meta.Height)
	assert.Positive(t, meta.SizeBytes)

	_, _, err = LoadImage("")
	require.Error(t, err)
	_, _, err = LoadImage(filepath.Join(dir, "doc.pdf"))
	require.Error(t, err)
	_, _, err = LoadImage(filepath.Join(dir, "missing.png"))
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestIsSupportedImage(t *testing.T) {
	assert.True(t, IsSupportedImage("a/B.JPG"))
	assert.True(t, IsSupportedImage("x.webp"))
	assert.False(t, IsSupportedImage("x.gif"))
}

func TestGeometry(t *testing.T) {
	b := NewBox(10, 8, 2, 4)
	assert.InDelta(t, 8.0, b.Width(), 1e-9)
	assert.InDelta(t, 4.0, b.Height(), 1e-9)

	pts := PointsFromFlat([]float64{1, 2, 5, 0, 3, 9, 7})
	require.Len(t, pts, 3)
	bb := BoundingBox(pts)
	assert.Equal(t, Box{MinX: 1, MinY: 0, MaxX: 5, MaxY: 9}, bb)
	assert.Equal(t, Box{}, BoundingBox(nil))
}
