package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makePNG builds a w x h PNG where pixel (x, y) has R=x%256, G=y%256
func makePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestCropDimensions(t *testing.T) {
	data := makePNG(t, 200, 100)

	out, err := Crop(data, &Region{TabID: "t", X: 10, Y: 20, Width: 50, Height: 30, DevicePixelRatio: 1})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
}

func TestCropOriginPixels(t *testing.T) {
	data := makePNG(t, 200, 100)

	out, err := Crop(data, &Region{TabID: "t", X: 10, Y: 20, Width: 50, Height: 30, DevicePixelRatio: 1})
	require.NoError(t, err)

	img := decodePNG(t, out)
	// Top-left of the crop is source pixel (10, 20)
	r, g, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(20), g>>8)
}

func TestCropScalesByDevicePixelRatio(t *testing.T) {
	data := makePNG(t, 200, 200)

	// 20x30 CSS pixels at 2x = 40x60 physical pixels
	out, err := Crop(data, &Region{TabID: "t", X: 5, Y: 5, Width: 20, Height: 30, DevicePixelRatio: 2})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())

	// Origin scales too: (5, 5) CSS -> (10, 10) physical
	r, g, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	assert.Equal(t, uint32(10), r>>8)
	assert.Equal(t, uint32(10), g>>8)
}

func TestCropClampsToImageBounds(t *testing.T) {
	data := makePNG(t, 100, 100)

	out, err := Crop(data, &Region{TabID: "t", X: 80, Y: 80, Width: 50, Height: 50, DevicePixelRatio: 1})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 20, img.Bounds().Dy())
}

func TestCropFullyOutsideFails(t *testing.T) {
	data := makePNG(t, 100, 100)

	_, err := Crop(data, &Region{TabID: "t", X: 500, Y: 500, Width: 10, Height: 10, DevicePixelRatio: 1})
	assert.Error(t, err)
}

func TestInvalidRegionReturnsOriginal(t *testing.T) {
	data := makePNG(t, 100, 100)

	out, err := Crop(data, &Region{TabID: "t", X: 0, Y: 0, Width: 0, Height: 10})
	require.NoError(t, err)
	assert.Equal(t, data, out)

	out, err = Crop(data, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCropRejectsGarbage(t *testing.T) {
	_, err := Crop([]byte("not a png"), &Region{TabID: "t", X: 0, Y: 0, Width: 10, Height: 10, DevicePixelRatio: 1})
	assert.Error(t, err)
}
