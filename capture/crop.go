package capture

import (
	"bytes"
	"image"
	"image/png"

	"github.com/tabwatch/tabwatch/errors"
)

// Crop cuts a region out of a PNG screenshot. The region is given in CSS
// pixels and scaled by its device pixel ratio to match the physical pixels
// of the screenshot. The rectangle is clamped to the image bounds. An
// invalid region returns the screenshot unchanged.
func Crop(data []byte, region *Region) ([]byte, error) {
	if !region.Valid() {
		return data, nil
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode screenshot")
	}

	d := region.DevicePixelRatio
	if d <= 0 {
		d = 1.0
	}

	rect := image.Rect(
		int(float64(region.X)*d),
		int(float64(region.Y)*d),
		int(float64(region.X+region.Width)*d),
		int(float64(region.Y+region.Height)*d),
	)
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, errors.Newf("crop region (%d,%d %dx%d @%gx) lies outside the %dx%d screenshot",
			region.X, region.Y, region.Width, region.Height, d,
			img.Bounds().Dx(), img.Bounds().Dy())
	}

	sub, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	})
	if !ok {
		return nil, errors.Newf("screenshot image type %T does not support cropping", img)
	}

	var out bytes.Buffer
	if err := png.Encode(&out, sub.SubImage(rect)); err != nil {
		return nil, errors.Wrap(err, "failed to encode cropped screenshot")
	}
	return out.Bytes(), nil
}
