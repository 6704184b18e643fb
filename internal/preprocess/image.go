// Package preprocess turns uploaded images into flat model input tensors.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
)

type Normalization string

const (
	// MobileNet maps 8-bit pixels to [-1, 1].
	MobileNet Normalization = "mobilenet"
	// Unit maps 8-bit pixels to [0, 1].
	Unit Normalization = "unit"
)

func (n Normalization) apply(p uint8) float64 {
	if n == Unit {
		return float64(p) / 255
	}
	return (float64(p) - 127.5) / 127.5
}

var ErrUnsupportedShape = errors.New("image prediction unsupported for input shape")

// Layout is the pixel arrangement of an RGB input tensor.
type Layout struct {
	Height        int
	Width         int
	ChannelsFirst bool
}

// LayoutFromShape accepts [1,H,W,3], [H,W,3] (channels last) and
// [1,3,H,W], [3,H,W] (channels first).
func LayoutFromShape(shape []int64) (Layout, error) {
	dims := shape
	if len(dims) == 4 {
		if dims[0] != 1 {
			return Layout{}, fmt.Errorf("%w %v: batch must be 1", ErrUnsupportedShape, shape)
		}
		dims = dims[1:]
	}
	if len(dims) != 3 {
		return Layout{}, fmt.Errorf("%w %v", ErrUnsupportedShape, shape)
	}
	switch {
	case dims[2] == 3:
		return Layout{Height: int(dims[0]), Width: int(dims[1])}, nil
	case dims[0] == 3:
		return Layout{Height: int(dims[1]), Width: int(dims[2]), ChannelsFirst: true}, nil
	}
	return Layout{}, fmt.Errorf("%w %v: need 3 colour channels", ErrUnsupportedShape, shape)
}

// Decode reads a JPEG or PNG image.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("invalid image format, supported: JPEG, PNG: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", errors.New("invalid image: missing dimensions")
	}
	return img, format, nil
}

// Tensor center-crops img to a square, resizes it to the layout with
// bicubic interpolation and returns the normalized pixels in row-major order.
func Tensor(img image.Image, layout Layout, norm Normalization) []float64 {
	resized := resize.Resize(uint(layout.Width), uint(layout.Height), centerCrop(img), resize.Bicubic)
	bounds := resized.Bounds()
	h, w := layout.Height, layout.Width
	plane := h * w
	out := make([]float64, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(resized.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			rgb := [3]uint8{c.R, c.G, c.B}
			pixel := y*w + x
			for ch, v := range rgb {
				if layout.ChannelsFirst {
					out[ch*plane+pixel] = norm.apply(v)
				} else {
					out[pixel*3+ch] = norm.apply(v)
				}
			}
		}
	}
	return out
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func centerCrop(img image.Image) image.Image {
	b := img.Bounds()
	size := min(b.Dx(), b.Dy())
	si, ok := img.(subImager)
	if !ok || (b.Dx() == size && b.Dy() == size) {
		return img
	}
	x0 := b.Min.X + (b.Dx()-size)/2
	y0 := b.Min.Y + (b.Dy()-size)/2
	return si.SubImage(image.Rect(x0, y0, x0+size, y0+size))
}
