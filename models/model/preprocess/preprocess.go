// Package preprocess - image decoding, resizing and packing into impulse features.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG for image.Decode
	"sync"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// ImageFormat represents the format of an image.
type ImageFormat string

const (
	// ImageFormatJPEG represents JPEG image format.
	ImageFormatJPEG ImageFormat = "jpeg"
	// ImageFormatPNG represents PNG image format.
	ImageFormatPNG ImageFormat = "png"
)

// Image represents an encoded input image.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
}

// ColorMode defines how pixels are laid out in the feature buffer.
type ColorMode int

const (
	// ColorModeRGB writes three features per pixel, R then G then B.
	ColorModeRGB ColorMode = iota
	// ColorModeGrayscale writes one luma feature per pixel.
	ColorModeGrayscale
)

// Channels returns the number of features per pixel.
func (c ColorMode) Channels() int {
	if c == ColorModeGrayscale {
		return 1
	}
	return 3
}

var bufferPool = &sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// Decode decodes an encoded image.
//
// Arguments:
//   - img: The encoded image.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: When the data is empty or cannot be decoded.
//
// @example
// decoded, err := preprocess.Decode(&preprocess.Image{Format: preprocess.ImageFormatJPEG, Data: data})
func Decode(img *Image) (image.Image, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	if len(img.Data) == 0 {
		return nil, errors.New("image data is empty")
	}

	buf := bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufferPool.Put(buf)
	}()
	buf.Write(img.Data)
	reader := bytes.NewReader(buf.Bytes())

	switch img.Format {
	case ImageFormatJPEG:
		decoded, err := jpeg.Decode(reader)
		return decoded, errors.Wrap(err, "decoding jpeg")
	default:
		decoded, _, err := image.Decode(reader)
		return decoded, errors.Wrap(err, "decoding image")
	}
}

// Fit resizes img to exactly width x height, ignoring the aspect ratio.
func Fit(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
}

// ImageToFeatures resizes img and writes it as HWC features in [0, 1].
//
// Arguments:
//   - img: The decoded image.
//   - width: The impulse input width.
//   - height: The impulse input height.
//   - mode: RGB (three features per pixel) or grayscale (one).
//
// Returns:
//   - []float32: width*height*mode.Channels() features.
//   - error: When the dimensions are not positive.
//
// @example
// features, err := preprocess.ImageToFeatures(img, 96, 96, preprocess.ColorModeRGB)
func ImageToFeatures(img image.Image, width, height int, mode ColorMode) ([]float32, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", width, height)
	}

	resized := Fit(img, width, height)
	origin := resized.Bounds().Min
	channels := mode.Channels()
	out := make([]float32, width*height*channels)

	idx := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r8, g8, b8 := rgb8(resized, origin.X+x, origin.Y+y)
			if channels == 1 {
				out[idx] = (0.299*float32(r8) + 0.587*float32(g8) + 0.114*float32(b8)) / 255
				idx++
				continue
			}
			out[idx] = float32(r8) / 255
			out[idx+1] = float32(g8) / 255
			out[idx+2] = float32(b8) / 255
			idx += 3
		}
	}
	return out, nil
}

// PackRGB resizes img and packs every pixel into one float as 0xRRGGBB, the raw
// camera signal layout consumed by image DSP blocks.
//
// @example
// signal := dsp.Samples(preprocess.PackRGB(img, 96, 96))
func PackRGB(img image.Image, width, height int) []float32 {
	resized := Fit(img, width, height)
	origin := resized.Bounds().Min
	out := make([]float32, 0, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r8, g8, b8 := rgb8(resized, origin.X+x, origin.Y+y)
			out = append(out, float32(uint32(r8)<<16|uint32(g8)<<8|uint32(b8)))
		}
	}
	return out
}

func rgb8(img image.Image, x, y int) (uint8, uint8, uint8) {
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}
