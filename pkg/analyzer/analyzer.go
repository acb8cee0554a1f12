// Package analyzer checks that input scenes can be scanned.
package analyzer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmptyImage is returned for images with no pixels
var ErrEmptyImage = errors.New("image has no pixels")

// ImageAnalyzer validates scenes before a scan
type ImageAnalyzer struct {
	config Config
}

// Config holds configuration for the image analyzer
type Config struct {
	SupportedFormats []string
	MinImageSize     int
}

// New creates a new ImageAnalyzer with default configuration
func New() *ImageAnalyzer {
	return &ImageAnalyzer{
		config: Config{
			SupportedFormats: []string{"jpeg", "png", "webp", "tiff"},
			MinImageSize:     1,
		},
	}
}

// NewWithConfig creates a new ImageAnalyzer with custom configuration
func NewWithConfig(config Config) *ImageAnalyzer {
	return &ImageAnalyzer{config: config}
}

// CheckFormat sniffs the encoding of image data and reports an error when it
// is not one of the supported formats. Only the header is decoded.
func (a *ImageAnalyzer) CheckFormat(r io.Reader) (string, error) {
	_, format, err := image.DecodeConfig(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image header: %w", err)
	}
	if !a.isFormatSupported(format) {
		return format, fmt.Errorf("unsupported image format: %s", format)
	}
	return format, nil
}

func (a *ImageAnalyzer) isFormatSupported(format string) bool {
	for _, supported := range a.config.SupportedFormats {
		if strings.EqualFold(format, supported) {
			return true
		}
	}
	return false
}

// ValidateImage checks that an image is a non-empty RGB raster meeting the
// minimum size
func (a *ImageAnalyzer) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	if bounds.Empty() {
		return ErrEmptyImage
	}
	if bounds.Dx() < a.config.MinImageSize || bounds.Dy() < a.config.MinImageSize {
		return fmt.Errorf("image too small: %dx%d (minimum: %d)",
			bounds.Dx(), bounds.Dy(), a.config.MinImageSize)
	}

	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model, color.CMYKModel:
		return fmt.Errorf("unsupported color model %T: an RGB image is required", img)
	}
	return nil
}
