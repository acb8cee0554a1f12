// Package vision implements a model-free tile detector for bright vessels on
// dark water, based on a saliency map and connected-component labelling.
package vision

import (
	"context"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/pontos/pkg/types"
)

// VesselDetector finds compact bright regions in a tile
type VesselDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for contrast-based detection
type DetectionConfig struct {
	// Threshold is the saliency in [0,1] a pixel needs to belong to an object
	Threshold        float64
	EdgeWeight       float64
	BrightnessWeight float64
	// MinArea is the smallest component kept, in pixels
	MinArea int
	// MaxAreaRatio rejects components covering more of the tile than this (land, cloud)
	MaxAreaRatio float64
	Label        string
}

// DefaultConfig returns the configuration used by New
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		Threshold:        0.5,
		EdgeWeight:       0.2,
		BrightnessWeight: 0.8,
		MinArea:          12,
		MaxAreaRatio:     0.25,
		Label:            "vessel",
	}
}

// New creates a new VesselDetector with default configuration
func New() *VesselDetector {
	return &VesselDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new VesselDetector with custom configuration
func NewWithConfig(config DetectionConfig) *VesselDetector {
	if config.Label == "" {
		config.Label = "vessel"
	}
	return &VesselDetector{config: config}
}

// Region represents a connected group of salient pixels
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Pixels int
	Score  float64
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region's bounding rectangle
func (r Region) Area() int {
	return r.Width * r.Height
}

// DetectTile returns one detection per accepted region, in tile-local pixels.
// It keeps no state between calls.
func (d *VesselDetector) DetectTile(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regions := d.DetectRegions(img)
	out := make([]types.RawDetection, 0, len(regions))
	for _, r := range regions {
		out = append(out, types.RawDetection{
			Box: types.Box{
				X1: float64(r.X),
				Y1: float64(r.Y),
				X2: float64(r.X + r.Width),
				Y2: float64(r.Y + r.Height),
			},
			Confidence: r.Score,
			ClassLabel: d.config.Label,
			TileIndex:  tile.Index,
		})
	}
	return out, nil
}

// DetectRegions labels salient components and returns the accepted ones in
// scan order (top-to-bottom, left-to-right by first pixel)
func (d *VesselDetector) DetectRegions(img image.Image) []Region {
	nrgba := imaging.Clone(img)
	width, height := nrgba.Bounds().Dx(), nrgba.Bounds().Dy()
	if width == 0 || height == 0 {
		return nil
	}

	saliency := d.calculateSaliencyMap(nrgba)
	maxArea := int(d.config.MaxAreaRatio * float64(width*height))

	visited := make([]bool, width*height)
	var regions []Region
	var stack []int

	for start := range saliency {
		if visited[start] || saliency[start] < d.config.Threshold {
			continue
		}

		minX, minY := width, height
		maxX, maxY := -1, -1
		pixels := 0
		var total float64

		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := p%width, p/width
			pixels++
			total += saliency[p]
			minX, maxX = minInt(minX, x), maxInt(maxX, x)
			minY, maxY = minInt(minY, y), maxInt(maxY, y)

			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					q := ny*width + nx
					if !visited[q] && saliency[q] >= d.config.Threshold {
						visited[q] = true
						stack = append(stack, q)
					}
				}
			}
		}

		if pixels < d.config.MinArea || (maxArea > 0 && pixels > maxArea) {
			continue
		}
		regions = append(regions, Region{
			X:      minX,
			Y:      minY,
			Width:  maxX - minX + 1,
			Height: maxY - minY + 1,
			Pixels: pixels,
			Score:  d.score(total / float64(pixels)),
		})
	}
	return regions
}

// score maps mean saliency in [Threshold, 1] onto a confidence in [0.5, 1]
func (d *VesselDetector) score(mean float64) float64 {
	span := 1 - d.config.Threshold
	if span <= 0 {
		return 1
	}
	return clamp(0.5+0.5*(mean-d.config.Threshold)/span, 0, 1)
}

// calculateSaliencyMap combines brightness with local edge strength, row-major
func (d *VesselDetector) calculateSaliencyMap(img *image.NRGBA) []float64 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	saliency := make([]float64, width*height)

	at := func(x, y int) (float64, float64, float64) {
		i := y*img.Stride + x*4
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r1, g1, b1 := at(x, y)

			var edgeStrength float64
			neighbors := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if (dx == 0 && dy == 0) || nx < 0 || ny < 0 || nx >= width || ny >= height {
						continue
					}
					r2, g2, b2 := at(nx, ny)
					dr, dg, db := r1-r2, g1-g2, b1-b2
					edgeStrength += math.Sqrt(dr*dr + dg*dg + db*db)
					neighbors++
				}
			}
			if neighbors > 0 {
				// max color distance is sqrt(3)*255
				edgeStrength /= float64(neighbors) * math.Sqrt(3) * 255
			}

			brightness := (r1 + g1 + b1) / (3 * 255)
			saliency[y*width+x] = clamp(d.config.BrightnessWeight*brightness+d.config.EdgeWeight*edgeStrength, 0, 1)
		}
	}
	return saliency
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
