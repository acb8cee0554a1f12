// Package tiling partitions a large image into overlapping tiles.
package tiling

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/menta2k/pontos/pkg/types"
)

// strideEpsilon absorbs float error in tileSize*(1-overlap), e.g. 100*(1-0.9)
const strideEpsilon = 1e-9

// Stride returns the distance between consecutive tile origins
func Stride(tileSize int, overlap float64) int {
	return int(math.Floor(float64(tileSize)*(1-overlap) + strideEpsilon))
}

// Validate checks the grid parameters without planning anything
func Validate(size types.ImageSize, tileSize int, overlap float64) error {
	if tileSize <= 0 {
		return types.NewConfigError("tile_size", tileSize, "must be positive")
	}
	if math.IsNaN(overlap) || overlap < 0 || overlap >= 1 {
		return types.NewConfigError("overlap", overlap, "must be in [0, 1)")
	}
	if s := Stride(tileSize, overlap); s < 1 {
		return types.NewConfigError("overlap", overlap, "tile stride must be at least 1 pixel")
	}
	if size.Width <= 0 {
		return types.NewConfigError("image_width", size.Width, "must be positive")
	}
	if size.Height <= 0 {
		return types.NewConfigError("image_height", size.Height, "must be positive")
	}
	return nil
}

// Plan returns the tiles covering an image of the given size, in row-major order.
// The last tile on each axis is pulled back so it ends at the image edge.
func Plan(size types.ImageSize, tileSize int, overlap float64) ([]types.Tile, error) {
	if err := Validate(size, tileSize, overlap); err != nil {
		return nil, err
	}

	stride := Stride(tileSize, overlap)
	xs := axisOrigins(size.Width, tileSize, stride)
	ys := axisOrigins(size.Height, tileSize, stride)
	tw := minInt(tileSize, size.Width)
	th := minInt(tileSize, size.Height)

	tiles := make([]types.Tile, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			tiles = append(tiles, types.Tile{
				Index:   len(tiles),
				OriginX: x,
				OriginY: y,
				Width:   tw,
				Height:  th,
			})
		}
	}
	return tiles, nil
}

// axisOrigins lists tile origins along one axis
func axisOrigins(dim, tileSize, stride int) []int {
	if tileSize >= dim {
		return []int{0}
	}

	var origins []int
	for o := 0; ; o += stride {
		if o+tileSize >= dim {
			o = dim - tileSize
			if len(origins) == 0 || origins[len(origins)-1] != o {
				origins = append(origins, o)
			}
			return origins
		}
		origins = append(origins, o)
	}
}

// Crop returns the pixels of a tile as a new image whose bounds start at (0,0).
// The source image is not modified.
func Crop(img image.Image, tile types.Tile) image.Image {
	origin := img.Bounds().Min
	return imaging.Crop(img, tile.Rect().Add(origin))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
