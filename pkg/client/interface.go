package client

import (
	"context"
	"image"

	"github.com/menta2k/pontos/pkg/types"
)

// VisionClient talks to a vision language model backend
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	AnalyzeImage(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error)
}

// TileDetector finds objects in a single tile.
//
// img holds only the tile pixels with bounds starting at (0,0). Returned boxes
// are tile-local and confidences lie in [0,1]. Implementations must be safe
// for concurrent calls on different tiles.
type TileDetector interface {
	DetectTile(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error)
}

// TileDetectorFunc adapts a function to the TileDetector interface
type TileDetectorFunc func(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error)

// DetectTile calls f
func (f TileDetectorFunc) DetectTile(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error) {
	return f(ctx, tile, img)
}
