package detection

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/menta2k/pontos/pkg/client"
	"github.com/menta2k/pontos/pkg/types"
)

// DefaultPrompt is the default prompt for per-tile vessel detection
const DefaultPrompt = `You are a maritime object detector working on a crop of an RGB satellite image.

Return JSON only:
{
  "objects": [
    {"label": "vessel", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ],
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- One entry per ship, boat or other vessel. Ignore piers, buoys, wakes and clouds.
- All coordinates are normalized to [0,1] relative to THIS image (NOT pixels). x,y is the top-left corner.
- Boxes must be tight around the hull.
- confidence is your probability in [0,1] that the object is a vessel.
- If there are no vessels, return {"objects": [], "description": "no vessels"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// DefaultLabel is used when the model does not name the object
const DefaultLabel = "vessel"

// Encoder turns a tile image into the base64 payload sent to the model
type Encoder func(img image.Image) (string, error)

// Detector runs a vision model on single tiles and returns tile-local detections
type Detector struct {
	client        client.VisionClient
	model         string
	prompt        string
	encode        Encoder
	minConfidence float64
}

// Option configures a Detector
type Option func(*Detector)

// WithPrompt overrides DefaultPrompt
func WithPrompt(prompt string) Option {
	return func(d *Detector) { d.prompt = prompt }
}

// WithMinConfidence drops detections below the given confidence
func WithMinConfidence(conf float64) Option {
	return func(d *Detector) { d.minConfidence = conf }
}

// NewDetector creates a new detector with a vision client
func NewDetector(client client.VisionClient, model string, encode Encoder, opts ...Option) *Detector {
	d := &Detector{
		client: client,
		model:  model,
		prompt: DefaultPrompt,
		encode: encode,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DetectTile analyzes one tile and returns detections in tile-local pixels
func (d *Detector) DetectTile(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error) {
	imgB64, err := d.encode(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tile %d: %w", tile.Index, err)
	}

	result, err := d.client.AnalyzeImage(ctx, d.model, d.prompt, imgB64)
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	raws := make([]types.RawDetection, 0, len(result.Objects))
	for _, obj := range result.Objects {
		if isNoneLabel(obj.Label) {
			continue
		}
		raws = append(raws, types.RawDetection{
			Box:        toPixels(normalizeBox(obj.Box), b.Dx(), b.Dy()),
			Confidence: obj.Confidence,
			ClassLabel: normalizeLabel(obj.Label),
			TileIndex:  tile.Index,
		})
	}
	return Conform(tile, raws, d.minConfidence), nil
}

// TestVision tests if the model can actually see the image with a simple prompt
func (d *Detector) TestVision(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := d.encode(img)
	if err != nil {
		return "", err
	}
	return d.client.SimpleQuery(ctx, d.model, SimpleTestPrompt, imgB64)
}

// SimpleTestPrompt for testing if the model can see images
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// Conform brings detections in line with what the aggregator expects:
// boxes are clamped to the tile, empty boxes and detections below
// minConfidence are dropped, confidence is clamped to [0,1] and the tile
// index is set.
func Conform(tile types.Tile, raws []types.RawDetection, minConfidence float64) []types.RawDetection {
	out := make([]types.RawDetection, 0, len(raws))
	w, h := float64(tile.Width), float64(tile.Height)
	for _, r := range raws {
		if math.IsNaN(r.Confidence) {
			continue
		}
		r.Confidence = clamp(r.Confidence, 0, 1)
		if r.Confidence < minConfidence {
			continue
		}
		x1, x2 := math.Min(r.Box.X1, r.Box.X2), math.Max(r.Box.X1, r.Box.X2)
		y1, y2 := math.Min(r.Box.Y1, r.Box.Y2), math.Max(r.Box.Y1, r.Box.Y2)
		r.Box = types.Box{
			X1: clamp(x1, 0, w),
			Y1: clamp(y1, 0, h),
			X2: clamp(x2, 0, w),
			Y2: clamp(y2, 0, h),
		}
		if r.Box.Area() == 0 {
			continue
		}
		if r.ClassLabel == "" {
			r.ClassLabel = DefaultLabel
		}
		r.TileIndex = tile.Index
		out = append(out, r)
	}
	return out
}

// clamp ensures a value is within the given bounds
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// normalizeBox ensures box coordinates are within [0,1] bounds
func normalizeBox(b types.NormalizedBox) types.NormalizedBox {
	x := clamp(b.X, 0, 1)
	y := clamp(b.Y, 0, 1)
	return types.NormalizedBox{
		X: x,
		Y: y,
		W: clamp(b.W, 0, 1-x),
		H: clamp(b.H, 0, 1-y),
	}
}

func toPixels(b types.NormalizedBox, w, h int) types.Box {
	fw, fh := float64(w), float64(h)
	return types.Box{
		X1: b.X * fw,
		Y1: b.Y * fh,
		X2: (b.X + b.W) * fw,
		Y2: (b.Y + b.H) * fh,
	}
}

func isNoneLabel(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "none", "no vessel", "no vessels", "background":
		return true
	}
	return false
}

// normalizeLabel lowercases and trims class labels, mapping synonyms to "vessel"
func normalizeLabel(label string) string {
	l := strings.ToLower(strings.TrimSpace(label))
	switch l {
	case "", "ship", "boat", "vessels", "ships", "boats":
		return DefaultLabel
	}
	return l
}
