package types

import (
	"fmt"
	"image"
	"math"
)

// Box is a bounding box in pixel coordinates, (X1,Y1) top-left and (X2,Y2) bottom-right
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Center returns the midpoint of the box
func (b Box) Center() (float64, float64) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Area returns the box area, zero for degenerate boxes
func (b Box) Area() float64 {
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Translate returns the box shifted by (dx, dy)
func (b Box) Translate(dx, dy float64) Box {
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// IoU returns the Intersection-over-Union of two boxes.
// Two boxes without any area never overlap.
func (b Box) IoU(o Box) float64 {
	ix := math.Min(b.X2, o.X2) - math.Max(b.X1, o.X1)
	iy := math.Min(b.Y2, o.Y2) - math.Max(b.Y1, o.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ImageSize is the pixel size of the full source image
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GeoBBox is a WGS84 bounding box in degrees
type GeoBBox struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func (g GeoBBox) String() string {
	return fmt.Sprintf("(%g,%g,%g,%g)", g.MinLon, g.MinLat, g.MaxLon, g.MaxLat)
}

// Tile is a window of the full image processed by one detection call.
// The origin is the top-left corner in full-image pixel space.
type Tile struct {
	Index   int `json:"index"`
	OriginX int `json:"origin_x"`
	OriginY int `json:"origin_y"`
	Width   int `json:"width"`
	Height  int `json:"height"`
}

// Rect returns the tile bounds in full-image pixel space
func (t Tile) Rect() image.Rectangle {
	return image.Rect(t.OriginX, t.OriginY, t.OriginX+t.Width, t.OriginY+t.Height)
}

// RawDetection is a detection as returned by a tile detector, in tile-local pixels
type RawDetection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	ClassLabel string  `json:"class"`
	TileIndex  int     `json:"tile_index"`
}

// Detection is a detection in full-image pixel space
type Detection struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
	ClassLabel string  `json:"class"`
	TileIndex  int     `json:"tile_index"`
	CenterX    float64 `json:"cx"`
	CenterY    float64 `json:"cy"`
}

// GeoDetection is a surviving detection located in WGS84
type GeoDetection struct {
	ID         int     `json:"id"`
	Longitude  float64 `json:"longitude"`
	Latitude   float64 `json:"latitude"`
	Confidence float64 `json:"confidence"`
	ClassLabel string  `json:"class"`
}

// ConfigError reports a scan parameter that violates its constraint
type ConfigError struct {
	Param  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s (%v): %s", e.Param, e.Value, e.Reason)
}

// NewConfigError builds a ConfigError for the named parameter
func NewConfigError(param string, value any, reason string) *ConfigError {
	return &ConfigError{Param: param, Value: value, Reason: reason}
}

// NormalizedBox is a bounding box with coordinates in [0,1] relative to the image it was reported on
type NormalizedBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ModelObject is a single object reported by a vision model
type ModelObject struct {
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
	Box        NormalizedBox `json:"box"`
}

// AnalysisResult contains the parsed response of a vision model for one tile
type AnalysisResult struct {
	Objects     []ModelObject `json:"objects"`
	Description string        `json:"description,omitempty"`
}
