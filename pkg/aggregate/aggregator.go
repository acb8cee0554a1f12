// Package aggregate merges per-tile detections into one deduplicated set
// in full-image pixel space.
package aggregate

import (
	"cmp"
	"slices"

	"github.com/samber/lo"

	"github.com/menta2k/pontos/pkg/types"
)

// Aggregate shifts tile-local detections into full-image coordinates and
// suppresses duplicates produced by overlapping tiles.
//
// The map key is the owning tile index; detections keyed to an unknown tile
// are dropped. The result does not depend on map iteration order or on the
// order of detections within a tile.
func Aggregate(tiles []types.Tile, raw map[int][]types.RawDetection, iouThreshold float64) []types.Detection {
	return Suppress(Shift(tiles, raw), iouThreshold)
}

// Shift translates raw detections by their tile origin and computes centers
func Shift(tiles []types.Tile, raw map[int][]types.RawDetection) []types.Detection {
	byIndex := lo.KeyBy(tiles, func(t types.Tile) int { return t.Index })

	total := lo.SumBy(lo.Values(raw), func(ds []types.RawDetection) int { return len(ds) })
	out := make([]types.Detection, 0, total)
	for idx, dets := range raw {
		tile, ok := byIndex[idx]
		if !ok {
			continue
		}
		for _, rd := range dets {
			box := rd.Box.Translate(float64(tile.OriginX), float64(tile.OriginY))
			cx, cy := box.Center()
			out = append(out, types.Detection{
				Box:        box,
				Confidence: rd.Confidence,
				ClassLabel: rd.ClassLabel,
				TileIndex:  idx,
				CenterX:    cx,
				CenterY:    cy,
			})
		}
	}
	return out
}

// Suppress runs greedy non-maximum suppression over full-image detections.
// A detection is dropped when its IoU with an already kept detection is at
// least iouThreshold. The input slice is reordered in place.
func Suppress(dets []types.Detection, iouThreshold float64) []types.Detection {
	slices.SortFunc(dets, compareDetections)

	kept := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if d.Box.IoU(k.Box) >= iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

// compareDetections orders by confidence descending, then x1, y1 and tile
// index ascending. The remaining fields only make the order total.
func compareDetections(a, b types.Detection) int {
	if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Box.X1, b.Box.X1); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Box.Y1, b.Box.Y1); c != 0 {
		return c
	}
	if c := cmp.Compare(a.TileIndex, b.TileIndex); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Box.X2, b.Box.X2); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Box.Y2, b.Box.Y2); c != 0 {
		return c
	}
	return cmp.Compare(a.ClassLabel, b.ClassLabel)
}
