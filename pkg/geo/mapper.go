// Package geo maps full-image pixel coordinates onto a WGS84 bounding box.
//
// The mapping is a plain linear (equirectangular) interpolation between the
// box edges; no reprojection or distortion correction is applied.
package geo

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/menta2k/pontos/pkg/types"
)

// Mapper converts pixel positions of one image to longitude/latitude
type Mapper struct {
	bound  orb.Bound
	width  float64
	height float64
}

// ValidateBBox checks that a bounding box is usable for mapping
func ValidateBBox(bbox types.GeoBBox) error {
	for _, v := range []struct {
		name  string
		value float64
		limit float64
	}{
		{"geo_bbox.min_lon", bbox.MinLon, 180},
		{"geo_bbox.max_lon", bbox.MaxLon, 180},
		{"geo_bbox.min_lat", bbox.MinLat, 90},
		{"geo_bbox.max_lat", bbox.MaxLat, 90},
	} {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return types.NewConfigError(v.name, v.value, "must be a finite number")
		}
		if math.Abs(v.value) > v.limit {
			return types.NewConfigError(v.name, v.value, "outside WGS84 range")
		}
	}
	if bbox.MinLon >= bbox.MaxLon {
		return types.NewConfigError("geo_bbox", bbox, "min_lon must be less than max_lon")
	}
	if bbox.MinLat >= bbox.MaxLat {
		return types.NewConfigError("geo_bbox", bbox, "min_lat must be less than max_lat")
	}
	return nil
}

// NewMapper validates the bounding box and image size and returns a Mapper
func NewMapper(bbox types.GeoBBox, size types.ImageSize) (*Mapper, error) {
	if err := ValidateBBox(bbox); err != nil {
		return nil, err
	}
	if size.Width <= 0 {
		return nil, types.NewConfigError("image_width", size.Width, "must be positive")
	}
	if size.Height <= 0 {
		return nil, types.NewConfigError("image_height", size.Height, "must be positive")
	}

	return &Mapper{
		bound: orb.Bound{
			Min: orb.Point{bbox.MinLon, bbox.MinLat},
			Max: orb.Point{bbox.MaxLon, bbox.MaxLat},
		},
		width:  float64(size.Width),
		height: float64(size.Height),
	}, nil
}

// ToGeo maps a pixel position to (longitude, latitude).
// Pixel rows grow downward, so y=0 is the northern edge.
func (m *Mapper) ToGeo(x, y float64) (float64, float64) {
	p := m.Point(x, y)
	return p.Lon(), p.Lat()
}

// Point maps a pixel position to an orb.Point ([lon, lat])
func (m *Mapper) Point(x, y float64) orb.Point {
	lon := m.bound.Min.Lon() + (x/m.width)*(m.bound.Max.Lon()-m.bound.Min.Lon())
	lat := m.bound.Max.Lat() - (y/m.height)*(m.bound.Max.Lat()-m.bound.Min.Lat())
	return orb.Point{lon, lat}
}

// Geolocate maps the center of each detection. IDs follow the input order.
func (m *Mapper) Geolocate(dets []types.Detection) []types.GeoDetection {
	out := make([]types.GeoDetection, len(dets))
	for i, d := range dets {
		lon, lat := m.ToGeo(d.CenterX, d.CenterY)
		out[i] = types.GeoDetection{
			ID:         i,
			Longitude:  lon,
			Latitude:   lat,
			Confidence: d.Confidence,
			ClassLabel: d.ClassLabel,
		}
	}
	return out
}
