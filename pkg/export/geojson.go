// Package export builds GeoJSON documents from geolocated detections.
package export

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/menta2k/pontos/pkg/types"
)

// Property keys written on every feature
const (
	PropID         = "id"
	PropConfidence = "confidence"
	PropClass      = "class"
)

// ToFeatureCollection returns an RFC 7946 FeatureCollection with one Point
// feature per detection, in input order. The id property is the position of
// the detection in that order.
func ToFeatureCollection(dets []types.GeoDetection) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, d := range dets {
		f := geojson.NewFeature(orb.Point{d.Longitude, d.Latitude})
		f.Properties[PropID] = i
		f.Properties[PropConfidence] = d.Confidence
		f.Properties[PropClass] = d.ClassLabel
		fc.Append(f)
	}
	return fc
}

// Marshal encodes a FeatureCollection as indented JSON
func Marshal(fc *geojson.FeatureCollection) ([]byte, error) {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode feature collection: %w", err)
	}
	return data, nil
}
