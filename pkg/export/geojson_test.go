package export

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/menta2k/pontos/pkg/types"
)

func TestToFeatureCollection(t *testing.T) {
	dets := []types.GeoDetection{
		{ID: 0, Longitude: 5.95, Latitude: 43.13, Confidence: 0.9, ClassLabel: "vessel"},
		{ID: 1, Longitude: 5.9, Latitude: 43.1, Confidence: 0.3, ClassLabel: "vessel"},
	}

	fc := ToFeatureCollection(dets)
	if len(fc.Features) != 2 {
		t.Fatalf("Expected 2 features, got %d", len(fc.Features))
	}

	p, ok := fc.Features[0].Geometry.(orb.Point)
	if !ok {
		t.Fatalf("Expected Point geometry, got %T", fc.Features[0].Geometry)
	}
	if p[0] != 5.95 || p[1] != 43.13 {
		t.Errorf("Expected [lon, lat] = [5.95, 43.13], got %v", p)
	}

	props := fc.Features[1].Properties
	if props[PropID] != 1 || props[PropConfidence] != 0.3 || props[PropClass] != "vessel" {
		t.Errorf("Unexpected properties %v", props)
	}
}

func TestFeatureIDsFollowEmissionOrder(t *testing.T) {
	// ids already on the input are ignored in favour of position
	dets := []types.GeoDetection{
		{ID: 7, Longitude: 1, Latitude: 1},
		{ID: 3, Longitude: 2, Latitude: 2},
	}
	fc := ToFeatureCollection(dets)
	for i, f := range fc.Features {
		if f.Properties[PropID] != i {
			t.Errorf("Feature %d has id %v", i, f.Properties[PropID])
		}
	}
}

func TestMarshalRoundTripDocument(t *testing.T) {
	fc := ToFeatureCollection([]types.GeoDetection{
		{Longitude: 6.0, Latitude: 43.1, Confidence: 0.75, ClassLabel: "vessel"},
	})

	data, err := Marshal(fc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Type     string `json:"type"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}

	if doc.Type != "FeatureCollection" {
		t.Errorf("Expected FeatureCollection, got %s", doc.Type)
	}
	if len(doc.Features) != 1 {
		t.Fatalf("Expected 1 feature, got %d", len(doc.Features))
	}
	f := doc.Features[0]
	if f.Type != "Feature" || f.Geometry.Type != "Point" {
		t.Errorf("Unexpected feature types %s/%s", f.Type, f.Geometry.Type)
	}
	if len(f.Geometry.Coordinates) != 2 || f.Geometry.Coordinates[0] != 6.0 || f.Geometry.Coordinates[1] != 43.1 {
		t.Errorf("Unexpected coordinates %v", f.Geometry.Coordinates)
	}
	if f.Properties["id"] != float64(0) || f.Properties["confidence"] != 0.75 || f.Properties["class"] != "vessel" {
		t.Errorf("Unexpected properties %v", f.Properties)
	}

	if _, err := geojson.UnmarshalFeatureCollection(data); err != nil {
		t.Errorf("orb could not decode the document: %v", err)
	}
}

func TestMarshalEmpty(t *testing.T) {
	for _, fc := range []*geojson.FeatureCollection{ToFeatureCollection(nil), nil} {
		data, err := Marshal(fc)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}

		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			t.Fatalf("Output is not valid JSON: %v", err)
		}
		if doc["type"] != "FeatureCollection" {
			t.Errorf("Expected FeatureCollection, got %v", doc["type"])
		}
		features, ok := doc["features"].([]any)
		if !ok {
			t.Fatalf("Expected features array, got %T (%s)", doc["features"], data)
		}
		if len(features) != 0 {
			t.Errorf("Expected no features, got %d", len(features))
		}
	}
}
