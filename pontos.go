// Package pontos finds vessels in georeferenced RGB satellite scenes.
//
// A scene is cut into overlapping square tiles, each tile is passed to a
// detector, and the detections are merged with greedy non-maximum suppression.
// Every surviving vessel is mapped to WGS84 coordinates by linear
// interpolation inside the scene bounding box and emitted as a GeoJSON Point.
//
// Basic usage:
//
//	cfg := scan.DefaultConfig()
//	cfg.BBox = types.GeoBBox{MinLon: 5.85, MinLat: 43.08, MaxLon: 6.05, MaxLat: 43.18}
//
//	scanner := pontos.New(vision.New(), cfg)
//	res, err := scanner.ScanToSink(ctx, "tci.png", sink.NewFileSink("output", "vessels"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("%d vessels\n", len(res.Detections))
//
// The package consists of these components:
//
//  1. Tiling (pkg/tiling): plans the tile grid and crops tiles
//  2. Detectors (pkg/vision, pkg/detection): find vessels in one tile, either
//     by contrast analysis or through a vision model served by Ollama or llama.cpp
//  3. Aggregation (pkg/aggregate): moves boxes to scene pixels and removes duplicates
//  4. Geolocation (pkg/geo) and export (pkg/export): WGS84 mapping and GeoJSON
//  5. Sinks (pkg/sink): file, writer and Kafka delivery
package pontos

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/menta2k/pontos/pkg/analyzer"
	"github.com/menta2k/pontos/pkg/client"
	"github.com/menta2k/pontos/pkg/processing"
	"github.com/menta2k/pontos/pkg/scan"
	"github.com/menta2k/pontos/pkg/sink"
	"github.com/menta2k/pontos/pkg/vision"
)

// Version of the pontos library
const Version = "1.0.0"

// Scanner provides a high-level interface for scanning scenes
type Scanner struct {
	analyzer  *analyzer.ImageAnalyzer
	processor *processing.Processor
	engine    *scan.Engine
}

// New creates a Scanner running detector with cfg
func New(detector client.TileDetector, cfg scan.Config, opts ...scan.Option) *Scanner {
	return &Scanner{
		analyzer:  analyzer.New(),
		processor: processing.NewProcessor(),
		engine:    scan.New(detector, cfg, opts...),
	}
}

// NewContrast creates a Scanner using the model-free contrast detector
func NewContrast(cfg scan.Config, opts ...scan.Option) *Scanner {
	return New(vision.New(), cfg, opts...)
}

// Config returns the scan configuration
func (s *Scanner) Config() scan.Config {
	return s.engine.Config()
}

// ScanImage scans an image already in memory
func (s *Scanner) ScanImage(ctx context.Context, img image.Image) (*scan.Result, error) {
	if err := s.engine.Config().Validate(); err != nil {
		return nil, err
	}
	// empty images are reported by the engine as a configuration error
	if !img.Bounds().Empty() {
		if err := s.analyzer.ValidateImage(img); err != nil {
			return nil, err
		}
	}
	return s.engine.Run(ctx, img)
}

// LoadImage loads a scene from a file path or http(s) URL. Only jpeg, png,
// webp and tiff scenes are accepted.
func (s *Scanner) LoadImage(source string) (image.Image, error) {
	data, err := s.processor.ReadSource(source)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", source, err)
	}
	if _, err := s.analyzer.CheckFormat(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", source, err)
	}
	img, err := s.processor.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", source, err)
	}
	return img, nil
}

// ScanFile loads and scans a scene from a file path or http(s) URL
func (s *Scanner) ScanFile(ctx context.Context, source string) (*scan.Result, error) {
	img, err := s.LoadImage(source)
	if err != nil {
		return nil, err
	}
	return s.ScanImage(ctx, img)
}

// ScanToSink scans a scene and writes its FeatureCollection to out.
// Nothing is written when the scan fails.
func (s *Scanner) ScanToSink(ctx context.Context, source string, out sink.Sink) (*scan.Result, error) {
	res, err := s.ScanFile(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := out.Write(ctx, res.ScanID, res.Collection); err != nil {
		return res, fmt.Errorf("failed to write scan %s: %w", res.ScanID, err)
	}
	return res, nil
}

// Overlay draws the tile grid and detections of res on a copy of img
func (s *Scanner) Overlay(img image.Image, res *scan.Result) image.Image {
	return s.processor.CreateDetectionOverlay(img, res.Tiles, res.Detections)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
