// Package scan runs the tiled detection pipeline over one image: plan tiles,
// detect per tile in parallel, merge duplicates, geolocate and build GeoJSON.
package scan

import (
	"context"
	"image"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/pontos/internal/logging"
	"github.com/menta2k/pontos/pkg/aggregate"
	"github.com/menta2k/pontos/pkg/client"
	"github.com/menta2k/pontos/pkg/detection"
	"github.com/menta2k/pontos/pkg/export"
	"github.com/menta2k/pontos/pkg/geo"
	"github.com/menta2k/pontos/pkg/tiling"
	"github.com/menta2k/pontos/pkg/types"
)

// Config holds the parameters of one scan. It is read-only while a scan runs.
type Config struct {
	TileSize            int           `json:"tile_size"`
	Overlap             float64       `json:"overlap"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	NMSIoUThreshold     float64       `json:"nms_iou_threshold"`
	BBox                types.GeoBBox `json:"geo_bbox"`
	// Workers bounds concurrent tile detections; 0 means 1
	Workers int `json:"workers"`
}

// DefaultConfig returns the standard parameters for 10 m Sentinel-2 TCI scenes.
// BBox must still be set.
func DefaultConfig() Config {
	return Config{
		TileSize:            320,
		Overlap:             0.5,
		ConfidenceThreshold: 0.05,
		NMSIoUThreshold:     0.5,
		Workers:             4,
	}
}

// Validate checks every parameter that does not depend on the image
func (c Config) Validate() error {
	if c.TileSize <= 0 {
		return types.NewConfigError("tile_size", c.TileSize, "must be positive")
	}
	if math.IsNaN(c.Overlap) || c.Overlap < 0 || c.Overlap >= 1 {
		return types.NewConfigError("overlap", c.Overlap, "must be in [0, 1)")
	}
	if tiling.Stride(c.TileSize, c.Overlap) < 1 {
		return types.NewConfigError("overlap", c.Overlap, "tile stride must be at least 1 pixel")
	}
	if math.IsNaN(c.NMSIoUThreshold) || c.NMSIoUThreshold <= 0 || c.NMSIoUThreshold > 1 {
		return types.NewConfigError("nms_iou_threshold", c.NMSIoUThreshold, "must be in (0, 1]")
	}
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return types.NewConfigError("confidence_threshold", c.ConfidenceThreshold, "must be in [0, 1]")
	}
	if c.Workers < 0 {
		return types.NewConfigError("workers", c.Workers, "must not be negative")
	}
	return geo.ValidateBBox(c.BBox)
}

// Result is the outcome of one scan
type Result struct {
	ScanID        string                     `json:"scan_id"`
	ImageSize     types.ImageSize            `json:"image_size"`
	Tiles         []types.Tile               `json:"tiles"`
	RawCount      int                        `json:"raw_count"`
	Detections    []types.Detection          `json:"detections"`
	GeoDetections []types.GeoDetection       `json:"geo_detections"`
	Collection    *geojson.FeatureCollection `json:"collection"`
	Elapsed       time.Duration              `json:"elapsed"`
}

// Engine runs scans with a fixed detector and configuration
type Engine struct {
	detector client.TileDetector
	config   Config
	logger   *zap.SugaredLogger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger; the default discards output
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Engine. The detector must be safe for concurrent use when
// cfg.Workers is greater than one.
func New(detector client.TileDetector, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		detector: detector,
		config:   cfg,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.config
}

// Run scans img. Configuration errors are returned before any detection call.
// If any tile fails, the remaining tiles are canceled and the scan fails
// with an *InferenceError naming that tile.
func (e *Engine) Run(ctx context.Context, img image.Image) (*Result, error) {
	start := time.Now()
	cfg := e.config

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	size := types.ImageSize{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	tiles, err := tiling.Plan(size, cfg.TileSize, cfg.Overlap)
	if err != nil {
		return nil, err
	}
	mapper, err := geo.NewMapper(cfg.BBox, size)
	if err != nil {
		return nil, err
	}

	scanID := uuid.NewString()
	log := e.logger.With("scan_id", scanID)
	log.Infow("scan started",
		"width", size.Width, "height", size.Height,
		"tiles", len(tiles), "tile_size", cfg.TileSize, "overlap", cfg.Overlap,
		"bbox", cfg.BBox.String())

	perTile, err := e.detectTiles(ctx, log, img, tiles)
	if err != nil {
		log.Errorw("scan failed", "error", err)
		return nil, err
	}

	raw := make(map[int][]types.RawDetection, len(tiles))
	rawCount := 0
	for i, dets := range perTile {
		if len(dets) > 0 {
			raw[tiles[i].Index] = dets
			rawCount += len(dets)
		}
	}

	dets := aggregate.Aggregate(tiles, raw, cfg.NMSIoUThreshold)
	geoDets := mapper.Geolocate(dets)
	fc := export.ToFeatureCollection(geoDets)

	elapsed := time.Since(start)
	log.Infow("scan finished",
		"raw_detections", rawCount, "detections", len(dets),
		"suppressed", rawCount-len(dets), "elapsed", elapsed)

	return &Result{
		ScanID:        scanID,
		ImageSize:     size,
		Tiles:         tiles,
		RawCount:      rawCount,
		Detections:    dets,
		GeoDetections: geoDets,
		Collection:    fc,
		Elapsed:       elapsed,
	}, nil
}

// detectTiles runs the detector on every tile with at most Workers calls in
// flight. Each call writes only its own slot of the returned slice.
func (e *Engine) detectTiles(ctx context.Context, log *zap.SugaredLogger, img image.Image, tiles []types.Tile) ([][]types.RawDetection, error) {
	workers := e.config.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([][]types.RawDetection, len(tiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, tile := range tiles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return &InferenceError{TileIndex: tile.Index, Err: err}
			}

			dets, err := e.detector.DetectTile(gctx, tile, tiling.Crop(img, tile))
			if err != nil {
				return &InferenceError{TileIndex: tile.Index, Err: err}
			}

			results[i] = detection.Conform(tile, dets, e.config.ConfidenceThreshold)
			log.Debugw("tile done", "tile", tile.Index,
				"origin_x", tile.OriginX, "origin_y", tile.OriginY, "detections", len(results[i]))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
