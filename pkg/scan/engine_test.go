package scan

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/pontos/pkg/client"
	"github.com/menta2k/pontos/pkg/export"
	"github.com/menta2k/pontos/pkg/types"
	"github.com/menta2k/pontos/pkg/vision"
)

var toulon = types.GeoBBox{MinLon: 5.85, MinLat: 43.08, MaxLon: 6.05, MaxLat: 43.18}

func testConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.BBox = toulon
	cfg.Workers = workers
	return cfg
}

// createSeaImage creates dark water with bright rectangular hulls
func createSeaImage(width, height int, hulls ...image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	water := color.RGBA{20, 30, 60, 255}
	hull := color.RGBA{240, 240, 235, 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, water)
		}
	}
	for _, h := range hulls {
		for y := h.Min.Y; y < h.Max.Y; y++ {
			for x := h.Min.X; x < h.Max.X; x++ {
				img.Set(x, y, hull)
			}
		}
	}
	return img
}

// harbourHulls are placed so that every tile touching a hull contains all of it
var harbourHulls = []image.Rectangle{
	image.Rect(200, 200, 240, 220), // seen by 4 tiles
	image.Rect(520, 850, 560, 870), // seen by 4 tiles
	image.Rect(30, 30, 50, 40),     // seen by tile 0 only
}

func countingDetector(calls *atomic.Int64) client.TileDetector {
	return client.TileDetectorFunc(func(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error) {
		calls.Add(1)
		return nil, nil
	})
}

func TestRunConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		param  string
	}{
		{"tile size", func(c *Config) { c.TileSize = 0 }, "tile_size"},
		{"overlap", func(c *Config) { c.Overlap = 1 }, "overlap"},
		{"iou zero", func(c *Config) { c.NMSIoUThreshold = 0 }, "nms_iou_threshold"},
		{"iou above one", func(c *Config) { c.NMSIoUThreshold = 1.5 }, "nms_iou_threshold"},
		{"confidence", func(c *Config) { c.ConfidenceThreshold = -0.1 }, "confidence_threshold"},
		{"workers", func(c *Config) { c.Workers = -2 }, "workers"},
		{"degenerate bbox", func(c *Config) { c.BBox.MaxLon = c.BBox.MinLon }, "geo_bbox"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			cfg := testConfig(2)
			tt.mutate(&cfg)

			res, err := New(countingDetector(&calls), cfg).Run(context.Background(), createSeaImage(64, 64))
			if err == nil {
				t.Fatal("Expected configuration error")
			}
			if res != nil {
				t.Error("Expected no result on configuration error")
			}
			param, ok := IsConfigError(err)
			if !ok {
				t.Fatalf("Expected ConfigError, got %T: %v", err, err)
			}
			if param != tt.param {
				t.Errorf("Expected param %s, got %s", tt.param, param)
			}
			if calls.Load() != 0 {
				t.Errorf("Detector called %d times before configuration was rejected", calls.Load())
			}
		})
	}
}

func TestRunEmptyImage(t *testing.T) {
	var calls atomic.Int64
	_, err := New(countingDetector(&calls), testConfig(1)).Run(context.Background(), image.NewRGBA(image.Rect(0, 0, 0, 10)))

	param, ok := IsConfigError(err)
	if !ok || param != "image_width" {
		t.Errorf("Expected image_width configuration error, got %v", err)
	}
}

func TestRunCallsDetectorOncePerTile(t *testing.T) {
	var calls atomic.Int64
	seen := sync.Map{}
	det := client.TileDetectorFunc(func(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error) {
		calls.Add(1)
		if _, dup := seen.LoadOrStore(tile.Index, true); dup {
			t.Errorf("Tile %d detected twice", tile.Index)
		}
		if b := img.Bounds(); b.Min != image.Pt(0, 0) || b.Dx() != tile.Width || b.Dy() != tile.Height {
			t.Errorf("Tile %d got image bounds %v", tile.Index, b)
		}
		return nil, nil
	})

	res, err := New(det, testConfig(4)).Run(context.Background(), createSeaImage(1024, 1024))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls.Load() != 36 || len(res.Tiles) != 36 {
		t.Errorf("Expected 36 tiles and calls, got %d tiles / %d calls", len(res.Tiles), calls.Load())
	}
}

func TestRunRespectsWorkerLimit(t *testing.T) {
	var inFlight, peak atomic.Int64
	det := client.TileDetectorFunc(func(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return nil, nil
	})

	if _, err := New(det, testConfig(3)).Run(context.Background(), createSeaImage(1024, 1024)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if peak.Load() > 3 {
		t.Errorf("Expected at most 3 concurrent detections, saw %d", peak.Load())
	}
}

func TestRunHarbourScene(t *testing.T) {
	img := createSeaImage(1024, 1024, harbourHulls...)

	res, err := New(vision.New(), testConfig(4)).Run(context.Background(), img)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.RawCount != 9 {
		t.Errorf("Expected 9 raw detections (4+4+1), got %d", res.RawCount)
	}
	if len(res.Detections) != 3 {
		t.Fatalf("Expected 3 vessels after dedup, got %d: %+v", len(res.Detections), res.Detections)
	}

	var boxes []types.Box
	for _, d := range res.Detections {
		boxes = append(boxes, d.Box)
	}
	sort.Slice(boxes, func(i, j int) bool { return boxes[i].X1 < boxes[j].X1 })
	want := []types.Box{
		{X1: 30, Y1: 30, X2: 50, Y2: 40},
		{X1: 200, Y1: 200, X2: 240, Y2: 220},
		{X1: 520, Y1: 850, X2: 560, Y2: 870},
	}
	if diff := cmp.Diff(want, boxes); diff != "" {
		t.Errorf("Unexpected vessel boxes (-want +got):\n%s", diff)
	}

	for i, g := range res.GeoDetections {
		if g.ID != i {
			t.Errorf("Geo detection %d has id %d", i, g.ID)
		}
		d := res.Detections[i]
		wantLon := 5.85 + d.CenterX/1024*0.2
		wantLat := 43.18 - d.CenterY/1024*0.1
		if math.Abs(g.Longitude-wantLon) > 1e-9 || math.Abs(g.Latitude-wantLat) > 1e-9 {
			t.Errorf("Detection %d at (%f, %f), want (%f, %f)", i, g.Longitude, g.Latitude, wantLon, wantLat)
		}
	}

	if len(res.Collection.Features) != 3 {
		t.Errorf("Expected 3 features, got %d", len(res.Collection.Features))
	}
	if res.ScanID == "" {
		t.Error("Expected a scan id")
	}
}

func TestRunDeterministicAcrossWorkers(t *testing.T) {
	img := createSeaImage(1024, 1024, harbourHulls...)

	// Completion order is scrambled by random per-tile delays
	det := client.TileDetectorFunc(func(ctx context.Context, tile types.Tile, tileImg image.Image) ([]types.RawDetection, error) {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		return vision.New().DetectTile(ctx, tile, tileImg)
	})

	baseline, err := New(vision.New(), testConfig(1)).Run(context.Background(), img)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, workers := range []int{0, 2, 8, 36} {
		res, err := New(det, testConfig(workers)).Run(context.Background(), img)
		if err != nil {
			t.Fatalf("Run with %d workers failed: %v", workers, err)
		}
		if diff := cmp.Diff(baseline.Detections, res.Detections); diff != "" {
			t.Errorf("Detections differ with %d workers (-want +got):\n%s", workers, diff)
		}
		if diff := cmp.Diff(baseline.GeoDetections, res.GeoDetections); diff != "" {
			t.Errorf("Geo detections differ with %d workers (-want +got):\n%s", workers, diff)
		}
	}
}

func TestRunInferenceFailure(t *testing.T) {
	boom := errors.New("model server unavailable")
	det := client.TileDetectorFunc(func(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error) {
		if tile.Index == 7 {
			return nil, boom
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
			return []types.RawDetection{{Box: types.Box{X1: 1, Y1: 1, X2: 9, Y2: 9}, Confidence: 0.9}}, nil
		}
	})

	res, err := New(det, testConfig(1)).Run(context.Background(), createSeaImage(1024, 1024))
	if res != nil {
		t.Error("Expected no partial result")
	}
	idx, ok := IsInferenceError(err)
	if !ok {
		t.Fatalf("Expected InferenceError, got %T: %v", err, err)
	}
	if idx != 7 {
		t.Errorf("Expected failing tile 7, got %d", idx)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped cause, got %v", err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	_, err := New(countingDetector(&calls), testConfig(2)).Run(ctx, createSeaImage(640, 640))
	if _, ok := IsInferenceError(err); !ok {
		t.Fatalf("Expected InferenceError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled cause, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("Expected no detector calls after cancellation, got %d", calls.Load())
	}
}

func TestRunEmptyResult(t *testing.T) {
	res, err := New(vision.New(), testConfig(2)).Run(context.Background(), createSeaImage(500, 400))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Detections) != 0 || len(res.GeoDetections) != 0 {
		t.Errorf("Expected no detections on open water, got %d", len(res.Detections))
	}

	data, err := export.Marshal(res.Collection)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if want := `"features": []`; !strings.Contains(string(data), want) {
		t.Errorf("Expected %s in %s", want, data)
	}
}

func TestRunConformsDetectorOutput(t *testing.T) {
	det := client.TileDetectorFunc(func(ctx context.Context, tile types.Tile, img image.Image) ([]types.RawDetection, error) {
		if tile.Index != 0 {
			return nil, nil
		}
		return []types.RawDetection{
			{Box: types.Box{X1: -5, Y1: 0, X2: 10, Y2: 10}, Confidence: 0.9, TileIndex: 99},
			{Box: types.Box{X1: 50, Y1: 50, X2: 60, Y2: 60}, Confidence: 0.01},
		}, nil
	})

	res, err := New(det, testConfig(1)).Run(context.Background(), createSeaImage(100, 100))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(res.Detections))
	}
	d := res.Detections[0]
	if d.Box.X1 != 0 || d.TileIndex != 0 || d.ClassLabel != "vessel" {
		t.Errorf("Detector output not conformed: %+v", d)
	}
}
