package tiling

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/menta2k/pontos/pkg/types"
)

func TestPlanGridScenario(t *testing.T) {
	tiles, err := Plan(types.ImageSize{Width: 1024, Height: 1024}, 320, 0.5)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if len(tiles) != 36 {
		t.Fatalf("Expected 36 tiles, got %d", len(tiles))
	}

	wantOrigins := []int{0, 160, 320, 480, 640, 704}
	for i, tile := range tiles {
		if tile.Index != i {
			t.Errorf("Tile %d has index %d", i, tile.Index)
		}
		if tile.OriginX != wantOrigins[i%6] || tile.OriginY != wantOrigins[i/6] {
			t.Errorf("Tile %d origin (%d, %d), want (%d, %d)",
				i, tile.OriginX, tile.OriginY, wantOrigins[i%6], wantOrigins[i/6])
		}
		if tile.Width != 320 || tile.Height != 320 {
			t.Errorf("Tile %d size %dx%d, want 320x320", i, tile.Width, tile.Height)
		}
	}
}

func TestPlanCoverage(t *testing.T) {
	sizes := []types.ImageSize{
		{Width: 1, Height: 1},
		{Width: 57, Height: 33},
		{Width: 320, Height: 320},
		{Width: 321, Height: 100},
		{Width: 500, Height: 777},
		{Width: 1024, Height: 1024},
	}
	params := []struct {
		tileSize int
		overlap  float64
	}{
		{64, 0}, {64, 0.25}, {100, 0.5}, {320, 0.5}, {16, 0.75}, {333, 0.1},
	}

	for _, size := range sizes {
		for _, p := range params {
			tiles, err := Plan(size, p.tileSize, p.overlap)
			if err != nil {
				t.Fatalf("Plan(%v, %d, %f) failed: %v", size, p.tileSize, p.overlap, err)
			}

			covered := make([]bool, size.Width*size.Height)
			bounds := image.Rect(0, 0, size.Width, size.Height)
			for _, tile := range tiles {
				if tile.Width <= 0 || tile.Height <= 0 {
					t.Fatalf("Tile %+v has non-positive size", tile)
				}
				if !tile.Rect().In(bounds) {
					t.Fatalf("Tile %+v exceeds image %v", tile, size)
				}
				for y := tile.OriginY; y < tile.OriginY+tile.Height; y++ {
					for x := tile.OriginX; x < tile.OriginX+tile.Width; x++ {
						covered[y*size.Width+x] = true
					}
				}
			}
			for i, ok := range covered {
				if !ok {
					t.Fatalf("Pixel (%d, %d) not covered for %v tile=%d overlap=%f",
						i%size.Width, i/size.Width, size, p.tileSize, p.overlap)
				}
			}
		}
	}
}

func TestPlanNoDuplicateOrigins(t *testing.T) {
	tiles, err := Plan(types.ImageSize{Width: 700, Height: 480}, 320, 0.5)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	seen := map[image.Point]bool{}
	for _, tile := range tiles {
		p := image.Pt(tile.OriginX, tile.OriginY)
		if seen[p] {
			t.Errorf("Duplicate tile origin %v", p)
		}
		seen[p] = true
	}
}

func TestPlanTileLargerThanImage(t *testing.T) {
	tiles, err := Plan(types.ImageSize{Width: 200, Height: 100}, 320, 0.5)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	want := []types.Tile{{Index: 0, OriginX: 0, OriginY: 0, Width: 200, Height: 100}}
	if diff := cmp.Diff(want, tiles); diff != "" {
		t.Errorf("Unexpected tiles (-want +got):\n%s", diff)
	}
}

func TestPlanDeterministic(t *testing.T) {
	size := types.ImageSize{Width: 913, Height: 611}
	first, err := Plan(size, 256, 0.3)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	second, err := Plan(size, 256, 0.3)
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Plan is not deterministic:\n%s", diff)
	}
}

func TestPlanConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		size     types.ImageSize
		tileSize int
		overlap  float64
		param    string
	}{
		{"zero tile", types.ImageSize{Width: 100, Height: 100}, 0, 0.5, "tile_size"},
		{"negative tile", types.ImageSize{Width: 100, Height: 100}, -5, 0.5, "tile_size"},
		{"negative overlap", types.ImageSize{Width: 100, Height: 100}, 32, -0.1, "overlap"},
		{"full overlap", types.ImageSize{Width: 100, Height: 100}, 32, 1, "overlap"},
		{"zero stride", types.ImageSize{Width: 100, Height: 100}, 4, 0.9, "overlap"},
		{"zero width", types.ImageSize{Width: 0, Height: 100}, 32, 0.5, "image_width"},
		{"negative height", types.ImageSize{Width: 100, Height: -1}, 32, 0.5, "image_height"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tiles, err := Plan(tt.size, tt.tileSize, tt.overlap)
			if err == nil {
				t.Fatal("Expected configuration error")
			}
			if tiles != nil {
				t.Errorf("Expected no partial grid, got %d tiles", len(tiles))
			}
			var cfgErr *types.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Expected *types.ConfigError, got %T", err)
			}
			if cfgErr.Param != tt.param {
				t.Errorf("Expected param %s, got %s", tt.param, cfgErr.Param)
			}
		})
	}
}

func TestCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))
	img.Set(70, 50, color.RGBA{255, 0, 0, 255})

	tile := types.Tile{Index: 0, OriginX: 60, OriginY: 40, Width: 40, Height: 40}
	cropped := Crop(img, tile)

	b := cropped.Bounds()
	if b.Min.X != 0 || b.Min.Y != 0 || b.Dx() != 40 || b.Dy() != 40 {
		t.Fatalf("Unexpected crop bounds %v", b)
	}

	r, _, _, _ := cropped.At(10, 10).RGBA()
	if r>>8 != 255 {
		t.Errorf("Expected red marker at tile-local (10, 10), got r=%d", r>>8)
	}
}

func BenchmarkPlan(b *testing.B) {
	size := types.ImageSize{Width: 10980, Height: 10980}
	for i := 0; i < b.N; i++ {
		if _, err := Plan(size, 320, 0.5); err != nil {
			b.Fatal(err)
		}
	}
}
