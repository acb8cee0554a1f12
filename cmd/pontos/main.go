package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/menta2k/pontos"
	"github.com/menta2k/pontos/internal/config"
	"github.com/menta2k/pontos/internal/logging"
	"github.com/menta2k/pontos/internal/utils"
	"github.com/menta2k/pontos/pkg/client"
	"github.com/menta2k/pontos/pkg/detection"
	"github.com/menta2k/pontos/pkg/llamacpp"
	"github.com/menta2k/pontos/pkg/ollama"
	"github.com/menta2k/pontos/pkg/processing"
	"github.com/menta2k/pontos/pkg/scan"
	"github.com/menta2k/pontos/pkg/sink"
	"github.com/menta2k/pontos/pkg/tiling"
	"github.com/menta2k/pontos/pkg/types"
	"github.com/menta2k/pontos/pkg/vision"
)

func main() {
	var in, bboxArg, configPath string
	var overlay, kafkaOn, verbose, describe bool

	cfg := config.Default()

	flag.StringVar(&in, "in", "", "input scene path or URL (png/jpg/webp/tiff)")
	flag.StringVar(&bboxArg, "bbox", "", "scene bounds in WGS84: minlon,minlat,maxlon,maxlat")
	flag.StringVar(&configPath, "config", defaultConfigPath(), "JSON config file (flags override it)")

	flag.StringVar(&cfg.Output.Dir, "out", cfg.Output.Dir, "output directory")
	flag.StringVar(&cfg.Output.Name, "name", cfg.Output.Name, "output file name without extension")
	flag.StringVar(&cfg.Inference.Backend, "backend", cfg.Inference.Backend, "detector: contrast|ollama|llamacpp")
	flag.StringVar(&cfg.Inference.URL, "url", cfg.Inference.URL, "model server URL (ollama or llama.cpp)")
	flag.StringVar(&cfg.Inference.Model, "model", cfg.Inference.Model, "model name")
	flag.StringVar(&cfg.Inference.SendFormat, "sendfmt", cfg.Inference.SendFormat, "tile format sent to the model: jpg|png")
	flag.IntVar(&cfg.Inference.SendSize, "sendsize", cfg.Inference.SendSize, "max tile side sent to the model (px), 0=original")

	flag.IntVar(&cfg.Scan.TileSize, "tile", cfg.Scan.TileSize, "tile side in pixels")
	flag.Float64Var(&cfg.Scan.Overlap, "overlap", cfg.Scan.Overlap, "tile overlap fraction [0,1)")
	flag.Float64Var(&cfg.Scan.ConfidenceThreshold, "conf", cfg.Scan.ConfidenceThreshold, "minimum detection confidence")
	flag.Float64Var(&cfg.Scan.NMSIoUThreshold, "iou", cfg.Scan.NMSIoUThreshold, "IoU at which overlapping detections are merged")
	flag.IntVar(&cfg.Scan.Workers, "workers", cfg.Scan.Workers, "concurrent tile detections")

	flag.BoolVar(&overlay, "debug", false, "write an overlay image with tiles and detections")
	flag.BoolVar(&kafkaOn, "kafka", false, "publish the result to Kafka")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.BoolVar(&describe, "describe", false, "ask the model to describe the first tile and exit")

	flag.Parse()
	if in == "" || bboxArg == "" {
		fmt.Fprintf(os.Stderr, "usage: %s -in scene.png -bbox minlon,minlat,maxlon,maxlat [-backend contrast|ollama|llamacpp] [-out dir] [-config file.json]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		os.Exit(2)
	}

	log, err := logging.New(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warnw("failed to load .env", "error", err)
	}

	cfg, err = loadConfig(configPath, cfg)
	if err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}
	if kafkaOn {
		cfg.Kafka.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	bbox, err := parseBBox(bboxArg)
	if err != nil {
		log.Fatalw("invalid -bbox", "error", err)
	}
	if !utils.IsImageFile(in) {
		log.Warnw("input does not have a known image extension", "input", in)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	processor := processing.NewProcessor()
	detector, err := newDetector(cfg, processor)
	if err != nil {
		log.Fatalw("failed to create detector", "backend", cfg.Inference.Backend, "error", err)
	}

	scanner := pontos.New(detector, cfg.ScanConfig(bbox), scan.WithLogger(log))
	img, err := scanner.LoadImage(in)
	if err != nil {
		log.Fatalw("failed to load scene", "error", err)
	}

	if describe {
		runDescribe(ctx, log, detector, img, cfg)
		return
	}

	res, err := scanner.ScanImage(ctx, img)
	if err != nil {
		if param, ok := scan.IsConfigError(err); ok {
			log.Fatalw("invalid scan parameter", "param", param, "error", err)
		}
		if tile, ok := scan.IsInferenceError(err); ok {
			log.Fatalw("detection failed", "tile", tile, "error", err)
		}
		log.Fatalw("scan failed", "error", err)
	}

	if err := utils.EnsureDir(cfg.Output.Dir); err != nil {
		log.Fatalw("failed to create output directory", "error", err)
	}

	fileSink := sink.NewFileSink(cfg.Output.Dir, cfg.Output.Name)
	sinks := sink.Multi{fileSink}
	if cfg.Kafka.Enabled {
		kafkaSink, err := sink.NewKafkaSink(cfg.Kafka.KafkaConfig)
		if err != nil {
			log.Fatalw("failed to create kafka sink", "error", err)
		}
		defer func() {
			if remaining := kafkaSink.Close(10 * time.Second); remaining > 0 {
				log.Warnw("kafka messages not delivered", "remaining", remaining)
			}
		}()
		sinks = append(sinks, kafkaSink)
	}

	if err := sinks.Write(ctx, res.ScanID, res.Collection); err != nil {
		log.Errorw("failed to write results", "error", err)
	} else {
		log.Infow("wrote results", "path", fileSink.Path(res.ScanID), "kafka", cfg.Kafka.Enabled)
	}

	if overlay || cfg.Output.DebugOverlay {
		path := utils.GenerateOutputFilename(in, cfg.Output.Dir, "_detections", cfg.Output.OverlayFormat)
		if err := processor.SaveImage(scanner.Overlay(img, res), path, cfg.Output.OverlayFormat, 92, false); err != nil {
			log.Errorw("overlay save failed", "error", err)
		} else {
			log.Infow("wrote overlay", "path", path)
		}
	}

	for _, d := range res.GeoDetections {
		log.Infow("vessel", "id", d.ID, "lon", d.Longitude, "lat", d.Latitude, "confidence", d.Confidence)
	}
}

// defaultConfigPath returns the per-user config file when it exists
func defaultConfigPath() string {
	if path := config.GetConfigPath(); utils.FileExists(path) {
		return path
	}
	return ""
}

// loadConfig layers the config file, then the environment, then explicitly
// set flags over the defaults held in flagged
func loadConfig(path string, flagged *config.Config) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "out":
			cfg.Output.Dir = flagged.Output.Dir
		case "name":
			cfg.Output.Name = flagged.Output.Name
		case "backend":
			cfg.Inference.Backend = flagged.Inference.Backend
		case "url":
			cfg.Inference.URL = flagged.Inference.URL
		case "model":
			cfg.Inference.Model = flagged.Inference.Model
		case "sendfmt":
			cfg.Inference.SendFormat = flagged.Inference.SendFormat
		case "sendsize":
			cfg.Inference.SendSize = flagged.Inference.SendSize
		case "tile":
			cfg.Scan.TileSize = flagged.Scan.TileSize
		case "overlap":
			cfg.Scan.Overlap = flagged.Scan.Overlap
		case "conf":
			cfg.Scan.ConfidenceThreshold = flagged.Scan.ConfidenceThreshold
		case "iou":
			cfg.Scan.NMSIoUThreshold = flagged.Scan.NMSIoUThreshold
		case "workers":
			cfg.Scan.Workers = flagged.Scan.Workers
		}
	})
	return cfg, nil
}

// newDetector builds the tile detector selected by cfg.Inference.Backend
func newDetector(cfg *config.Config, processor *processing.Processor) (client.TileDetector, error) {
	if cfg.Inference.Backend == config.BackendContrast {
		return vision.New(), nil
	}

	var visionClient client.VisionClient
	var err error
	switch cfg.Inference.Backend {
	case config.BackendOllama:
		visionClient, err = ollama.NewClient(cfg.Inference.URL)
	case config.BackendLlamaCpp:
		visionClient, err = llamacpp.NewClient(cfg.Inference.URL)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Inference.Backend)
	}
	if err != nil {
		return nil, err
	}

	encode := processor.TileEncoder(cfg.Inference.SendFormat, cfg.Inference.SendSize, cfg.Inference.SendQuality)
	var opts []detection.Option
	if cfg.Inference.Prompt != "" {
		opts = append(opts, detection.WithPrompt(cfg.Inference.Prompt))
	}
	return detection.NewDetector(visionClient, cfg.Inference.Model, encode, opts...), nil
}

// runDescribe asks the model to describe the first tile of img
func runDescribe(ctx context.Context, log *zap.SugaredLogger, detector client.TileDetector, img image.Image, cfg *config.Config) {
	det, ok := detector.(*detection.Detector)
	if !ok {
		log.Fatalw("-describe needs a model backend", "backend", cfg.Inference.Backend)
	}

	size := types.ImageSize{Width: img.Bounds().Dx(), Height: img.Bounds().Dy()}
	tiles, err := tiling.Plan(size, cfg.Scan.TileSize, cfg.Scan.Overlap)
	if err != nil {
		log.Fatalw("failed to plan tiles", "error", err)
	}

	answer, err := det.TestVision(ctx, tiling.Crop(img, tiles[0]))
	if err != nil {
		log.Fatalw("describe failed", "error", err)
	}
	fmt.Println(answer)
}

// parseBBox parses "minlon,minlat,maxlon,maxlat"
func parseBBox(s string) (types.GeoBBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return types.GeoBBox{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}

	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return types.GeoBBox{}, fmt.Errorf("value %d: %w", i+1, err)
		}
		v[i] = f
	}
	return types.GeoBBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}, nil
}
