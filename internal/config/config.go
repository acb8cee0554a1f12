package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/multierr"

	"github.com/menta2k/pontos/pkg/scan"
	"github.com/menta2k/pontos/pkg/sink"
	"github.com/menta2k/pontos/pkg/types"
)

// Inference backends
const (
	BackendContrast = "contrast"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Scan      ScanConfig      `json:"scan"`
	Inference InferenceConfig `json:"inference"`
	Output    OutputConfig    `json:"output"`
	Kafka     KafkaConfig     `json:"kafka"`
}

// ScanConfig holds the tiling and merge parameters
type ScanConfig struct {
	TileSize            int     `json:"tile_size"`
	Overlap             float64 `json:"overlap"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	NMSIoUThreshold     float64 `json:"nms_iou_threshold"`
	Workers             int     `json:"workers"`
}

// InferenceConfig selects and configures the tile detector
type InferenceConfig struct {
	Backend     string `json:"backend"`
	URL         string `json:"url"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt,omitempty"`
	SendFormat  string `json:"send_format"`
	SendSize    int    `json:"send_size"`
	SendQuality int    `json:"send_quality"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	Dir           string `json:"dir"`
	Name          string `json:"name"`
	DebugOverlay  bool   `json:"debug_overlay"`
	OverlayFormat string `json:"overlay_format"`
}

// KafkaConfig enables publishing scan documents to Kafka
type KafkaConfig struct {
	Enabled bool `json:"enabled"`
	sink.KafkaConfig
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Scan: ScanConfig{
			TileSize:            320,
			Overlap:             0.5,
			ConfidenceThreshold: 0.05,
			NMSIoUThreshold:     0.5,
			Workers:             4,
		},
		Inference: InferenceConfig{
			Backend:     BackendContrast,
			URL:         "http://localhost:11434",
			Model:       "llava:7b",
			SendFormat:  "jpg",
			SendSize:    0,
			SendQuality: 90,
		},
		Output: OutputConfig{
			Dir:           "./output",
			Name:          "vessels",
			DebugOverlay:  false,
			OverlayFormat: "jpg",
		},
		Kafka: KafkaConfig{
			KafkaConfig: sink.KafkaConfig{
				BootstrapServers: "localhost:9092",
				Topic:            "vessel-detections",
				SecurityProtocol: "PLAINTEXT",
				CompressionType:  "snappy",
				Acks:             "all",
			},
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields missing from the
// file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Scan.TileSize < 1 {
		return fmt.Errorf("scan.tile_size must be positive")
	}

	if math.IsNaN(c.Scan.Overlap) || c.Scan.Overlap < 0 || c.Scan.Overlap >= 1 {
		return fmt.Errorf("scan.overlap must be in [0, 1)")
	}

	if math.IsNaN(c.Scan.ConfidenceThreshold) || c.Scan.ConfidenceThreshold < 0 || c.Scan.ConfidenceThreshold > 1 {
		return fmt.Errorf("scan.confidence_threshold must be between 0 and 1")
	}

	if math.IsNaN(c.Scan.NMSIoUThreshold) || c.Scan.NMSIoUThreshold <= 0 || c.Scan.NMSIoUThreshold > 1 {
		return fmt.Errorf("scan.nms_iou_threshold must be in (0, 1]")
	}

	if c.Scan.Workers < 0 {
		return fmt.Errorf("scan.workers must not be negative")
	}

	switch c.Inference.Backend {
	case BackendContrast:
	case BackendOllama, BackendLlamaCpp:
		if c.Inference.URL == "" {
			return fmt.Errorf("inference.url is required for backend %s", c.Inference.Backend)
		}
		if c.Inference.Model == "" {
			return fmt.Errorf("inference.model is required for backend %s", c.Inference.Backend)
		}
	default:
		return fmt.Errorf("inference.backend must be one of %s, %s, %s", BackendContrast, BackendOllama, BackendLlamaCpp)
	}

	if c.Inference.SendFormat != "jpg" && c.Inference.SendFormat != "png" {
		return fmt.Errorf("inference.send_format must be jpg or png")
	}

	if c.Inference.SendQuality < 1 || c.Inference.SendQuality > 100 {
		return fmt.Errorf("inference.send_quality must be between 1 and 100")
	}

	if c.Inference.SendSize < 0 {
		return fmt.Errorf("inference.send_size must not be negative")
	}

	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir cannot be empty")
	}

	if c.Kafka.Enabled {
		if c.Kafka.BootstrapServers == "" {
			return fmt.Errorf("kafka.bootstrap_servers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}

// ScanConfig returns the engine configuration for a scene covering bbox
func (c *Config) ScanConfig(bbox types.GeoBBox) scan.Config {
	return scan.Config{
		TileSize:            c.Scan.TileSize,
		Overlap:             c.Scan.Overlap,
		ConfidenceThreshold: c.Scan.ConfidenceThreshold,
		NMSIoUThreshold:     c.Scan.NMSIoUThreshold,
		BBox:                bbox,
		Workers:             c.Scan.Workers,
	}
}

// ApplyEnv overrides settings from PONTOS_* and KAFKA_* environment variables.
// Unset variables leave the current value; malformed numbers are reported.
func (c *Config) ApplyEnv() error {
	var err error

	err = multierr.Append(err, envInt("PONTOS_TILE_SIZE", &c.Scan.TileSize))
	err = multierr.Append(err, envFloat("PONTOS_OVERLAP", &c.Scan.Overlap))
	err = multierr.Append(err, envFloat("PONTOS_CONFIDENCE_THRESHOLD", &c.Scan.ConfidenceThreshold))
	err = multierr.Append(err, envFloat("PONTOS_NMS_IOU_THRESHOLD", &c.Scan.NMSIoUThreshold))
	err = multierr.Append(err, envInt("PONTOS_WORKERS", &c.Scan.Workers))

	envString("PONTOS_BACKEND", &c.Inference.Backend)
	envString("PONTOS_INFERENCE_URL", &c.Inference.URL)
	envString("PONTOS_MODEL", &c.Inference.Model)
	envString("PONTOS_OUTPUT_DIR", &c.Output.Dir)
	envString("PONTOS_OUTPUT_NAME", &c.Output.Name)

	err = multierr.Append(err, envBool("PONTOS_KAFKA_ENABLED", &c.Kafka.Enabled))
	envString("KAFKA_BOOTSTRAP_SERVERS", &c.Kafka.BootstrapServers)
	envString("KAFKA_TOPIC", &c.Kafka.Topic)
	envString("KAFKA_SECURITY_PROTOCOL", &c.Kafka.SecurityProtocol)
	envString("KAFKA_SASL_MECHANISM", &c.Kafka.SASLMechanism)
	envString("KAFKA_SASL_USERNAME", &c.Kafka.SASLUsername)
	envString("KAFKA_SASL_PASSWORD", &c.Kafka.SASLPassword)

	return err
}

func envString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func envInt(key string, dst *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envBool(key string, dst *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "pontos", "config.json")
}
