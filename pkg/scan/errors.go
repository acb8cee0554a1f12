package scan

import (
	"errors"
	"fmt"

	"github.com/menta2k/pontos/pkg/types"
)

// ConfigError reports an invalid scan parameter. It is always returned
// before any tile is processed.
type ConfigError = types.ConfigError

// InferenceError reports a failed or canceled detection call for one tile.
// A scan that returns it produced no output.
type InferenceError struct {
	TileIndex int
	Err       error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed on tile %d: %v", e.TileIndex, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is a configuration error and returns the offending parameter
func IsConfigError(err error) (string, bool) {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr.Param, true
	}
	return "", false
}

// IsInferenceError reports whether err is an inference failure and returns the tile index
func IsInferenceError(err error) (int, bool) {
	var infErr *InferenceError
	if errors.As(err, &infErr) {
		return infErr.TileIndex, true
	}
	return -1, false
}
