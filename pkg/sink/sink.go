// Package sink delivers finished scan documents to their destinations.
package sink

import (
	"context"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/multierr"
)

// Sink persists or publishes the FeatureCollection of one scan
type Sink interface {
	Write(ctx context.Context, scanID string, fc *geojson.FeatureCollection) error
}

// Func adapts a function to the Sink interface
type Func func(ctx context.Context, scanID string, fc *geojson.FeatureCollection) error

// Write calls f
func (f Func) Write(ctx context.Context, scanID string, fc *geojson.FeatureCollection) error {
	return f(ctx, scanID, fc)
}

// Multi writes to every sink in order. A failing sink does not stop the
// others; all failures are returned combined.
type Multi []Sink

// Write implements Sink
func (m Multi) Write(ctx context.Context, scanID string, fc *geojson.FeatureCollection) error {
	var err error
	for _, s := range m {
		if s == nil {
			continue
		}
		err = multierr.Append(err, s.Write(ctx, scanID, fc))
	}
	return err
}
