package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/menta2k/pontos/pkg/export"
)

// DefaultName is the file name used when a FileSink has no name
const DefaultName = "vessels"

// FileSink writes each document to <Dir>/<Name>.geojson, replacing any
// previous file. An empty Name uses the scan id instead.
type FileSink struct {
	Dir  string
	Name string
}

// NewFileSink creates a FileSink writing to dir/name.geojson
func NewFileSink(dir, name string) *FileSink {
	return &FileSink{Dir: dir, Name: name}
}

// Path returns the file a scan will be written to
func (s *FileSink) Path(scanID string) string {
	name := s.Name
	if name == "" {
		name = scanID
	}
	if name == "" {
		name = DefaultName
	}
	if !strings.HasSuffix(name, ".geojson") {
		name += ".geojson"
	}
	return filepath.Join(s.Dir, name)
}

// Write implements Sink
func (s *FileSink) Write(ctx context.Context, scanID string, fc *geojson.FeatureCollection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := export.Marshal(fc)
	if err != nil {
		return err
	}

	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	path := s.Path(scanID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// WriterSink writes each document followed by a newline to W
type WriterSink struct {
	W io.Writer
}

// NewWriterSink creates a WriterSink
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{W: w}
}

// Write implements Sink
func (s *WriterSink) Write(ctx context.Context, scanID string, fc *geojson.FeatureCollection) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := export.Marshal(fc)
	if err != nil {
		return err
	}
	if _, err := s.W.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write scan %s: %w", scanID, err)
	}
	return nil
}
