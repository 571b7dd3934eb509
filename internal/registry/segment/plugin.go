package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrUnsupportedFormat indicates the file's extension has no extractor.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ErrEmptyContent indicates extraction produced no usable text.
var ErrEmptyContent = errors.New("document contains no extractable text")

// Segment is one chunk of extracted document text.
type Segment struct {
	Index int
	Text  string
}

// Segmenter extracts text from an uploaded document and splits it into
// overlapping segments suitable for embedding.
type Segmenter interface {
	// Supports reports whether the filename's extension can be segmented.
	Supports(filename string) bool
	// Segment extracts and chunks the document text.
	Segment(ctx context.Context, filename string, r io.Reader) ([]Segment, error)
}

// Loader creates a Segmenter from config.
type Loader func(ctx context.Context) (Segmenter, error)

// Plugin represents a segmenter plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a segmenter plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered segmenter plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named segmenter plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown segmenter %q; valid: %v", name, Names())
}
