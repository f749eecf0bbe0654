// Package reader parses geospatial files into a pull sequence of features.
// A driver is selected by file extension; each driver yields attribute maps
// plus a raw geometry, with skip fields already removed.
package reader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-spatial/geom"
)

// Feature is one parsed record: its attributes and its raw geometry.
// Geometry is nil when the source feature carries none.
type Feature struct {
	Attributes map[string]any
	Geometry   geom.Geometry
}

// Info describes the opened file for record metadata.
type Info struct {
	Driver string
	CRS    string
}

// Source iterates the features of one opened file. Next returns io.EOF when
// the file is exhausted. A file is re-read by opening a new Source.
type Source interface {
	Info() Info
	Next() (*Feature, error)
	Close() error
}

// Driver opens files of one format.
type Driver interface {
	Name() string
	// CoreFields are attributes promoted to top-level record columns
	// regardless of configuration (e.g. OSM id/type/members).
	CoreFields() []string
	Open(ctx context.Context, path string, opts Options) (Source, error)
}

type Options struct {
	// SkipFields are dropped from attributes before they leave the reader.
	SkipFields map[string]struct{}
}

// SkipSet builds Options.SkipFields from configured field names.
func SkipSet(fields []string) map[string]struct{} {
	if len(fields) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return set
}

func (o Options) skip(field string) bool {
	_, ok := o.SkipFields[strings.ToLower(field)]
	return ok
}

// UnsupportedFormatError marks a file whose extension no driver handles.
// The file is skipped with a warning.
type UnsupportedFormatError struct {
	Path string
	Ext  string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file format %q: %s", e.Ext, e.Path)
}

// ParseError marks a malformed file. The file is skipped with a warning and
// the rest of the group continues.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s: %s", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ForPath selects a driver by the path's extension.
func ForPath(path string) (Driver, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".geojson", ".json":
		return geoJSONDriver{}, nil
	case ".shp":
		return shapefileDriver{}, nil
	case ".gpkg":
		return geopackageDriver{}, nil
	case ".osm":
		return osmDriver{}, nil
	case ".pbf":
		return osmDriver{pbf: true}, nil
	case ".xml":
		// .osm.xml is common for planet extracts
		if strings.HasSuffix(strings.ToLower(path), ".osm.xml") {
			return osmDriver{}, nil
		}
	}
	return nil, &UnsupportedFormatError{Path: path, Ext: ext}
}
