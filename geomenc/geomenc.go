// Package geomenc converts parsed geometries into the representation
// configured for a stream: well-known text or a GeoJSON geometry object.
package geomenc

import (
	"fmt"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/geojson"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
)

type Format string

const (
	FormatWKT     Format = `wkt`
	FormatGeoJSON Format = `geojson`
)

const maxGeometryInMessage = 120

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatWKT, FormatGeoJSON:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown geometry format %q", s)
	}
}

// GeometryError marks a degenerate or empty geometry. The record carrying it
// is skipped, the rest of the file is not.
type GeometryError struct {
	Reason   string
	Geometry string // truncated textual rendering, for log messages
}

func (e *GeometryError) Error() string {
	if e.Geometry == "" {
		return "geometry: " + e.Reason
	}
	return fmt.Sprintf("geometry: %s: %s", e.Reason, e.Geometry)
}

// Encode returns the given geometry in the requested representation:
// a WKT string or a GeoJSON geometry object. It covers points, lines,
// polygons and their multi-part variants plus collections.
func Encode(g geom.Geometry, format Format) (any, error) {
	if reason, empty := emptyReason(g); empty {
		return nil, &GeometryError{Reason: reason, Geometry: describe(g)}
	}
	switch format {
	case FormatGeoJSON:
		return geojson.Geometry{Geometry: g}, nil
	case FormatWKT:
		s, err := wkt.EncodeString(g)
		if err != nil {
			return nil, &GeometryError{Reason: err.Error(), Geometry: describe(g)}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown geometry format %q", format)
	}
}

//nolint:cyclop
func emptyReason(g geom.Geometry) (string, bool) {
	switch gg := g.(type) {
	case nil:
		return "nil geometry", true
	case geom.Point:
		return "", false
	case geom.MultiPoint:
		if len(gg) == 0 {
			return "empty multipoint", true
		}
	case geom.LineString:
		if len(gg) < 2 {
			return "linestring with fewer than 2 points", true
		}
	case geom.MultiLineString:
		if len(gg) == 0 {
			return "empty multilinestring", true
		}
		for _, ls := range gg {
			if len(ls) < 2 {
				return "multilinestring member with fewer than 2 points", true
			}
		}
	case geom.Polygon:
		if len(gg) == 0 {
			return "polygon without rings", true
		}
		for _, ring := range gg {
			if len(ring) < 3 {
				return "polygon ring with fewer than 3 points", true
			}
		}
	case geom.MultiPolygon:
		if len(gg) == 0 {
			return "empty multipolygon", true
		}
		for _, p := range gg {
			if reason, empty := emptyReason(geom.Polygon(p)); empty {
				return reason, true
			}
		}
	case geom.Collection:
		if len(gg) == 0 {
			return "empty collection", true
		}
		for _, member := range gg {
			if reason, empty := emptyReason(member); empty {
				return reason, true
			}
		}
	default:
		return fmt.Sprintf("unsupported geometry type %T", g), true
	}
	return "", false
}

func describe(g geom.Geometry) string {
	if g == nil {
		return ""
	}
	return truncate.StringWithTail(fmt.Sprintf("%v", g), maxGeometryInMessage, "...")
}
