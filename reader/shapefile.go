package reader

import (
	"context"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"
	shp "github.com/jonas-p/go-shp"
)

type shapefileDriver struct{}

func (shapefileDriver) Name() string { return "ESRI Shapefile" }

func (shapefileDriver) CoreFields() []string { return nil }

func (shapefileDriver) Open(_ context.Context, path string, opts Options) (Source, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &shapefileSource{
		path:   path,
		r:      r,
		fields: r.Fields(),
		crs:    readPrjSidecar(path),
		opts:   opts,
	}, nil
}

// readPrjSidecar returns the CRS definition from the .prj companion file,
// empty when there is none.
func readPrjSidecar(path string) string {
	prj := strings.TrimSuffix(path, ".shp") + ".prj"
	data, err := os.ReadFile(prj)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

type shapefileSource struct {
	path   string
	r      *shp.Reader
	fields []shp.Field
	crs    string
	opts   Options
}

func (s *shapefileSource) Info() Info { return Info{Driver: "ESRI Shapefile", CRS: s.crs} }

func (s *shapefileSource) Next() (*Feature, error) {
	if !s.r.Next() {
		if err := s.r.Err(); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ParseError{Path: s.path, Err: err}
		}
		return nil, io.EOF
	}
	row, shape := s.r.Shape()

	attrs := make(map[string]any, len(s.fields))
	for i, field := range s.fields {
		name := field.String()
		if s.opts.skip(name) {
			continue
		}
		attrs[name] = dbfValue(field, s.r.ReadAttribute(row, i))
	}
	return &Feature{Attributes: attrs, Geometry: shapeGeometry(shape)}, nil
}

func (s *shapefileSource) Close() error { return s.r.Close() }

// dbfValue converts a DBF attribute to a typed value using the field
// descriptor: N without decimals -> integer, N/F -> float, L -> bool.
// Dates (D, YYYYMMDD) stay strings.
func dbfValue(field shp.Field, raw string) any {
	raw = strings.Trim(raw, " \t\x00")
	if raw == "" {
		return nil
	}
	switch field.Fieldtype {
	case 'N':
		if field.Precision == 0 && !strings.Contains(raw, ".") {
			if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return i
			}
		}
		fallthrough
	case 'F':
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return raw
	case 'L':
		switch raw {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	default:
		return raw
	}
}

//nolint:cyclop
func shapeGeometry(shape shp.Shape) geom.Geometry {
	switch sh := shape.(type) {
	case *shp.Point:
		return geom.Point{sh.X, sh.Y}
	case *shp.PointZ:
		return geom.Point{sh.X, sh.Y}
	case *shp.PointM:
		return geom.Point{sh.X, sh.Y}
	case *shp.MultiPoint:
		return geom.MultiPoint(pointsToCoords(sh.Points))
	case *shp.MultiPointZ:
		return geom.MultiPoint(pointsToCoords(sh.Points))
	case *shp.MultiPointM:
		return geom.MultiPoint(pointsToCoords(sh.Points))
	case *shp.PolyLine:
		return linesGeometry(splitParts(sh.Parts, sh.Points))
	case *shp.PolyLineZ:
		return linesGeometry(splitParts(sh.Parts, sh.Points))
	case *shp.PolyLineM:
		return linesGeometry(splitParts(sh.Parts, sh.Points))
	case *shp.Polygon:
		return ringsGeometry(splitParts(sh.Parts, sh.Points))
	case *shp.PolygonZ:
		return ringsGeometry(splitParts(sh.Parts, sh.Points))
	case *shp.PolygonM:
		return ringsGeometry(splitParts(sh.Parts, sh.Points))
	default:
		// Null shapes and exotic types carry no usable geometry
		return nil
	}
}

func pointsToCoords(points []shp.Point) [][2]float64 {
	coords := make([][2]float64, len(points))
	for i, p := range points {
		coords[i] = [2]float64{p.X, p.Y}
	}
	return coords
}

func splitParts(parts []int32, points []shp.Point) [][][2]float64 {
	if len(parts) == 0 {
		parts = []int32{0}
	}
	split := make([][][2]float64, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		split = append(split, pointsToCoords(points[start:end]))
	}
	return split
}

func linesGeometry(lines [][][2]float64) geom.Geometry {
	if len(lines) == 1 {
		return geom.LineString(lines[0])
	}
	return geom.MultiLineString(lines)
}

// ringsGeometry groups shapefile rings into polygons. Outer rings are wound
// clockwise per the shapefile spec; a counter-clockwise ring is a hole in the
// preceding outer ring.
func ringsGeometry(rings [][][2]float64) geom.Geometry {
	var polygons []geom.Polygon
	for _, ring := range rings {
		ring = dropClosingPoint(ring)
		if signedArea(ring) <= 0 || len(polygons) == 0 {
			// clockwise -> negative shoelace sum -> outer ring
			polygons = append(polygons, geom.Polygon{ring})
			continue
		}
		polygons[len(polygons)-1] = append(polygons[len(polygons)-1], ring)
	}
	if len(polygons) == 1 {
		return polygons[0]
	}
	multi := make(geom.MultiPolygon, len(polygons))
	for i, p := range polygons {
		multi[i] = p
	}
	return multi
}

// dropClosingPoint removes the duplicated first point that closes a
// shapefile ring; geom rings are implicitly closed.
func dropClosingPoint(ring [][2]float64) [][2]float64 {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}
	return ring
}

func signedArea(pts [][2]float64) float64 {
	if len(pts) == 0 {
		return 0
	}
	// positive for counter-clockwise rings
	sum := 0.
	p0 := pts[len(pts)-1]
	for _, p1 := range pts {
		sum += p0[0]*p1[1] - p1[0]*p0[1]
		p0 = p1
	}
	return sum / 2
}
