package geomenc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_wkt(t *testing.T) {
	tests := []struct {
		name       string
		geometry   geom.Geometry
		wantPrefix string
	}{
		{
			name:       "point",
			geometry:   geom.Point{4.89, 52.37},
			wantPrefix: "POINT ",
		},
		{
			name:       "multipoint",
			geometry:   geom.MultiPoint{{1, 2}, {3, 4}},
			wantPrefix: "MULTIPOINT ",
		},
		{
			name:       "linestring",
			geometry:   geom.LineString{{0, 0}, {1, 1}, {2, 0}},
			wantPrefix: "LINESTRING ",
		},
		{
			name:       "polygon",
			geometry:   geom.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}}},
			wantPrefix: "POLYGON ",
		},
		{
			name:       "multipolygon",
			geometry:   geom.MultiPolygon{{{{0, 0}, {2, 0}, {2, 2}, {0, 2}}}},
			wantPrefix: "MULTIPOLYGON ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.geometry, FormatWKT)
			require.NoError(t, err)
			require.IsType(t, "", got)
			assert.True(t, strings.HasPrefix(got.(string), tt.wantPrefix),
				"Encode(...) = %v, want prefix %v", got, tt.wantPrefix)
		})
	}
}

// Encoding to WKT and decoding again must reproduce the geometry within
// floating-point tolerance.
func TestEncode_wktRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		geometry geom.Geometry
	}{
		{"point", geom.Point{4.891234, 52.370001}},
		{"linestring", geom.LineString{{0.1, 0.2}, {1.5, 1.25}}},
		{"polygon", geom.Polygon{{{0, 0}, {4, 0}, {4, 4}, {0, 4}}}},
		{"multilinestring", geom.MultiLineString{{{0, 0}, {1, 1}}, {{2, 2}, {3, 3}}}},
		{"multipolygon", geom.MultiPolygon{{{{0, 0}, {2, 0}, {2, 2}, {0, 2}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.geometry, FormatWKT)
			require.NoError(t, err)

			decoded, err := wkt.DecodeString(encoded.(string))
			require.NoError(t, err)
			assert.InDeltaSlice(t, flatten(tt.geometry), flatten(decoded), 1e-9)
		})
	}
}

func TestEncode_geojson(t *testing.T) {
	got, err := Encode(geom.Point{4.89, 52.37}, FormatGeoJSON)
	require.NoError(t, err)

	data, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "Point", "coordinates": [4.89, 52.37]}`, string(data))
}

func TestEncode_emptyGeometries(t *testing.T) {
	tests := []struct {
		name     string
		geometry geom.Geometry
	}{
		{"nil", nil},
		{"empty multipoint", geom.MultiPoint{}},
		{"degenerate linestring", geom.LineString{{1, 1}}},
		{"polygon without rings", geom.Polygon{}},
		{"degenerate ring", geom.Polygon{{{0, 0}, {1, 1}}}},
		{"empty collection", geom.Collection{}},
		{"collection with empty member", geom.Collection{geom.LineString{}}},
	}
	for _, tt := range tests {
		for _, format := range []Format{FormatWKT, FormatGeoJSON} {
			t.Run(tt.name+"/"+string(format), func(t *testing.T) {
				_, err := Encode(tt.geometry, format)
				var geomErr *GeometryError
				require.ErrorAs(t, err, &geomErr)
			})
		}
	}
}

func TestParseFormat(t *testing.T) {
	for _, valid := range []string{"wkt", "geojson"} {
		_, err := ParseFormat(valid)
		assert.NoError(t, err)
	}
	_, err := ParseFormat("wkb")
	assert.Error(t, err)
}

// flatten collects all coordinates of a geometry in order.
func flatten(g geom.Geometry) []float64 {
	var coords []float64
	switch gg := g.(type) {
	case geom.Point:
		coords = append(coords, gg[0], gg[1])
	case geom.MultiPoint:
		for _, p := range gg {
			coords = append(coords, p[0], p[1])
		}
	case geom.LineString:
		for _, p := range gg {
			coords = append(coords, p[0], p[1])
		}
	case geom.MultiLineString:
		for _, ls := range gg {
			coords = append(coords, flatten(geom.LineString(ls))...)
		}
	case geom.Polygon:
		for _, ring := range gg {
			// rings may or may not carry the duplicated closing point
			if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
				ring = ring[:len(ring)-1]
			}
			coords = append(coords, flatten(geom.LineString(ring))...)
		}
	case geom.MultiPolygon:
		for _, p := range gg {
			coords = append(coords, flatten(geom.Polygon(p))...)
		}
	}
	return coords
}
