package reader

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"

	"github.com/go-spatial/geom/encoding/geojson"
)

type geoJSONDriver struct{}

func (geoJSONDriver) Name() string { return "GeoJSON" }

func (geoJSONDriver) CoreFields() []string { return nil }

func (geoJSONDriver) Open(_ context.Context, path string, opts Options) (Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	features, err := decodeGeoJSON(data)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &geoJSONSource{features: features, opts: opts}, nil
}

// decodeGeoJSON accepts a FeatureCollection or a single Feature document.
func decodeGeoJSON(data []byte) ([]geojson.Feature, error) {
	var collection geojson.FeatureCollection
	err := json.Unmarshal(data, &collection)
	if err == nil && len(collection.Features) > 0 {
		return collection.Features, nil
	}

	var feature geojson.Feature
	if ferr := json.Unmarshal(data, &feature); ferr == nil && feature.Geometry.Geometry != nil {
		return []geojson.Feature{feature}, nil
	}
	if err == nil {
		// a valid but featureless collection
		return nil, nil
	}
	return nil, err
}

type geoJSONSource struct {
	features []geojson.Feature
	opts     Options
	i        int
}

func (s *geoJSONSource) Info() Info { return Info{Driver: "GeoJSON"} }

func (s *geoJSONSource) Next() (*Feature, error) {
	if s.i >= len(s.features) {
		return nil, io.EOF
	}
	f := s.features[s.i]
	s.i++

	attrs := make(map[string]any, len(f.Properties)+1)
	if f.ID != nil {
		attrs["id"] = strconv.FormatUint(*f.ID, 10)
	}
	for k, v := range f.Properties {
		if s.opts.skip(k) {
			continue
		}
		attrs[k] = v
	}
	if s.opts.skip("id") {
		delete(attrs, "id")
	}
	return &Feature{Attributes: attrs, Geometry: f.Geometry.Geometry}, nil
}

func (s *geoJSONSource) Close() error { return nil }
