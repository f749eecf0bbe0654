package reader

import (
	"context"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/go-spatial/geom"
	"github.com/paulmach/osm"
	"github.com/paulmach/osm/osmpbf"
	"github.com/paulmach/osm/osmxml"
)

// Metadata keynames follow the common osm_* convention of OSM tooling,
// so they never collide with tags.
const (
	osmVersionField   = `osm_version`
	osmTimestampField = `osm_timestamp`
	osmUIDField       = `osm_uid`
	osmUserField      = `osm_user`
)

type osmDriver struct {
	pbf bool
}

func (d osmDriver) Name() string {
	if d.pbf {
		return "OSM PBF"
	}
	return "OSM XML"
}

// id, type and members are always top-level columns for OSM streams.
func (osmDriver) CoreFields() []string { return []string{"id", "type", "members"} }

type osmScanner interface {
	Scan() bool
	Object() osm.Object
	Err() error
	Close() error
}

func (d osmDriver) Open(ctx context.Context, path string, opts Options) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	var scanner osmScanner
	if d.pbf {
		scanner = osmpbf.New(ctx, f, 1)
	} else {
		scanner = osmxml.New(ctx, f)
	}
	return &osmSource{
		path:    path,
		driver:  d.Name(),
		file:    f,
		scanner: scanner,
		locs:    map[osm.NodeID][2]float64{},
		opts:    opts,
	}, nil
}

type osmSource struct {
	path    string
	driver  string
	file    *os.File
	scanner osmScanner
	// node locations seen so far, for building way linestrings
	locs map[osm.NodeID][2]float64
	opts Options
}

func (s *osmSource) Info() Info { return Info{Driver: s.driver, CRS: "EPSG:4326"} }

func (s *osmSource) Next() (*Feature, error) {
	for s.scanner.Scan() {
		switch o := s.scanner.Object().(type) {
		case *osm.Node:
			return s.nodeFeature(o), nil
		case *osm.Way:
			return s.wayFeature(o), nil
		case *osm.Relation:
			return s.relationFeature(o), nil
		default:
			// bounds, changesets, notes: not features
			continue
		}
	}
	if err := s.scanner.Err(); err != nil {
		return nil, &ParseError{Path: s.path, Err: err}
	}
	return nil, io.EOF
}

func (s *osmSource) Close() error {
	s.scanner.Close()
	return s.file.Close()
}

func (s *osmSource) nodeFeature(n *osm.Node) *Feature {
	s.locs[n.ID] = [2]float64{n.Lon, n.Lat}
	attrs := s.baseAttrs(strconv.FormatInt(int64(n.ID), 10), "node", n.Tags)
	s.metaAttrs(attrs, n.Version, n.Timestamp, n.UserID, n.User)
	return &Feature{Attributes: attrs, Geometry: geom.Point{n.Lon, n.Lat}}
}

func (s *osmSource) wayFeature(w *osm.Way) *Feature {
	attrs := s.baseAttrs(strconv.FormatInt(int64(w.ID), 10), "way", w.Tags)
	s.metaAttrs(attrs, w.Version, w.Timestamp, w.UserID, w.User)

	coords := make([][2]float64, 0, len(w.Nodes))
	for _, wn := range w.Nodes {
		if loc, ok := s.locs[wn.ID]; ok {
			coords = append(coords, loc)
		} else if wn.Lon != 0 || wn.Lat != 0 {
			coords = append(coords, [2]float64{wn.Lon, wn.Lat})
		}
	}
	var g geom.Geometry
	if len(coords) >= 2 {
		g = geom.LineString(coords)
	}
	return &Feature{Attributes: attrs, Geometry: g}
}

// relationFeature collects members and tags; member geometries are not
// assembled.
func (s *osmSource) relationFeature(r *osm.Relation) *Feature {
	attrs := s.baseAttrs(strconv.FormatInt(int64(r.ID), 10), "relation", r.Tags)
	s.metaAttrs(attrs, r.Version, r.Timestamp, r.UserID, r.User)

	members := make([]any, len(r.Members))
	for i, m := range r.Members {
		members[i] = map[string]any{
			"type": string(m.Type),
			"ref":  m.Ref,
			"role": m.Role,
		}
	}
	if !s.opts.skip("members") {
		attrs["members"] = members
	}
	return &Feature{Attributes: attrs}
}

func (s *osmSource) baseAttrs(id, typ string, tags osm.Tags) map[string]any {
	attrs := make(map[string]any, len(tags)+6)
	if !s.opts.skip("id") {
		attrs["id"] = id
	}
	if !s.opts.skip("type") {
		attrs["type"] = typ
	}
	for k, v := range tags.Map() {
		if s.opts.skip(k) {
			continue
		}
		switch k {
		case "id", "type", "members":
			// tags may legitimately carry these names (e.g. type=multipolygon
			// on relations), keep them out of the promoted columns
			attrs["tag_"+k] = v
		default:
			attrs[k] = v
		}
	}
	return attrs
}

func (s *osmSource) metaAttrs(attrs map[string]any, version int, ts time.Time, uid osm.UserID, user string) {
	if s.opts.skip(osmVersionField) || version == 0 {
		// unversioned extracts carry no metadata at all
		return
	}
	attrs[osmVersionField] = int64(version)
	if !ts.IsZero() && !s.opts.skip(osmTimestampField) {
		attrs[osmTimestampField] = ts.UTC().Format(time.RFC3339)
	}
	if !s.opts.skip(osmUIDField) {
		attrs[osmUIDField] = int64(uid)
	}
	if user != "" && !s.opts.skip(osmUserField) {
		attrs[osmUserField] = user
	}
}
