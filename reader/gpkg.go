package reader

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-spatial/geom/encoding/gpkg"
)

type geopackageDriver struct{}

func (geopackageDriver) Name() string { return "GPKG" }

func (geopackageDriver) CoreFields() []string { return nil }

func (geopackageDriver) Open(_ context.Context, path string, opts Options) (Source, error) {
	// gpkg.Open creates a fresh sqlite file when the path does not exist
	if _, err := os.Stat(path); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	handle, err := gpkg.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	table, err := firstGeometryTable(handle)
	if err != nil {
		handle.Close()
		return nil, &ParseError{Path: path, Err: err}
	}

	rows, err := handle.Query(table.selectSQL())
	if err != nil {
		handle.Close()
		return nil, &ParseError{Path: path, Err: err}
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		handle.Close()
		return nil, &ParseError{Path: path, Err: err}
	}

	return &geopackageSource{
		path:    path,
		handle:  handle,
		table:   table,
		rows:    rows,
		columns: columns,
		opts:    opts,
	}, nil
}

type gpkgColumn struct {
	cid       int
	name      string
	ctype     string
	notnull   int
	dfltValue *string
	pk        int
}

type gpkgTable struct {
	name    string
	columns []gpkgColumn
	gcolumn string
	srs     string
}

func (t gpkgTable) selectSQL() string {
	var csql []string
	for _, c := range t.columns {
		csql = append(csql, `"`+c.name+`"`)
	}
	return `SELECT ` + strings.Join(csql, `,`) + ` FROM "` + t.name + `";`
}

// firstGeometryTable reads gpkg_geometry_columns and returns the first
// listed feature table. One stream reads one table.
func firstGeometryTable(handle *gpkg.Handle) (gpkgTable, error) {
	var table gpkgTable
	query := `SELECT table_name, column_name, srs_id FROM gpkg_geometry_columns ORDER BY table_name LIMIT 1;`
	var srsID int
	err := handle.QueryRow(query).Scan(&table.name, &table.gcolumn, &srsID)
	if err == sql.ErrNoRows {
		return table, fmt.Errorf("no geometry tables in GeoPackage")
	}
	if err != nil {
		return table, err
	}

	table.columns, err = tableColumns(handle, table.name)
	if err != nil {
		return table, err
	}
	table.srs = spatialReferenceSystem(handle, srsID)
	return table, nil
}

func tableColumns(handle *gpkg.Handle, table string) ([]gpkgColumn, error) {
	rows, err := handle.Query(fmt.Sprintf(`PRAGMA table_info('%v');`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []gpkgColumn
	for rows.Next() {
		var column gpkgColumn
		err := rows.Scan(&column.cid, &column.name, &column.ctype, &column.notnull, &column.dfltValue, &column.pk)
		if err != nil {
			return nil, err
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

// spatialReferenceSystem returns the CRS definition for the given SRS id,
// empty when unknown.
func spatialReferenceSystem(handle *gpkg.Handle, id int) string {
	var definition string
	query := `SELECT definition FROM gpkg_spatial_ref_sys WHERE srs_id = %v;`
	if err := handle.QueryRow(fmt.Sprintf(query, id)).Scan(&definition); err != nil {
		return ""
	}
	return definition
}

type geopackageSource struct {
	path    string
	handle  *gpkg.Handle
	table   gpkgTable
	rows    *sql.Rows
	columns []string
	opts    Options
}

func (s *geopackageSource) Info() Info { return Info{Driver: "GPKG", CRS: s.table.srs} }

func (s *geopackageSource) Next() (*Feature, error) {
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			return nil, &ParseError{Path: s.path, Err: err}
		}
		return nil, io.EOF
	}

	vals := make([]any, len(s.columns))
	valPtrs := make([]any, len(s.columns))
	for i := range s.columns {
		valPtrs[i] = &vals[i]
	}
	if err := s.rows.Scan(valPtrs...); err != nil {
		return nil, &ParseError{Path: s.path, Err: err}
	}

	feature := &Feature{Attributes: make(map[string]any, len(s.columns))}
	for i, name := range s.columns {
		if name == s.table.gcolumn {
			blob, ok := vals[i].([]byte)
			if !ok {
				continue
			}
			decoded, err := gpkg.DecodeGeometry(blob)
			if err != nil {
				return nil, &ParseError{Path: s.path, Err: fmt.Errorf("decoding geometry: %w", err)}
			}
			feature.Geometry = decoded.Geometry
			continue
		}
		if s.opts.skip(name) {
			continue
		}
		feature.Attributes[name] = sqliteValue(vals[i])
	}
	return feature, nil
}

func (s *geopackageSource) Close() error {
	s.rows.Close()
	return s.handle.Close()
}

func sqliteValue(v any) any {
	switch v := v.(type) {
	case []uint8:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		// int64, float64, string and nil pass through
		return v
	}
}
