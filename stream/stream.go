// Package stream turns one configured file group into one record stream:
// it resolves the group's globs, reads each file, encodes geometry and
// emits records with the group's table name and primary keys.
package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/celine-eu/tap-geo/config"
	"github.com/celine-eu/tap-geo/geomenc"
	"github.com/celine-eu/tap-geo/reader"
	"github.com/celine-eu/tap-geo/singer"
)

// recordFields can never be promoted to columns, they are the record
// structure itself.
var recordFields = []string{"geometry", "features", "metadata", singer.SDCLastModified, singer.SDCFilename}

type Stream struct {
	group  config.FileGroup
	format geomenc.Format
	log    *slog.Logger
}

func New(group config.FileGroup, log *slog.Logger) (*Stream, error) {
	format, err := geomenc.ParseFormat(group.GeometryFormat)
	if err != nil {
		return nil, &config.Error{Msg: "group " + group.TableName, Err: err}
	}
	return &Stream{
		group:  group,
		format: format,
		log:    log.With("stream", group.TableName),
	}, nil
}

func (s *Stream) Name() string { return s.group.TableName }

func (s *Stream) KeyProperties() []string { return s.group.PrimaryKeys }

// exposed returns the promoted column names: configured expose fields plus
// the primary keys, record structure fields excluded.
func (s *Stream) exposed() []string {
	fields := make([]string, 0, len(s.group.ExposeFields)+len(s.group.PrimaryKeys))
	for _, f := range append(append([]string{}, s.group.ExposeFields...), s.group.PrimaryKeys...) {
		if slices.Contains(recordFields, f) || slices.Contains(fields, f) {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

func (s *Stream) readerOptions() reader.Options {
	return reader.Options{SkipFields: reader.SkipSet(s.group.SkipFields)}
}

// Discover resolves the group and infers the stream schema from the first
// feature of the first readable file. A group matching no files is still
// declared, with its base schema.
func (s *Stream) Discover(ctx context.Context) (*singer.Schema, error) {
	files, err := Resolve(s.group)
	if err != nil {
		return nil, err
	}
	return s.inferSchema(ctx, files), nil
}

func (s *Stream) inferSchema(ctx context.Context, files []string) *singer.Schema {
	for _, path := range files {
		drv, err := reader.ForPath(path)
		if err != nil {
			continue
		}
		src, err := drv.Open(ctx, path, s.readerOptions())
		if err != nil {
			s.log.Warn("could not open file for schema detection", "path", path, "error", err)
			continue
		}
		sample, err := src.Next()
		src.Close()
		if err != nil {
			continue
		}
		return buildSchema(s.exposed(), drv.CoreFields(), sample)
	}
	return buildSchema(s.exposed(), nil, nil)
}

// Sync emits the stream: one SCHEMA message, the records of every resolved
// file in order, and a STATE message after each completed file. Bad files
// and bad geometries are skipped with a warning, they never abort the group.
func (s *Stream) Sync(ctx context.Context, w *singer.Writer, state *singer.State) error {
	files, err := Resolve(s.group)
	if err != nil {
		return err
	}
	if err := w.Schema(s.Name(), s.inferSchema(ctx, files), s.KeyProperties()); err != nil {
		return err
	}

	var records, skippedFiles, skippedRecords int
	for _, path := range files {
		base := filepath.Base(path)
		fi, err := os.Stat(path)
		if err != nil {
			s.log.Warn("skipping unreadable file", "path", path, "error", err)
			skippedFiles++
			continue
		}
		mtime := fi.ModTime()
		if state.ShouldSkip(s.Name(), base, mtime) {
			s.log.Info("skipping unchanged file", "path", path, "mtime", mtime)
			continue
		}

		count, err := s.syncFile(ctx, w, path, mtime, &skippedRecords)
		records += count
		if err != nil {
			var unsupported *reader.UnsupportedFormatError
			var parseErr *reader.ParseError
			if errors.As(err, &unsupported) || errors.As(err, &parseErr) {
				s.log.Warn("skipping file", "path", path, "error", err)
				skippedFiles++
				continue
			}
			return err
		}

		state.Advance(s.Name(), base, mtime)
		if err := w.State(state); err != nil {
			return err
		}
	}

	s.log.Info("sync complete",
		"files", len(files),
		"records", records,
		"skipped_files", skippedFiles,
		"skipped_records", skippedRecords)
	return nil
}

func (s *Stream) syncFile(ctx context.Context, w *singer.Writer, path string, mtime time.Time, skippedRecords *int) (int, error) {
	drv, err := reader.ForPath(path)
	if err != nil {
		return 0, err
	}
	src, err := drv.Open(ctx, path, s.readerOptions())
	if err != nil {
		return 0, err
	}
	defer src.Close()

	count := 0
	for {
		feature, err := src.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		record, err := s.buildRecord(path, src.Info(), drv.CoreFields(), feature, mtime)
		if err != nil {
			var geomErr *geomenc.GeometryError
			if errors.As(err, &geomErr) {
				s.log.Warn("skipping record with bad geometry", "path", path, "error", err)
				*skippedRecords++
				continue
			}
			return count, err
		}
		if err := w.Record(s.Name(), record); err != nil {
			return count, err
		}
		count++
	}
}

func (s *Stream) buildRecord(path string, info reader.Info, coreFields []string, feature *reader.Feature, mtime time.Time) (map[string]any, error) {
	rest := make(map[string]any, len(feature.Attributes))
	for k, v := range feature.Attributes {
		rest[k] = v
	}

	record := make(map[string]any, len(rest)+8)
	for _, name := range s.exposed() {
		record[name] = popAttr(rest, name)
	}
	for _, name := range coreFields {
		if _, promoted := record[name]; !promoted {
			record[name] = popAttr(rest, name)
		}
	}

	if feature.Geometry != nil {
		encoded, err := geomenc.Encode(feature.Geometry, s.format)
		if err != nil {
			return nil, err
		}
		record["geometry"] = encoded
	} else {
		record["geometry"] = nil
	}

	record["features"] = rest
	record["metadata"] = map[string]any{
		"source": path,
		"driver": info.Driver,
		"crs":    info.CRS,
	}
	record[singer.SDCLastModified] = mtime.UTC().Format(time.RFC3339)
	record[singer.SDCFilename] = filepath.Base(path)
	return record, nil
}

// popAttr removes and returns the attribute matching the column name
// case-insensitively, nil when the feature does not carry it.
func popAttr(attrs map[string]any, name string) any {
	if v, ok := attrs[name]; ok {
		delete(attrs, name)
		return v
	}
	for k, v := range attrs {
		if strings.EqualFold(k, name) {
			delete(attrs, k)
			return v
		}
	}
	return nil
}
