package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celine-eu/tap-geo/config"
	"github.com/celine-eu/tap-geo/singer"
	"github.com/celine-eu/tap-geo/slicehelp"
)

const twoPointCollection = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [4.89, 52.37]},
			"properties": {"id": 1, "name": "Amsterdam", "internal": "x"}
		},
		{
			"type": "Feature",
			"geometry": {"type": "Point", "coordinates": [4.47, 51.92]},
			"properties": {"id": 2, "name": "Rotterdam", "internal": "y"}
		}
	]
}`

func testLogger(out io.Writer) *slog.Logger {
	if out == nil {
		out = io.Discard
	}
	return slog.New(slog.NewTextHandler(out, nil))
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type message struct {
	Type   string         `json:"type"`
	Stream string         `json:"stream"`
	Record map[string]any `json:"record"`
	Schema struct {
		Properties map[string]any `json:"properties"`
	} `json:"schema"`
	KeyProperties []string `json:"key_properties"`
}

func runSync(t *testing.T, group config.FileGroup, logs io.Writer) []message {
	t.Helper()
	s, err := New(group, testLogger(logs))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, s.Sync(context.Background(), singer.NewWriter(&out), singer.NewState()))

	var messages []message
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var msg message
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		messages = append(messages, msg)
	}
	return messages
}

func recordsOf(messages []message) []message {
	var records []message
	for _, msg := range messages {
		if msg.Type == "RECORD" {
			records = append(records, msg)
		}
	}
	return records
}

// The original acceptance scenario: one group, one GeoJSON file with two
// point features, WKT geometry, primary key id.
func TestStream_syncBuildings(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.geojson", twoPointCollection)

	group := config.FileGroup{
		Paths:          []string{filepath.Join(dir, "a.geojson")},
		TableName:      "buildings",
		PrimaryKeys:    []string{"id"},
		GeometryFormat: "wkt",
	}
	messages := runSync(t, group, nil)
	require.NotEmpty(t, messages)

	schema := messages[0]
	assert.Equal(t, "SCHEMA", schema.Type)
	assert.Equal(t, "buildings", schema.Stream)
	assert.Equal(t, []string{"id"}, schema.KeyProperties)
	assert.Contains(t, schema.Schema.Properties, "id")
	assert.Contains(t, schema.Schema.Properties, "geometry")

	records := recordsOf(messages)
	require.Len(t, records, 2)
	assert.Equal(t, float64(1), records[0].Record["id"])
	assert.Equal(t, float64(2), records[1].Record["id"])
	for i, record := range records {
		geometry, ok := record.Record["geometry"].(string)
		require.True(t, ok, "record %d geometry is not a WKT string: %v", i, record.Record["geometry"])
		assert.True(t, strings.HasPrefix(geometry, "POINT "), "geometry %q is not a point", geometry)
		features, ok := record.Record["features"].(map[string]any)
		require.True(t, ok)
		assert.Contains(t, features, "name")
		assert.NotContains(t, features, "id", "promoted fields leave the features object")
	}

	last := messages[len(messages)-1]
	assert.Equal(t, "STATE", last.Type)
}

// Switching the geometry format only changes the geometry field.
func TestStream_geometryFormatSwitch(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.geojson", twoPointCollection)
	paths := []string{filepath.Join(dir, "a.geojson")}

	wktRecords := recordsOf(runSync(t, config.FileGroup{
		Paths: paths, TableName: "wkt_side", GeometryFormat: "wkt",
	}, nil))
	geojsonRecords := recordsOf(runSync(t, config.FileGroup{
		Paths: paths, TableName: "geojson_side", GeometryFormat: "geojson",
	}, nil))

	require.Len(t, wktRecords, len(geojsonRecords))
	for i := range wktRecords {
		_, isString := wktRecords[i].Record["geometry"].(string)
		assert.True(t, isString)
		geometry, isObject := geojsonRecords[i].Record["geometry"].(map[string]any)
		require.True(t, isObject)
		assert.Equal(t, "Point", geometry["type"])

		delete(wktRecords[i].Record, "geometry")
		delete(geojsonRecords[i].Record, "geometry")
		delete(wktRecords[i].Record, "metadata")
		delete(geojsonRecords[i].Record, "metadata")
		assert.Equal(t, wktRecords[i].Record, geojsonRecords[i].Record)
	}
}

// Skip fields never appear anywhere in the output.
func TestStream_skipFields(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.geojson", twoPointCollection)

	messages := runSync(t, config.FileGroup{
		Paths:          []string{filepath.Join(dir, "a.geojson")},
		TableName:      "clean",
		SkipFields:     []string{"internal"},
		GeometryFormat: "wkt",
	}, nil)

	for _, record := range recordsOf(messages) {
		assert.NotContains(t, record.Record, "internal")
		features := record.Record["features"].(map[string]any)
		assert.NotContains(t, features, "internal")
	}
}

// A group whose globs match nothing is still declared, with zero records.
func TestStream_emptyGroupStillDeclared(t *testing.T) {
	group := config.FileGroup{
		Paths:          []string{filepath.Join(t.TempDir(), "*.geojson")},
		TableName:      "empty",
		GeometryFormat: "wkt",
	}
	messages := runSync(t, group, nil)

	require.Len(t, messages, 1)
	assert.Equal(t, "SCHEMA", messages[0].Type)
	assert.Equal(t, "empty", messages[0].Stream)
	assert.Contains(t, messages[0].Schema.Properties, "geometry")
	assert.Empty(t, recordsOf(messages))
}

// One corrupt file next to a valid one: the run completes, a warning is
// logged, and records come only from the valid file.
func TestStream_corruptFileSkipped(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "bad.geojson", `{"type": "FeatureCollection", "features": [{`)
	writeTestFile(t, dir, "good.geojson", twoPointCollection)

	var logs bytes.Buffer
	messages := runSync(t, config.FileGroup{
		Paths:          []string{filepath.Join(dir, "*.geojson")},
		TableName:      "mixed",
		GeometryFormat: "wkt",
	}, &logs)

	records := recordsOf(messages)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, "good.geojson", record.Record[singer.SDCFilename])
	}
	assert.Contains(t, logs.String(), "skipping file")
}

// Files with unsupported extensions inside the glob are skipped, not fatal.
func TestStream_unsupportedExtensionSkipped(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "notes.txt", "not geodata")
	writeTestFile(t, dir, "good.geojson", twoPointCollection)

	var logs bytes.Buffer
	messages := runSync(t, config.FileGroup{
		Paths:          []string{filepath.Join(dir, "*")},
		TableName:      "mixed_ext",
		GeometryFormat: "wkt",
	}, &logs)

	assert.Len(t, recordsOf(messages), 2)
	assert.Contains(t, logs.String(), "skipping file")
}

// A record with a degenerate geometry is dropped, the rest of the file is
// kept.
func TestStream_degenerateGeometrySkipsRecord(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.geojson", `{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0]]}, "properties": {"id": 1}},
			{"type": "Feature", "geometry": {"type": "Point", "coordinates": [1, 2]}, "properties": {"id": 2}}
		]
	}`)

	var logs bytes.Buffer
	messages := runSync(t, config.FileGroup{
		Paths:          []string{filepath.Join(dir, "a.geojson")},
		TableName:      "partial",
		PrimaryKeys:    []string{"id"},
		GeometryFormat: "wkt",
	}, &logs)

	records := recordsOf(messages)
	require.Len(t, records, 1)
	assert.Equal(t, float64(2), records[0].Record["id"])
	assert.Contains(t, logs.String(), "bad geometry")
}

// Unchanged files are skipped on the next run via the state bookmarks.
func TestStream_stateSkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.geojson", twoPointCollection)

	group := config.FileGroup{
		Paths:          []string{filepath.Join(dir, "a.geojson")},
		TableName:      "bookmarked",
		GeometryFormat: "wkt",
	}
	s, err := New(group, testLogger(nil))
	require.NoError(t, err)

	state := singer.NewState()
	var first bytes.Buffer
	require.NoError(t, s.Sync(context.Background(), singer.NewWriter(&first), state))
	assert.Contains(t, first.String(), `"RECORD"`)

	var second bytes.Buffer
	require.NoError(t, s.Sync(context.Background(), singer.NewWriter(&second), state))
	assert.NotContains(t, second.String(), `"RECORD"`, "unchanged file must not be re-read")
}

func TestStream_discoverSchemaOrder(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.geojson", twoPointCollection)

	s, err := New(config.FileGroup{
		Paths:          []string{filepath.Join(dir, "a.geojson")},
		TableName:      "ordered",
		PrimaryKeys:    []string{"id"},
		ExposeFields:   []string{"name"},
		GeometryFormat: "wkt",
	}, testLogger(nil))
	require.NoError(t, err)

	schema, err := s.Discover(context.Background())
	require.NoError(t, err)

	keys := slicehelp.OrderedMapKeys(schema.Properties)
	assert.Equal(t, []string{
		"name", "id",
		"geometry", "features", "metadata",
		singer.SDCLastModified, singer.SDCFilename,
	}, keys)

	// sampled property types
	idSchema, ok := schema.Properties.Get("id")
	require.True(t, ok)
	assert.Equal(t, []string{"null", "number"}, idSchema.Type)
	nameSchema, ok := schema.Properties.Get("name")
	require.True(t, ok)
	assert.Equal(t, []string{"null", "string"}, nameSchema.Type)
}
