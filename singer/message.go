// Package singer implements the output side of the Singer protocol:
// newline-delimited SCHEMA, RECORD and STATE messages on a stream,
// plus the catalog document for discovery and the state bookmarks.
package singer

import (
	"encoding/json"
	"io"
	"time"
)

// SDCLastModified carries the source file's modification time on every record
// and is the stream's replication key.
const SDCLastModified = `_sdc_last_modified`

// SDCFilename carries the source file's base name on every record.
const SDCFilename = `_sdc_filename`

type schemaMessage struct {
	Type               string   `json:"type"`
	Stream             string   `json:"stream"`
	Schema             *Schema  `json:"schema"`
	KeyProperties      []string `json:"key_properties"`
	BookmarkProperties []string `json:"bookmark_properties,omitempty"`
}

type recordMessage struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream"`
	Record        map[string]any `json:"record"`
	TimeExtracted string         `json:"time_extracted"`
}

type stateMessage struct {
	Type  string `json:"type"`
	Value *State `json:"value"`
}

// Writer emits protocol messages as newline-delimited JSON. Records and state
// go to the same writer, ordinarily stdout.
type Writer struct {
	enc *json.Encoder

	// Now is overridable for tests.
	Now func() time.Time
}

func NewWriter(out io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(out), Now: time.Now}
}

func (w *Writer) Schema(stream string, schema *Schema, keyProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return w.enc.Encode(schemaMessage{
		Type:               "SCHEMA",
		Stream:             stream,
		Schema:             schema,
		KeyProperties:      keyProperties,
		BookmarkProperties: []string{SDCLastModified},
	})
}

func (w *Writer) Record(stream string, record map[string]any) error {
	return w.enc.Encode(recordMessage{
		Type:          "RECORD",
		Stream:        stream,
		Record:        record,
		TimeExtracted: w.Now().UTC().Format(time.RFC3339),
	})
}

func (w *Writer) State(state *State) error {
	return w.enc.Encode(stateMessage{Type: "STATE", Value: state})
}
