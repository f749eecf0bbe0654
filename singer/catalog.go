package singer

import (
	"encoding/json"
	"io"
	"os"
)

// Catalog describes the discoverable streams and carries stream selection
// back in on sync.
type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

type CatalogEntry struct {
	TapStreamID       string     `json:"tap_stream_id"`
	Stream            string     `json:"stream"`
	Schema            *Schema    `json:"schema"`
	KeyProperties     []string   `json:"key_properties,omitempty"`
	ReplicationKey    string     `json:"replication_key,omitempty"`
	ReplicationMethod string     `json:"replication_method,omitempty"`
	Metadata          []Metadata `json:"metadata"`
}

type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   StreamMetadata `json:"metadata"`
}

type StreamMetadata struct {
	Inclusion          string   `json:"inclusion,omitempty"`
	Selected           *bool    `json:"selected,omitempty"`
	SelectedByDefault  bool     `json:"selected-by-default,omitempty"`
	TableKeyProperties []string `json:"table-key-properties,omitempty"`
	ReplicationMethod  string   `json:"forced-replication-method,omitempty"`
	ReplicationKey     string   `json:"replication-key,omitempty"`
}

// NewCatalogEntry assembles the discovery output for one stream.
func NewCatalogEntry(stream string, schema *Schema, keyProperties []string) CatalogEntry {
	return CatalogEntry{
		TapStreamID:       stream,
		Stream:            stream,
		Schema:            schema,
		KeyProperties:     keyProperties,
		ReplicationKey:    SDCLastModified,
		ReplicationMethod: "INCREMENTAL",
		Metadata: []Metadata{{
			Breadcrumb: []string{},
			Metadata: StreamMetadata{
				Inclusion:          "available",
				SelectedByDefault:  true,
				TableKeyProperties: keyProperties,
				ReplicationMethod:  "INCREMENTAL",
				ReplicationKey:     SDCLastModified,
			},
		}},
	}
}

// WriteTo writes the catalog as indented JSON, the shape `--discover` prints.
func (c *Catalog) WriteTo(out io.Writer) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, err = out.Write(append(data, '\n'))
	return err
}

// LoadCatalog reads a catalog document, usually one produced by `--discover`
// and annotated with selection metadata.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var catalog Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}
	return &catalog, nil
}

// IsSelected reports whether the stream should be synced. Streams absent from
// the catalog or without explicit selection metadata are selected.
func (c *Catalog) IsSelected(stream string) bool {
	for _, entry := range c.Streams {
		if entry.TapStreamID != stream {
			continue
		}
		for _, md := range entry.Metadata {
			if len(md.Breadcrumb) != 0 {
				continue
			}
			if md.Metadata.Selected != nil {
				return *md.Metadata.Selected
			}
			return md.Metadata.SelectedByDefault
		}
	}
	return true
}
