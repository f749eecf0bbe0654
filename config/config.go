// Package config holds the tap settings: a list of file groups, each mapping
// glob patterns to one output stream.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/iancoleman/strcase"
	"github.com/perimeterx/marshmallow"
)

// EnvMarker makes Load read the settings JSON from the environment
// instead of a file.
const EnvMarker = `ENV`

// EnvVar is the environment variable read when the EnvMarker is given.
const EnvVar = `TAP_GEO_CONFIG`

// Error is a fatal configuration error. It aborts the run before any
// protocol output is produced.
type Error struct {
	Msg string
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %s", e.Msg, e.Err)
	}
	return "config: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// FileGroup maps a set of glob patterns to one output stream.
type FileGroup struct {
	// Glob patterns, ** is supported for recursive matching
	Paths []string `json:"paths" validate:"required,min=1"`
	// Stream name, derived from the first pattern when empty
	TableName string `json:"table_name"`
	// Field names forming the primary key, promoted to top-level columns
	PrimaryKeys []string `json:"primary_keys"`
	// Feature properties dropped before anything leaves the reader
	SkipFields []string `json:"skip_fields"`
	// Feature properties promoted to top-level columns,
	// all others travel in the features object
	ExposeFields []string `json:"expose_fields"`
	GeometryFormat string `json:"geometry_format" default:"wkt" validate:"oneof=wkt geojson"`
}

// Config is the full settings object, built once at startup and passed by
// value into each component.
type Config struct {
	Files []FileGroup `json:"files" validate:"required,min=1,dive"`
	// Settings owned by the hosting pipeline (stream maps, flattening,
	// batch encoding), tolerated and carried along unmodified.
	Extra map[string]any `json:"-"`
}

func (c *Config) UnmarshalJSON(data []byte) error {
	extra, err := marshmallow.Unmarshal(data, c, marshmallow.WithExcludeKnownFieldsFromMap(true))
	if err != nil {
		return &Error{Msg: "could not parse settings", Err: err}
	}
	c.Extra = extra

	for i := range c.Files {
		if err := defaults.Set(&c.Files[i]); err != nil {
			return &Error{Msg: "could not apply defaults", Err: err}
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return &Error{Msg: "invalid settings", Err: err}
	}

	seen := make(map[string]struct{}, len(c.Files))
	for i := range c.Files {
		group := &c.Files[i]
		group.normalize()
		if _, dup := seen[group.TableName]; dup {
			return &Error{Msg: fmt.Sprintf("duplicate table_name %q", group.TableName)}
		}
		seen[group.TableName] = struct{}{}
	}
	return nil
}

func (g *FileGroup) normalize() {
	if g.TableName == "" {
		g.TableName = deriveTableName(g.Paths[0])
	}
	g.PrimaryKeys = lowered(g.PrimaryKeys)
	g.ExposeFields = lowered(g.ExposeFields)
}

func lowered(fields []string) []string {
	l := make([]string, len(fields))
	for i, f := range fields {
		l[i] = strings.ToLower(f)
	}
	return l
}

// deriveTableName turns the first pattern's filename stem into a stream name.
// Glob metacharacters are stripped so "data/*.geojson" becomes usable.
func deriveTableName(pattern string) string {
	base := filepath.Base(pattern)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.Map(func(r rune) rune {
		switch r {
		case '*', '?', '[', ']', '{', '}', '!':
			return -1
		}
		return r
	}, stem)
	name := strcase.ToSnake(strings.Trim(stem, "-_. "))
	if name == "" {
		return "stream"
	}
	return name
}

// Load reads the settings from the given JSON file, or from the TAP_GEO_CONFIG
// environment variable when the ENV marker is given.
func Load(pathOrMarker string) (Config, error) {
	var cfg Config
	var data []byte
	if pathOrMarker == EnvMarker {
		raw := os.Getenv(EnvVar)
		if raw == "" {
			return cfg, &Error{Msg: EnvVar + " is empty"}
		}
		data = []byte(raw)
	} else {
		var err error
		data, err = os.ReadFile(pathOrMarker)
		if err != nil {
			return cfg, &Error{Msg: "could not read settings file", Err: err}
		}
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		var cfgErr *Error
		if errors.As(err, &cfgErr) {
			return cfg, cfgErr
		}
		return cfg, &Error{Msg: "could not parse settings", Err: err}
	}
	return cfg, nil
}
