package stream

import (
	"strings"

	"github.com/celine-eu/tap-geo/reader"
	"github.com/celine-eu/tap-geo/singer"
)

// buildSchema declares the stream's record shape: promoted columns first
// (typed from the sampled first feature), then the driver's core fields,
// then the fixed base: geometry, features, metadata and the _sdc columns.
// The schema is fixed from here on; attribute fields discovered in later
// records travel inside the features object instead of widening it.
func buildSchema(exposed, coreFields []string, sample *reader.Feature) *singer.Schema {
	schema := singer.NewRecordSchema()

	for _, field := range exposed {
		schema.Prop(field, sampledType(sample, field))
	}
	for _, field := range coreFields {
		if schema.HasProp(field) {
			continue
		}
		schema.Prop(field, sampledType(sample, field))
	}

	schema.Prop("geometry", singer.NewSchema("null", "string", "object"))
	schema.Prop("features", singer.NewObjectSchema())
	schema.Prop("metadata", singer.NewObjectSchema())
	dateTime := singer.NewSchema("null", "string")
	dateTime.Format = "date-time"
	schema.Prop(singer.SDCLastModified, dateTime)
	schema.Prop(singer.SDCFilename, singer.NewSchema("null", "string"))
	return schema
}

// sampledType infers a property type from the sampled feature,
// case-insensitively. Unsampled fields stay loosely typed.
func sampledType(sample *reader.Feature, field string) *singer.Schema {
	if sample == nil {
		return anyType()
	}
	for name, value := range sample.Attributes {
		if !strings.EqualFold(name, field) {
			continue
		}
		return inferType(value)
	}
	return anyType()
}

func anyType() *singer.Schema {
	return singer.NewSchema("null", "string", "number", "object")
}

func inferType(value any) *singer.Schema {
	switch value.(type) {
	case nil:
		return anyType()
	case bool:
		return singer.NewSchema("null", "boolean")
	case int, int32, int64:
		return singer.NewSchema("null", "integer")
	case float32, float64:
		return singer.NewSchema("null", "number")
	case string:
		return singer.NewSchema("null", "string")
	case []any:
		arr := singer.NewSchema("null", "array")
		arr.Items = singer.NewObjectSchema()
		return arr
	case map[string]any:
		return singer.NewObjectSchema()
	default:
		return anyType()
	}
}
