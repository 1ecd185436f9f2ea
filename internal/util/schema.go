package util

import (
	"encoding/json"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidationError describes one offending field.
type ValidationError struct {
	Field   string `json:"field"`
	Value   any    `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors is every violation found in one value, sorted by field.
type ValidationErrors []*ValidationError

// Error joins all violations.
func (es ValidationErrors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Fields returns the offending field paths.
func (es ValidationErrors) Fields() []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Field
	}
	return out
}

var timeType = reflect.TypeFor[time.Time]()

var forOptions = &jsonschema.ForOptions{
	TypeSchemas: map[reflect.Type]*jsonschema.Schema{
		timeType: {Type: "string", Format: "date-time"},
	},
}

// CreateSchema derives a schema from a Go value's type. Pointer fields become
// nullable, fields without omitempty are required and time.Time maps to a
// date-time string. Field descriptions come from the jsonschema struct tag.
func CreateSchema(structType any) map[string]any {
	t := reflect.TypeOf(structType)
	if t == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	s, err := jsonschema.ForType(t, forOptions)
	if err != nil {
		return map[string]any{}
	}
	out, err := schemaMap(s)
	if err != nil {
		return map[string]any{}
	}
	return out
}

// ValidateValue checks a JSON-decoded value (maps, slices, float64, string,
// bool, nil) against a schema and returns the value with declared defaults
// applied. For objects every offending top-level property is reported in one
// ValidationErrors. The input value is never mutated.
//
// The library treats format as an annotation; date and date-time are
// additionally asserted on top-level string properties.
func ValidateValue(value any, schema map[string]any) (any, error) {
	if schema == nil {
		return value, nil
	}
	root, err := toSchema(schema)
	if err != nil {
		return value, err
	}
	resolved, err := root.Resolve(nil)
	if err != nil {
		return value, fmt.Errorf("resolve schema: %w", err)
	}

	obj, ok := value.(map[string]any)
	if !ok {
		if err := resolved.Validate(value); err != nil {
			return value, ValidationErrors{{Value: value, Message: err.Error()}}
		}
		return value, nil
	}

	out := maps.Clone(obj)
	if out == nil {
		out = map[string]any{}
	}
	if err := resolved.ApplyDefaults(&out); err != nil {
		return value, fmt.Errorf("apply defaults: %w", err)
	}

	errs := validateProperties(out, schema)
	if len(errs) == 0 {
		if err := resolved.Validate(out); err != nil {
			errs = append(errs, &ValidationError{Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return out, errs
	}
	return out, nil
}

// ValidateParameters validates an argument object against an object schema.
func ValidateParameters(params map[string]any, schema map[string]any) error {
	_, err := ValidateValue(params, schema)
	return err
}

// validateProperties checks each top-level property on its own so that
// violations map back to field names.
func validateProperties(obj map[string]any, schema map[string]any) ValidationErrors {
	var errs ValidationErrors
	properties, _ := schema["properties"].(map[string]any)

	for _, req := range toStrings(schema["required"]) {
		if _, ok := obj[req]; !ok {
			errs = append(errs, &ValidationError{Field: req, Message: "required field is missing"})
		}
	}

	closed := false
	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		closed = true
	}

	for name, val := range obj {
		raw, known := properties[name]
		if !known {
			if closed {
				errs = append(errs, &ValidationError{Field: name, Value: val, Message: "unknown field"})
			}
			continue
		}
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if msg := validateProperty(val, prop); msg != "" {
			errs = append(errs, &ValidationError{Field: name, Value: val, Message: msg})
		}
	}
	return errs
}

func validateProperty(val any, prop map[string]any) string {
	s, err := toSchema(prop)
	if err != nil {
		return err.Error()
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return err.Error()
	}
	if err := resolved.Validate(val); err != nil {
		return err.Error()
	}
	if str, ok := val.(string); ok {
		return checkFormat(str, prop["format"])
	}
	return ""
}

func checkFormat(s string, format any) string {
	switch format {
	case "date":
		if _, err := time.Parse(time.DateOnly, s); err != nil {
			return "must be a date (YYYY-MM-DD)"
		}
	case "date-time":
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return "must be an ISO-8601 date-time"
		}
	}
	return ""
}

// toSchema converts a map literal schema into the library's typed form.
func toSchema(m map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return &s, nil
}

func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toStrings(raw any) []string {
	switch t := raw.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
