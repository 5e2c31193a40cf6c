package registry

import (
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strings"

	"github.com/itsneelabh/bloxgate/core"
)

// Property types understood by the validator. The semantic types "cidr" and
// "ip" validate content, not just shape, and render as strings with a format
// hint in the published schema.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
	TypeCIDR    = "cidr"
	TypeIP      = "ip"
)

// Property describes one tool argument.
type Property struct {
	Type        string
	Description string
	Required    bool
	Default     interface{}
	Enum        []string
	Minimum     *float64
	Maximum     *float64
}

// Schema is the input contract of a tool.
type Schema struct {
	Properties map[string]Property
}

// NewSchema builds a schema from a property map.
func NewSchema(props map[string]Property) *Schema {
	return &Schema{Properties: props}
}

// Validate checks args against the schema and returns a copy with defaults
// applied. Unknown fields are rejected so typos fail loudly instead of being
// silently ignored. All failures wrap core.ErrSchemaViolation.
func (s *Schema) Validate(args map[string]interface{}) (map[string]interface{}, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	for name := range args {
		if _, ok := s.Properties[name]; !ok {
			return nil, fmt.Errorf("%w: unknown argument %q", core.ErrSchemaViolation, name)
		}
	}

	out := make(map[string]interface{}, len(s.Properties))
	for name, prop := range s.Properties {
		value, present := args[name]
		if !present {
			if prop.Required {
				return nil, fmt.Errorf("%w: missing required argument %q", core.ErrSchemaViolation, name)
			}
			if prop.Default != nil {
				out[name] = prop.Default
			}
			continue
		}
		checked, err := checkValue(name, prop, value)
		if err != nil {
			return nil, err
		}
		out[name] = checked
	}
	return out, nil
}

func checkValue(name string, prop Property, value interface{}) (interface{}, error) {
	fail := func(format string, a ...interface{}) error {
		return fmt.Errorf("%w: argument %q: %s", core.ErrSchemaViolation, name, fmt.Sprintf(format, a...))
	}

	switch prop.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return nil, fail("expected string, got %T", value)
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, str) {
			return nil, fail("value %q not in %v", str, prop.Enum)
		}
		return str, nil

	case TypeInteger:
		f, ok := value.(float64)
		if !ok {
			if n, isInt := value.(int); isInt {
				f, ok = float64(n), true
			}
		}
		if !ok || f != math.Trunc(f) {
			return nil, fail("expected integer, got %v", value)
		}
		if prop.Minimum != nil && f < *prop.Minimum {
			return nil, fail("value %v below minimum %v", f, *prop.Minimum)
		}
		if prop.Maximum != nil && f > *prop.Maximum {
			return nil, fail("value %v above maximum %v", f, *prop.Maximum)
		}
		return int(f), nil

	case TypeNumber:
		f, ok := value.(float64)
		if !ok {
			return nil, fail("expected number, got %T", value)
		}
		if prop.Minimum != nil && f < *prop.Minimum {
			return nil, fail("value %v below minimum %v", f, *prop.Minimum)
		}
		if prop.Maximum != nil && f > *prop.Maximum {
			return nil, fail("value %v above maximum %v", f, *prop.Maximum)
		}
		return f, nil

	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fail("expected boolean, got %T", value)
		}
		return b, nil

	case TypeObject:
		m, ok := value.(map[string]interface{})
		if !ok {
			return nil, fail("expected object, got %T", value)
		}
		return m, nil

	case TypeArray:
		a, ok := value.([]interface{})
		if !ok {
			return nil, fail("expected array, got %T", value)
		}
		return a, nil

	case TypeCIDR:
		str, ok := value.(string)
		if !ok {
			return nil, fail("expected CIDR string, got %T", value)
		}
		if _, err := netip.ParsePrefix(str); err != nil {
			return nil, fail("invalid CIDR %q", str)
		}
		return str, nil

	case TypeIP:
		str, ok := value.(string)
		if !ok {
			return nil, fail("expected IP address string, got %T", value)
		}
		if _, err := netip.ParseAddr(str); err != nil {
			return nil, fail("invalid IP address %q", str)
		}
		return str, nil
	}

	return nil, fail("unsupported property type %q", prop.Type)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// JSONSchema renders the schema as a JSON Schema document for list_tools.
// Semantic types publish as strings with a format hint.
func (s *Schema) JSONSchema() map[string]interface{} {
	props := make(map[string]interface{}, len(s.Properties))
	var required []string

	for name, prop := range s.Properties {
		p := map[string]interface{}{}
		switch prop.Type {
		case TypeCIDR:
			p["type"] = "string"
			p["format"] = "cidr"
		case TypeIP:
			p["type"] = "string"
			p["format"] = "ip-address"
		default:
			p["type"] = prop.Type
		}
		if prop.Description != "" {
			p["description"] = prop.Description
		}
		if len(prop.Enum) > 0 {
			p["enum"] = prop.Enum
		}
		if prop.Default != nil {
			p["default"] = prop.Default
		}
		if prop.Minimum != nil {
			p["minimum"] = *prop.Minimum
		}
		if prop.Maximum != nil {
			p["maximum"] = *prop.Maximum
		}
		props[name] = p
		if prop.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	doc := map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// MinMax helpers for schema literals.
func Min(v float64) *float64 { return &v }
func Max(v float64) *float64 { return &v }

// DescribeEnum formats an enum for a description suffix.
func DescribeEnum(values []string) string {
	return "one of: " + strings.Join(values, ", ")
}
