package mcp

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
)

// toSchema converts an input schema as received over the wire
func toSchema(raw any) (*jsonschema.Schema, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case *jsonschema.Schema:
		return v, nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal input schema")
	}
	return &schema, nil
}

// coerceArguments converts string values produced by the plan parser into the
// types declared by the input schema and validates the result
func coerceArguments(rawSchema any, args map[string]any) (map[string]any, error) {
	schema, err := toSchema(rawSchema)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return args, nil
	}

	coerced, err := coerceValue(schema, args)
	if err != nil {
		return nil, err
	}
	out, ok := coerced.(map[string]any)
	if !ok {
		return nil, goerr.New("arguments are not an object")
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve input schema")
	}
	if err := resolved.Validate(out); err != nil {
		return nil, goerr.Wrap(err, "arguments do not match input schema")
	}

	return out, nil
}

func coerceValue(schema *jsonschema.Schema, value any) (any, error) {
	if schema == nil {
		return value, nil
	}

	switch schemaType(schema) {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			s, isString := value.(string)
			if !isString {
				return value, nil
			}
			if err := json.Unmarshal([]byte(s), &obj); err != nil {
				return nil, goerr.Wrap(err, "expected object", goerr.V("value", s))
			}
		}

		out := make(map[string]any, len(obj))
		for key, v := range obj {
			c, err := coerceValue(schema.Properties[key], v)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid property", goerr.V("property", key))
			}
			out[key] = c
		}
		return out, nil

	case "array":
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			arr = nil
			for _, part := range strings.Split(s, ",") {
				arr = append(arr, strings.TrimSpace(part))
			}
		}
		for i, v := range arr {
			c, err := coerceValue(schema.Items, v)
			if err != nil {
				return nil, goerr.Wrap(err, "invalid item", goerr.V("index", i))
			}
			arr[i] = c
		}
		return arr, nil

	case "integer", "number":
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, goerr.Wrap(err, "expected number", goerr.V("value", s))
		}
		return n, nil

	case "boolean":
		s, ok := value.(string)
		if !ok {
			return value, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, goerr.Wrap(err, "expected boolean", goerr.V("value", s))
		}
		return b, nil

	case "string":
		switch v := value.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case bool:
			return strconv.FormatBool(v), nil
		}
	}

	return value, nil
}

func schemaType(schema *jsonschema.Schema) string {
	if schema.Type != "" {
		return schema.Type
	}
	for _, t := range schema.Types {
		if t != "null" {
			return t
		}
	}
	if len(schema.Properties) > 0 {
		return "object"
	}
	return ""
}
