package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ParseParams decodes a JSON object into Params. Empty input yields empty Params.
func ParseParams(raw []byte) (Params, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Params{}, nil
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse params: %w", err)
	}
	if p == nil {
		p = Params{}
	}
	return p, nil
}

// String returns params[key] as a string. Missing keys yield "" and false;
// a value of another type is an ExecutionError.
func (p Params) String(key string) (string, bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", false, Errorf("parameter %q must be a string", key)
	}
	return s, true, nil
}

// RequireString returns a non-empty string parameter.
func (p Params) RequireString(key string) (string, error) {
	s, ok, err := p.String(key)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(s) == "" {
		return "", Errorf("parameter %q is required", key)
	}
	return s, nil
}

// Int returns params[key] as an int, accepting JSON numbers and numeric strings.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, Errorf("parameter %q must be an integer", key)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, Errorf("parameter %q must be an integer", key)
		}
		return int(i), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, Errorf("parameter %q must be an integer", key)
		}
		return i, nil
	}
	return 0, Errorf("parameter %q must be an integer", key)
}

// Float returns params[key] as a float64.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, Errorf("parameter %q must be a number", key)
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, Errorf("parameter %q must be a number", key)
		}
		return f, nil
	}
	return 0, Errorf("parameter %q must be a number", key)
}

// Bool returns params[key] as a bool.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, Errorf("parameter %q must be a boolean", key)
		}
		return parsed, nil
	}
	return false, Errorf("parameter %q must be a boolean", key)
}

// Schema lazily compiles a JSON schema describing a tool's parameters.
type Schema struct {
	doc map[string]any

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewSchema wraps a schema document.
func NewSchema(doc map[string]any) *Schema {
	return &Schema{doc: doc}
}

// Document returns the raw schema document.
func (s *Schema) Document() map[string]any {
	return s.doc
}

func (s *Schema) compile() (*jsonschema.Schema, error) {
	s.once.Do(func() {
		doc, err := normalizeJSON(s.doc)
		if err != nil {
			s.err = fmt.Errorf("schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("params.json", doc); err != nil {
			s.err = fmt.Errorf("schema: %w", err)
			return
		}
		s.compiled, s.err = c.Compile("params.json")
	})
	return s.compiled, s.err
}

// Validate checks params against the schema and reports violations as an
// ExecutionError.
func (s *Schema) Validate(params Params) error {
	sch, err := s.compile()
	if err != nil {
		return Errorf("%w", err)
	}
	if params == nil {
		params = Params{}
	}
	v, err := normalizeJSON(params)
	if err != nil {
		return Errorf("parameters are not valid JSON: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return Errorf("invalid parameters: %w", err)
	}
	return nil
}

// normalizeJSON round-trips v so the validator sees plain decoded JSON values.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}
