// Package schema handles the JSON schemas used for structured output and
// function declarations.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidOutput = errors.New("output does not match schema")

// Lower rewrites Gemini style type names ("OBJECT", "STRING") to the
// lowercase JSON Schema spelling. Invalid JSON yields nil.
func Lower(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	var walk func(any)
	walk = func(n any) {
		switch t := n.(type) {
		case map[string]any:
			for k, child := range t {
				if s, ok := child.(string); ok && k == "type" {
					t[k] = strings.ToLower(s)
					continue
				}
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(v)
	return v
}

// Compile parses a response schema in either spelling.
func Compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	lowered := Lower(raw)
	if lowered == nil {
		return nil, fmt.Errorf("schema is not valid JSON")
	}
	b, err := json.Marshal(lowered)
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}

// Validate checks that text is a JSON document matching raw.
func Validate(raw json.RawMessage, text string) error {
	s, err := Compile(raw)
	if err != nil {
		return err
	}
	var out any
	dec := json.NewDecoder(strings.NewReader(stripFence(text)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return fmt.Errorf("%w: failed to parse JSON output: %v", ErrInvalidOutput, err)
	}
	if err := s.Validate(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}

// stripFence removes a ```json fence some models wrap around JSON answers.
func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 {
		t = t[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "```"))
}

// Declarations checks that raw is a JSON array of function declarations,
// each with a name.
func Declarations(raw json.RawMessage) error {
	var decls []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &decls); err != nil {
		return fmt.Errorf("function declarations must be a JSON array: %w", err)
	}
	for i, d := range decls {
		if strings.TrimSpace(d.Name) == "" {
			return fmt.Errorf("function declaration %d has no name", i)
		}
	}
	return nil
}
