// Package schemavalidation checks event payloads against embedded JSON
// Schemas before they are appended to the log.
package schemavalidation

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"lyricreel/internal/history"
)

// ErrInvalidPayload is returned when event data does not match its schema.
var ErrInvalidPayload = errors.New("invalid event payload")

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBase = "https://lyricreel.local/schemas/"

// Validator holds compiled schemas keyed by event type.
type Validator struct {
	schemas map[history.EventType]*jsonschema.Schema
}

// New compiles the embedded schemas.
func New() (*Validator, error) {
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, fmt.Errorf("read embedded schemas: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	names := make(map[history.EventType]string, len(entries))

	for _, entry := range entries {
		data, err := schemaFS.ReadFile(path.Join("schemas", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}

		eventType := history.EventType(strings.TrimSuffix(entry.Name(), ".schema.json"))
		if !eventType.IsValid() {
			return nil, fmt.Errorf("schema %s names unknown event type", entry.Name())
		}

		url := schemaBase + entry.Name()
		if err := compiler.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", entry.Name(), err)
		}
		names[eventType] = url
	}

	v := &Validator{schemas: make(map[history.EventType]*jsonschema.Schema, len(names))}
	for eventType, url := range names {
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", eventType, err)
		}
		v.schemas[eventType] = schema
	}

	return v, nil
}

func (v *Validator) covers(eventType history.EventType) bool {
	if v == nil {
		return false
	}
	_, ok := v.schemas[eventType]
	return ok
}

// Validate checks data against the schema for eventType. Types without a
// schema, and a nil Validator, accept any payload.
func (v *Validator) Validate(eventType history.EventType, data map[string]any) error {
	if !v.covers(eventType) {
		return nil
	}
	schema := v.schemas[eventType]

	instance, err := toInstance(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, eventType, err)
	}
	return nil
}

// toInstance converts Go values into the shapes the schema library expects
// from a JSON decoder.
func toInstance(data map[string]any) (any, error) {
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, err
	}
	return instance, nil
}
