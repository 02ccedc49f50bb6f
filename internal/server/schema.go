package server

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// mutationSchema gates the shape of POST bodies before the handler
// inspects them. Field-level rules (valid note, non-empty id) stay in
// the handler where they map to specific error messages.
const mutationSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"page": {"type": "string", "minLength": 1},
		"action": {"enum": ["add", "update", "delete", "clear"]},
		"note": {"type": ["object", "null"]},
		"id": {"type": "string"},
		"text": {"type": "string"},
		"author": {"type": "string"}
	},
	"required": ["page", "action"]
}`

// compileMutationSchema compiles the POST body schema once at startup.
func compileMutationSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(mutationSchema))
	if err != nil {
		return nil, fmt.Errorf("parse mutation schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("mutation.json", doc); err != nil {
		return nil, fmt.Errorf("add mutation schema: %w", err)
	}

	schema, err := compiler.Compile("mutation.json")
	if err != nil {
		return nil, fmt.Errorf("compile mutation schema: %w", err)
	}
	return schema, nil
}
