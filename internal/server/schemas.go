package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Per-operation input schemas, compiled once at startup. Validation failures
// surface as kind=validation without touching any state.
var schemaSources = map[string]string{
	"memory_resume": `{
		"type": "object",
		"properties": {
			"session_id": {"type": "string"},
			"token_budget": {"type": "integer", "minimum": 1, "maximum": 1000000}
		},
		"additionalProperties": false
	}`,
	"memory_commit": `{
		"type": "object",
		"properties": {
			"session_id": {"type": "string"},
			"task": {"type": "string"},
			"decisions": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"type": {"enum": ["DECISION", "ASSUMPTION", "FIX", "BLOCKER", "NOTE", "TEST_FAIL", "TEST_PASS"]},
						"summary": {"type": "string"},
						"task_id": {"type": "string"},
						"evidence": {"type": "array", "items": {"type": "string"}}
					},
					"required": ["type", "summary"],
					"additionalProperties": false
				}
			},
			"artifacts": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"kind": {"enum": ["DIFF", "SNIPPET", "CONFIG", "FIXTURE", "TEST_TRACE", "LOG", "OTHER"]},
						"uri": {"type": "string"},
						"text": {"type": "string"},
						"path": {"type": "string"},
						"startLine": {"type": "integer", "minimum": 1},
						"endLine": {"type": "integer", "minimum": 1},
						"meta": {"type": "object"}
					},
					"required": ["kind"],
					"additionalProperties": false
				}
			},
			"facts": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"key": {"type": "string", "minLength": 1},
						"value": {"type": "string"},
						"scope": {"enum": ["repo", "service", "team", "global"]}
					},
					"required": ["key", "value"],
					"additionalProperties": false
				}
			}
		},
		"additionalProperties": false
	}`,
	"memory_update": `{
		"type": "object",
		"properties": {
			"target": {"enum": ["task", "artifact", "fact"]},
			"id": {"type": "string", "minLength": 1},
			"title": {"type": "string", "minLength": 1},
			"status": {"enum": ["todo", "doing", "blocked", "done", "review"]},
			"parent_id": {"type": ["string", "null"]},
			"accept_criteria": {"type": ["string", "null"]},
			"kind": {"enum": ["DIFF", "SNIPPET", "CONFIG", "FIXTURE", "TEST_TRACE", "LOG", "OTHER"]},
			"uri": {"type": "string", "minLength": 1},
			"text": {"type": "string"},
			"meta": {"type": "object"},
			"value": {"type": "string"},
			"scope": {"enum": ["repo", "service", "team", "global"]}
		},
		"required": ["target", "id"],
		"additionalProperties": false
	}`,
	"memory_fetch": `{
		"type": "object",
		"properties": {
			"id": {"type": "string", "minLength": 1}
		},
		"required": ["id"],
		"additionalProperties": false
	}`,
	"memory_span": `{
		"type": "object",
		"properties": {
			"path": {"type": "string", "minLength": 1},
			"startLine": {"type": "integer", "minimum": 1},
			"endLine": {"type": "integer", "minimum": 1}
		},
		"required": ["path", "startLine", "endLine"],
		"additionalProperties": false
	}`,
	"memory_search": `{
		"type": "object",
		"properties": {
			"session_id": {"type": "string"},
			"query": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 200}
		},
		"required": ["query"],
		"additionalProperties": false
	}`,
	"memory_checkpoint": `{
		"type": "object",
		"properties": {
			"session_id": {"type": "string"},
			"label": {"type": "string", "minLength": 1}
		},
		"required": ["label"],
		"additionalProperties": false
	}`,
	"resource_read": `{
		"type": "object",
		"properties": {
			"uri": {"type": "string", "minLength": 1}
		},
		"required": ["uri"],
		"additionalProperties": false
	}`,
}

func compileSchemas() (map[string]*jsonschema.Schema, error) {
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for op, src := range schemaSources {
		// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
		// validator requires.
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", op, err)
		}
		c := jsonschema.NewCompiler()
		name := op + ".json"
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", op, err)
		}
		schema, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", op, err)
		}
		out[op] = schema
	}
	return out, nil
}

// validateParams checks raw params against the operation's schema.
func (s *Server) validateParams(op string, raw json.RawMessage) *Error {
	schema, ok := s.schemas[op]
	if !ok {
		return validationError(fmt.Sprintf("unknown method %q", op))
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return validationError(fmt.Sprintf("params are not valid JSON: %s", err))
	}
	if err := schema.Validate(doc); err != nil {
		return validationError(err.Error())
	}
	return nil
}
