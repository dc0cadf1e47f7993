package llm

import "github.com/santhosh-tekuri/jsonschema/v5"

// Compiled response schemas. Every structured capability response is
// validated against one of these before any field is trusted.
var (
	VerdictSchema = jsonschema.MustCompileString("verdict.json", `{
		"type": "object",
		"properties": {
			"is_imaging": {"type": "boolean"},
			"modalities": {"type": "array", "items": {"type": "string"}},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"reasons": {"type": "array", "items": {"type": "string"}},
			"counter_signals": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["is_imaging", "confidence"]
	}`)

	TitleSchema = jsonschema.MustCompileString("title.json", `{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1},
			"reasons": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["title", "confidence"]
	}`)

	PageClassSchema = jsonschema.MustCompileString("page_class.json", `{
		"type": "object",
		"properties": {
			"labels": {"type": "array", "items": {"type": "string"}},
			"modalities": {"type": "array", "items": {"type": "string"}},
			"score": {"type": "number", "minimum": 0, "maximum": 1},
			"evidence": {"type": "array", "items": {"type": "string"}}
		},
		"required": ["labels", "score"]
	}`)

	CandidatesSchema = jsonschema.MustCompileString("candidates.json", `{
		"type": "object",
		"properties": {
			"candidates": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"field": {"type": "string"},
						"page": {"type": "integer"},
						"raw_span": {"type": "string"},
						"units": {"type": "string"},
						"evidence": {"type": "string"},
						"confidence": {"type": "number", "minimum": 0, "maximum": 1},
						"notes": {"type": "string"}
					},
					"required": ["field", "raw_span", "evidence"]
				}
			}
		},
		"required": ["candidates"]
	}`)

	AdjudicationSchema = jsonschema.MustCompileString("adjudication.json", `{
		"type": "object",
		"properties": {
			"fields": {
				"type": "object",
				"additionalProperties": {
					"type": "object",
					"properties": {
						"units": {"type": "string"},
						"page": {"type": "integer"},
						"evidence": {"type": "string"},
						"confidence": {"type": "number", "minimum": 0, "maximum": 1},
						"reason": {"type": "string"}
					},
					"required": ["value"]
				}
			}
		},
		"required": ["fields"]
	}`)
)
