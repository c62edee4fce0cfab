// Package extract defines the payload contract between the external
// entity extractor and the graph builder. The core never parses source
// text: it consumes these raw entities and relationships, typically as
// JSON emitted by a language-specific extractor.
package extract

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed extraction.schema.json
var extractionSchema []byte

// Entity kinds accepted from the extractor.
const (
	KindModule    = "module"
	KindClass     = "class"
	KindFunction  = "function"
	KindVariable  = "variable"
	KindParameter = "parameter"
	KindType      = "type"
	KindCallSite  = "callsite"
)

// Relationship kinds accepted from the extractor. "calls" carries the
// textual callee and argument count of a call site; the builder turns it
// into the call site's properties and a RESOLVES_TO edge once resolved.
const (
	RelDeclares     = "declares"
	RelHasParameter = "has_parameter"
	RelHasType      = "has_type"
	RelReturnsType  = "returns_type"
	RelInherits     = "inherits"
	RelImports      = "imports"
	RelAssignsTo    = "assigns_to"
	RelReadsFrom    = "reads_from"
	RelReferences   = "references"
	RelHasCallSite  = "has_callsite"
	RelCalls        = "calls"
	RelIsSubtypeOf  = "is_subtype_of"
	RelHasDecorator = "has_decorator"
)

// Location points at a region of a source file, as reported by the
// extractor. Kept separate from the graph's own Location so the ingest
// contract does not depend on graph internals.
type Location struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// RawEntity is one extracted program entity.
type RawEntity struct {
	ID               string   `json:"id"` // extractor-local, unique within the payload
	Kind             string   `json:"kind"`
	Name             string   `json:"name"`
	QualifiedName    string   `json:"qualified_name,omitempty"`
	Location         Location `json:"location"`
	TypeAnnotation   string   `json:"type_annotation,omitempty"`
	ReturnAnnotation string   `json:"return_annotation,omitempty"`
	Visibility       string   `json:"visibility,omitempty"` // public | private
	Decorators       []string `json:"decorators,omitempty"`
	Position         int      `json:"position,omitempty"` // parameters only
	HasDefault       bool     `json:"has_default,omitempty"`
	Variadic         bool     `json:"variadic,omitempty"`
}

// RawRelationship is one extracted relationship. From always names a
// local entity id; To names a local id, or for calls/imports the textual
// target as written in source.
type RawRelationship struct {
	Kind       string `json:"kind"`
	From       string `json:"from"`
	To         string `json:"to"`
	ArgCount   int    `json:"arg_count,omitempty"`
	AccessKind string `json:"access_kind,omitempty"`
	Alias      string `json:"alias,omitempty"` // imports only
}

// Extraction is the per-module payload.
type Extraction struct {
	Module        string            `json:"module"` // qualified module name
	Entities      []RawEntity       `json:"entities"`
	Relationships []RawRelationship `json:"relationships"`
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.schema.json", bytes.NewReader(extractionSchema)); err != nil {
		panic(fmt.Sprintf("extract: add embedded schema: %v", err))
	}
	schema, err := compiler.Compile("extraction.schema.json")
	if err != nil {
		panic(fmt.Sprintf("extract: compile embedded schema: %v", err))
	}
	return schema
}

// ParseExtraction validates raw JSON against the payload schema and
// decodes it. Schema failures are reported before any graph work starts,
// so a malformed payload can never half-apply.
func ParseExtraction(data []byte) (*Extraction, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("extraction schema validation: %w", err)
	}

	var ex Extraction
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}
	return &ex, nil
}

// LoadExtraction reads and parses an extraction payload from disk.
func LoadExtraction(path string) (*Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extraction %s: %w", path, err)
	}
	return ParseExtraction(data)
}
